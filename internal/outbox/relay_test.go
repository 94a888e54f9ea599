package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litforge/bibliography-service/internal/domain"
)

type fakePublisher struct {
	mu       sync.Mutex
	messages []kafka.Message
	failFor  map[string]bool // event_id header values that fail
}

func (f *fakePublisher) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msg := range msgs {
		for _, h := range msg.Headers {
			if h.Key == "event_id" && f.failFor[string(h.Value)] {
				return errors.New("broker unavailable")
			}
		}
		f.messages = append(f.messages, msg)
	}
	return nil
}

func seedEvents(t *testing.T, repo *memOutbox, n int) []*domain.OutboxEvent {
	t.Helper()
	emitter := NewEmitter(repo, "")
	for i := 0; i < n; i++ {
		require.NoError(t, emitter.RunStarted(context.Background(), makeRun()))
	}
	return repo.events
}

func TestRelay_PublishesAndMarks(t *testing.T) {
	repo := &memOutbox{}
	events := seedEvents(t, repo, 3)
	publisher := &fakePublisher{}
	relay := NewRelay(repo, publisher, RelayConfig{}, nil, zerolog.Nop())

	require.NoError(t, relay.tick(context.Background()))

	assert.Len(t, publisher.messages, 3)
	require.Len(t, repo.marked, 1)
	assert.Len(t, repo.marked[0], 3)
	for _, e := range events {
		assert.NotNil(t, e.PublishedAt)
	}

	// Message framing: keyed by aggregate with typed headers.
	msg := publisher.messages[0]
	assert.Equal(t, events[0].AggregateID, string(msg.Key))
	var eventType string
	for _, h := range msg.Headers {
		if h.Key == "event_type" {
			eventType = string(h.Value)
		}
	}
	assert.Equal(t, domain.EventTypeRunStarted, eventType)
}

func TestRelay_FailedRowStaysPending(t *testing.T) {
	repo := &memOutbox{}
	events := seedEvents(t, repo, 3)
	publisher := &fakePublisher{failFor: map[string]bool{
		events[1].EventID.String(): true,
	}}
	relay := NewRelay(repo, publisher, RelayConfig{}, nil, zerolog.Nop())

	require.NoError(t, relay.tick(context.Background()))

	assert.Len(t, publisher.messages, 2)
	assert.Nil(t, events[1].PublishedAt, "failed row must stay pending")
	assert.NotNil(t, events[0].PublishedAt)
	assert.NotNil(t, events[2].PublishedAt)

	// The failed row goes out on the next tick once the broker recovers.
	publisher.failFor = nil
	require.NoError(t, relay.tick(context.Background()))
	assert.NotNil(t, events[1].PublishedAt)
}

func TestRelay_EmptyTickIsQuiet(t *testing.T) {
	repo := &memOutbox{}
	publisher := &fakePublisher{}
	relay := NewRelay(repo, publisher, RelayConfig{}, nil, zerolog.Nop())

	require.NoError(t, relay.tick(context.Background()))
	assert.Empty(t, publisher.messages)
	assert.Empty(t, repo.marked)
}

func TestRelay_RespectsBatchSize(t *testing.T) {
	repo := &memOutbox{}
	seedEvents(t, repo, 5)
	publisher := &fakePublisher{}
	relay := NewRelay(repo, publisher, RelayConfig{BatchSize: 2}, nil, zerolog.Nop())

	require.NoError(t, relay.tick(context.Background()))
	assert.Len(t, publisher.messages, 2)
}

func TestRelay_RunStopsOnContextCancel(t *testing.T) {
	repo := &memOutbox{}
	relay := NewRelay(repo, &fakePublisher{}, RelayConfig{PollInterval: 5 * time.Millisecond}, nil, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := relay.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
