package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/litforge/bibliography-service/internal/observability"
	"github.com/litforge/bibliography-service/internal/repository"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 100
)

// Publisher is the Kafka write surface used by the relay.
// Satisfied by *kafka.Writer.
type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// RelayConfig holds the relay's polling settings.
type RelayConfig struct {
	// PollInterval is how often pending events are fetched.
	PollInterval time.Duration
	// BatchSize caps the rows fetched per tick.
	BatchSize int
}

// Relay polls the outbox table and publishes pending events to Kafka.
// Rows are marked published only after the broker accepted them; a failed
// row stays pending and is retried on the next tick, so consumers must
// tolerate duplicates.
type Relay struct {
	repo      repository.OutboxRepository
	publisher Publisher
	cfg       RelayConfig
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// NewRelay creates a relay. metrics may be nil.
func NewRelay(repo repository.OutboxRepository, publisher Publisher, cfg RelayConfig, metrics *observability.Metrics, logger zerolog.Logger) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Relay{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.With().Str("component", "outbox_relay").Logger(),
	}
}

// Run polls until the context is canceled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info().
		Dur("poll_interval", r.cfg.PollInterval).
		Int("batch_size", r.cfg.BatchSize).
		Msg("starting outbox relay")

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("outbox relay stopped via context cancellation")
			return ctx.Err()
		case <-ticker.C:
			if err := r.tick(ctx); err != nil {
				r.logger.Error().Err(err).Msg("outbox relay tick failed")
			}
		}
	}
}

// tick fetches one batch and publishes it. Events that fail to publish stay
// unmarked; everything that reached the broker is marked in one call.
func (r *Relay) tick(ctx context.Context) error {
	events, err := r.repo.FetchUnpublished(ctx, r.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	published := make([]uuid.UUID, 0, len(events))
	for _, event := range events {
		msg := kafka.Message{
			// Key by aggregate so every event of one run lands on the
			// same partition in order.
			Key:   []byte(event.AggregateID),
			Value: encodeEnvelope(event),
			Headers: []kafka.Header{
				{Key: "event_id", Value: []byte(event.EventID.String())},
				{Key: "event_type", Value: []byte(event.EventType)},
			},
		}
		if err := r.publisher.WriteMessages(ctx, msg); err != nil {
			if r.metrics != nil {
				r.metrics.RecordOutboxPublishFailed()
			}
			r.logger.Error().Err(err).
				Str("event_id", event.EventID.String()).
				Str("event_type", event.EventType).
				Msg("failed to publish outbox event")
			continue
		}
		if r.metrics != nil {
			r.metrics.RecordOutboxPublished(event.EventType)
		}
		published = append(published, event.EventID)
	}

	if len(published) == 0 {
		return nil
	}
	if err := r.repo.MarkPublished(ctx, published); err != nil {
		return err
	}
	r.logger.Debug().Int("count", len(published)).Msg("published outbox events")
	return nil
}

// encodeEnvelope serializes the full event row; the payload is already raw
// JSON so this never fails.
func encodeEnvelope(event interface{}) []byte {
	data, _ := json.Marshal(event)
	return data
}
