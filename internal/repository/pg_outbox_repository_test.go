package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litforge/bibliography-service/internal/domain"
)

// Helper to create a valid outbox event for testing.
func newTestOutboxEvent(t *testing.T) *domain.OutboxEvent {
	t.Helper()
	runID := uuid.New()
	event, err := domain.NewOutboxEvent(runID.String(), domain.AggregateTypeRun, domain.EventTypeRunStarted,
		domain.RunStartedPayload{
			RunID:          runID,
			UserID:         uuid.New(),
			Source:         "pubmed",
			DirectionCount: 3,
		})
	require.NoError(t, err)
	return event
}

func TestPgOutboxRepository_Insert(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts event successfully", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgOutboxRepository(mock)
		event := newTestOutboxEvent(t)

		mock.ExpectExec("INSERT INTO outbox_events").
			WithArgs(
				event.EventID, event.EventVersion, event.AggregateID, event.AggregateType,
				event.EventType, event.Payload, pgxmock.AnyArg(), event.CreatedAt,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err = repo.Insert(ctx, event)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("defaults version and created_at", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgOutboxRepository(mock)
		event := &domain.OutboxEvent{
			EventID:   uuid.New(),
			EventType: domain.EventTypeRunFailed,
			Payload:   json.RawMessage(`{}`),
		}

		mock.ExpectExec("INSERT INTO outbox_events").
			WithArgs(
				event.EventID, 1, "", "",
				event.EventType, event.Payload, pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err = repo.Insert(ctx, event)
		require.NoError(t, err)
		assert.Equal(t, 1, event.EventVersion)
		assert.False(t, event.CreatedAt.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns validation error for nil event", func(t *testing.T) {
		repo := NewPgOutboxRepository(nil)

		err := repo.Insert(ctx, nil)

		var validationErr *domain.ValidationError
		assert.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "event", validationErr.Field)
	})

	t.Run("returns validation error for missing event ID", func(t *testing.T) {
		repo := NewPgOutboxRepository(nil)
		event := newTestOutboxEvent(t)
		event.EventID = uuid.Nil

		err := repo.Insert(ctx, event)

		var validationErr *domain.ValidationError
		assert.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "event_id", validationErr.Field)
	})

	t.Run("returns validation error for empty payload", func(t *testing.T) {
		repo := NewPgOutboxRepository(nil)
		event := newTestOutboxEvent(t)
		event.Payload = nil

		err := repo.Insert(ctx, event)

		var validationErr *domain.ValidationError
		assert.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "payload", validationErr.Field)
	})

	t.Run("returns already exists error on duplicate", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgOutboxRepository(mock)
		event := newTestOutboxEvent(t)

		// Simulate unique constraint violation
		pgErr := &pgconn.PgError{Code: "23505"}
		mock.ExpectExec("INSERT INTO outbox_events").
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnError(pgErr)

		err = repo.Insert(ctx, event)

		assert.True(t, errors.Is(err, domain.ErrAlreadyExists))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgOutboxRepository_FetchUnpublished(t *testing.T) {
	ctx := context.Background()

	outboxColumns := []string{
		"event_id", "event_version", "aggregate_id", "aggregate_type",
		"event_type", "payload", "metadata", "created_at", "published_at",
	}

	t.Run("returns pending events oldest first", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgOutboxRepository(mock)
		older := newTestOutboxEvent(t)
		older.CreatedAt = older.CreatedAt.Add(-time.Hour)
		newer := newTestOutboxEvent(t)
		metadataJSON, _ := json.Marshal(map[string]string{"correlation_id": "abc-123"})

		rows := pgxmock.NewRows(outboxColumns).
			AddRow(
				older.EventID, older.EventVersion, older.AggregateID, older.AggregateType,
				older.EventType, []byte(older.Payload), metadataJSON, older.CreatedAt, nil,
			).
			AddRow(
				newer.EventID, newer.EventVersion, newer.AggregateID, newer.AggregateType,
				newer.EventType, []byte(newer.Payload), nil, newer.CreatedAt, nil,
			)

		mock.ExpectQuery("SELECT .* FROM outbox_events WHERE published_at IS NULL ORDER BY created_at LIMIT \\$1").
			WithArgs(50).
			WillReturnRows(rows)

		events, err := repo.FetchUnpublished(ctx, 50)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, older.EventID, events[0].EventID)
		assert.Equal(t, "abc-123", events[0].Metadata["correlation_id"])
		assert.Equal(t, newer.EventID, events[1].EventID)
		assert.Nil(t, events[1].Metadata)
		assert.Nil(t, events[1].PublishedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("defaults limit when zero", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgOutboxRepository(mock)

		mock.ExpectQuery("SELECT .* FROM outbox_events WHERE published_at IS NULL").
			WithArgs(defaultOutboxFetchLimit).
			WillReturnRows(pgxmock.NewRows(outboxColumns))

		events, err := repo.FetchUnpublished(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, events)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("clamps limit to maximum", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgOutboxRepository(mock)

		mock.ExpectQuery("SELECT .* FROM outbox_events WHERE published_at IS NULL").
			WithArgs(maxOutboxFetchLimit).
			WillReturnRows(pgxmock.NewRows(outboxColumns))

		events, err := repo.FetchUnpublished(ctx, 50000)
		require.NoError(t, err)
		assert.Empty(t, events)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgOutboxRepository_MarkPublished(t *testing.T) {
	ctx := context.Background()

	t.Run("marks events published", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgOutboxRepository(mock)
		ids := []uuid.UUID{uuid.New(), uuid.New()}

		mock.ExpectExec("UPDATE outbox_events SET published_at = \\$1 WHERE event_id = ANY\\(\\$2\\) AND published_at IS NULL").
			WithArgs(pgxmock.AnyArg(), ids).
			WillReturnResult(pgxmock.NewResult("UPDATE", 2))

		err = repo.MarkPublished(ctx, ids)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("is a no-op for empty input", func(t *testing.T) {
		repo := NewPgOutboxRepository(nil)

		err := repo.MarkPublished(ctx, nil)
		assert.NoError(t, err)
	})
}
