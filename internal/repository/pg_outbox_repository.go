package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/litforge/bibliography-service/internal/domain"
)

// Default and maximum batch sizes for relay fetches.
const (
	defaultOutboxFetchLimit = 100
	maxOutboxFetchLimit     = 1000
)

// Compile-time interface verification.
var _ OutboxRepository = (*PgOutboxRepository)(nil)

// PgOutboxRepository is a PostgreSQL implementation of OutboxRepository.
type PgOutboxRepository struct {
	db DBTX
}

// NewPgOutboxRepository creates a new PostgreSQL outbox repository.
func NewPgOutboxRepository(db DBTX) *PgOutboxRepository {
	return &PgOutboxRepository{db: db}
}

// Insert persists a pending event.
func (r *PgOutboxRepository) Insert(ctx context.Context, event *domain.OutboxEvent) error {
	if event == nil {
		return domain.NewValidationError("event", "event cannot be nil")
	}
	if event.EventID == uuid.Nil {
		return domain.NewValidationError("event_id", "event ID is required")
	}
	if event.EventType == "" {
		return domain.NewValidationError("event_type", "event type is required")
	}
	if len(event.Payload) == 0 {
		return domain.NewValidationError("payload", "payload is required")
	}

	if event.EventVersion == 0 {
		event.EventVersion = 1
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var metadataJSON []byte
	if event.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal event metadata: %w", err)
		}
	}

	query := `
		INSERT INTO outbox_events (event_id, event_version, aggregate_id, aggregate_type, event_type, payload, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		event.EventID, event.EventVersion, event.AggregateID, event.AggregateType,
		event.EventType, event.Payload, metadataJSON, event.CreatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("outbox event", event.EventID.String())
		}
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	return nil
}

// FetchUnpublished retrieves up to limit pending events, oldest first.
func (r *PgOutboxRepository) FetchUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = defaultOutboxFetchLimit
	}
	if limit > maxOutboxFetchLimit {
		limit = maxOutboxFetchLimit
	}

	query := `
		SELECT event_id, event_version, aggregate_id, aggregate_type, event_type, payload, metadata, created_at, published_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unpublished events: %w", err)
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var (
			event        domain.OutboxEvent
			metadataJSON []byte
		)
		err := rows.Scan(
			&event.EventID, &event.EventVersion, &event.AggregateID, &event.AggregateType,
			&event.EventType, &event.Payload, &metadataJSON, &event.CreatedAt, &event.PublishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event metadata: %w", err)
			}
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox events: %w", err)
	}

	return events, nil
}

// MarkPublished stamps the given events as published.
func (r *PgOutboxRepository) MarkPublished(ctx context.Context, eventIDs []uuid.UUID) error {
	if len(eventIDs) == 0 {
		return nil
	}

	query := `
		UPDATE outbox_events
		SET published_at = $1
		WHERE event_id = ANY($2) AND published_at IS NULL`

	_, err := r.db.Exec(ctx, query, time.Now().UTC(), eventIDs)
	if err != nil {
		return fmt.Errorf("failed to mark events published: %w", err)
	}

	return nil
}
