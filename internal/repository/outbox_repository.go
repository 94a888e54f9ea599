package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/litforge/bibliography-service/internal/domain"
)

// OutboxRepository defines the interface for outbox event persistence.
// Events are inserted in the same transaction as the state change they
// describe and published asynchronously by the relay.
type OutboxRepository interface {
	// Insert persists a pending event.
	// Returns domain.ErrAlreadyExists if the event ID is already stored.
	Insert(ctx context.Context, event *domain.OutboxEvent) error

	// FetchUnpublished retrieves up to limit pending events in creation
	// order, oldest first.
	FetchUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)

	// MarkPublished stamps the given events as published. Events already
	// marked are left untouched.
	MarkPublished(ctx context.Context, eventIDs []uuid.UUID) error
}
