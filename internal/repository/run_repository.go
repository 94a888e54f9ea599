package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/litforge/bibliography-service/internal/domain"
)

// RunRepository handles workflow run persistence and lifecycle management.
type RunRepository interface {
	// Create inserts a new workflow run with status running.
	// The run must have a valid ID and UserID; started_at is set to the
	// creation time because runs begin executing immediately.
	// Returns domain.ErrAlreadyExists if a run with the same ID already exists.
	// Returns domain.ErrInvalidInput if required fields are missing.
	Create(ctx context.Context, run *domain.Run) error

	// Get retrieves a workflow run by its ID.
	// Returns domain.ErrNotFound if no matching run exists.
	Get(ctx context.Context, id uuid.UUID) (*domain.Run, error)

	// Finish transitions a running run to a terminal status exactly once.
	// The error message is truncated to 500 characters before persisting.
	// Finishing an already-terminal run is a no-op so orchestrator retries
	// stay harmless. Returns domain.ErrNotFound if no matching run exists,
	// domain.ErrInvalidInput if the target status is not terminal.
	Finish(ctx context.Context, id uuid.UUID, status domain.RunStatus, errorMessage string) error

	// ListByUser retrieves the most recent runs for a user, newest first.
	// Limit is clamped to [1, 100]; zero means the default of 20.
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Run, error)
}
