package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/litforge/bibliography-service/internal/domain"
)

// UserRepository manages user identities.
type UserRepository interface {
	// Create inserts a new user. The email must already be normalized to
	// lowercase by the caller.
	// Returns domain.ErrAlreadyExists if the email is taken.
	// Returns domain.ErrInvalidInput if required fields are missing.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by ID.
	// Returns domain.ErrNotFound if no matching user exists.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)

	// GetByEmail retrieves a user by their lowercase email.
	// Returns domain.ErrNotFound if no matching user exists.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// SetAdmin toggles the admin flag on a user.
	// Returns domain.ErrNotFound if no matching user exists.
	SetAdmin(ctx context.Context, id uuid.UUID, isAdmin bool) error

	// ListWithAccounts retrieves all users joined with their account
	// balances, newest first. Users without an account row report a zero
	// balance.
	ListWithAccounts(ctx context.Context) ([]*domain.UserWithAccount, error)
}
