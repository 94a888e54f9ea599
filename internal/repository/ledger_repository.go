package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/litforge/bibliography-service/internal/domain"
)

// AdjustParams describes a manual or event-driven balance adjustment.
type AdjustParams struct {
	// UserID identifies the account to adjust.
	UserID uuid.UUID

	// Delta is the signed credit change. Negative deltas may not push the
	// balance below zero.
	Delta int

	// Reason is the ledger reason code (e.g. domain.ReasonAdminAdjustment).
	Reason string

	// IdempotencyKey deduplicates replayed adjustments (optional). A replay
	// returns the current balance without writing a new entry.
	IdempotencyKey string

	// ActorID is the admin who performed the adjustment, recorded in the
	// entry metadata (optional).
	ActorID *uuid.UUID
}

// LedgerRepository manages credit accounts and the append-only credit ledger.
//
// All balance mutations are transactional: the account row is locked, the
// balance updated, and a ledger entry appended as one atomic unit. Debits for
// workflow consumption are idempotent per run.
type LedgerRepository interface {
	// CreateAccount inserts an account row for a new user. Creating an
	// account that already exists is a no-op. When initialCredits is
	// positive and the account was actually created, an initial_grant
	// ledger entry records the starting balance.
	CreateAccount(ctx context.Context, userID uuid.UUID, initialCredits int, unlimited bool) error

	// GetAccount retrieves the account for a user.
	// Returns domain.ErrNotFound if the user has no account row.
	GetAccount(ctx context.Context, userID uuid.UUID) (*domain.Account, error)

	// DebitOnce consumes exactly one credit for a workflow run, keyed by the
	// run's idempotency key. Replays (same key) succeed without a second
	// charge. Unlimited accounts record an info entry with zero units
	// instead of a debit. Returns domain.ErrInsufficientBalance when a
	// limited account has no credits; no entry is written in that case.
	DebitOnce(ctx context.Context, userID, runID uuid.UUID, idempotencyKey string) error

	// AdjustCredits applies a signed balance change and appends the matching
	// ledger entry. The account row is created on first use. Returns the new
	// balance. Returns domain.ErrInvalidInput if the adjustment would make
	// the balance negative.
	AdjustCredits(ctx context.Context, params AdjustParams) (int, error)

	// SetUnlimited toggles the unlimited flag on an account, creating the
	// account row if needed.
	SetUnlimited(ctx context.Context, userID uuid.UUID, unlimited bool) error

	// ListEntries retrieves the most recent ledger entries for a user,
	// newest first. Limit is clamped to [1, 100]; zero means the default
	// of 20.
	ListEntries(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.LedgerEntry, error)
}
