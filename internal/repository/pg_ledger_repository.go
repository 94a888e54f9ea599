package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/litforge/bibliography-service/internal/domain"
)

// Ledger listing defaults and limits.
const (
	defaultLedgerListLimit = 20
	maxLedgerListLimit     = 100
)

// Compile-time interface verification.
var _ LedgerRepository = (*PgLedgerRepository)(nil)

// PgLedgerRepository is a PostgreSQL implementation of LedgerRepository.
type PgLedgerRepository struct {
	db DBTX
}

// NewPgLedgerRepository creates a new PostgreSQL ledger repository.
func NewPgLedgerRepository(db DBTX) *PgLedgerRepository {
	return &PgLedgerRepository{db: db}
}

// CreateAccount inserts an account row for a new user and records the
// initial grant. The row and its grant entry commit together: an account
// must never exist with a balance its ledger cannot explain.
func (r *PgLedgerRepository) CreateAccount(ctx context.Context, userID uuid.UUID, initialCredits int, unlimited bool) error {
	if userID == uuid.Nil {
		return domain.NewValidationError("user_id", "user ID is required")
	}
	if initialCredits < 0 {
		return domain.NewValidationError("initial_credits", "initial credits must not be negative")
	}

	if beginner, ok := r.db.(txBeginner); ok {
		tx, err := beginner.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for account creation: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		txRepo := &PgLedgerRepository{db: tx}
		if err := txRepo.createAccountInTx(ctx, userID, initialCredits, unlimited); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	return r.createAccountInTx(ctx, userID, initialCredits, unlimited)
}

// createAccountInTx inserts the account row and, when this call created it,
// the initial-grant entry within the current transaction.
func (r *PgLedgerRepository) createAccountInTx(ctx context.Context, userID uuid.UUID, initialCredits int, unlimited bool) error {
	query := `
		INSERT INTO accounts (user_id, credits_balance, credits_unlimited, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING`

	result, err := r.db.Exec(ctx, query, userID, initialCredits, unlimited, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	// Record the starting balance only when this call actually created the
	// account; replays must not grant again.
	if result.RowsAffected() == 0 || initialCredits == 0 {
		return nil
	}

	if err := r.insertEntry(ctx, &domain.LedgerEntry{
		ID:        uuid.New(),
		UserID:    userID,
		EntryType: domain.EntryTypeCredit,
		Units:     initialCredits,
		Reason:    domain.ReasonInitialGrant,
	}); err != nil {
		return fmt.Errorf("failed to record initial grant: %w", err)
	}

	return nil
}

// GetAccount retrieves the account for a user.
func (r *PgLedgerRepository) GetAccount(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	query := `
		SELECT user_id, credits_balance, credits_unlimited, updated_at
		FROM accounts
		WHERE user_id = $1`

	var account domain.Account
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&account.UserID, &account.CreditsBalance, &account.CreditsUnlimited, &account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("account", userID.String())
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &account, nil
}

// DebitOnce consumes exactly one credit for a workflow run.
//
// Transaction Management:
// The check-and-decrement requires a row lock on the account, so the method
// runs inside a transaction. If the underlying DBTX is a connection pool the
// transaction is opened here; if it is already a transaction the work joins
// it.
func (r *PgLedgerRepository) DebitOnce(ctx context.Context, userID, runID uuid.UUID, idempotencyKey string) error {
	if idempotencyKey == "" {
		return domain.NewValidationError("idempotency_key", "idempotency key is required")
	}

	if beginner, ok := r.db.(txBeginner); ok {
		tx, err := beginner.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for debit: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		txRepo := &PgLedgerRepository{db: tx}
		if err := txRepo.debitOnceInTx(ctx, userID, runID, idempotencyKey); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	return r.debitOnceInTx(ctx, userID, runID, idempotencyKey)
}

// debitOnceInTx performs the idempotency check, balance check, entry insert,
// and decrement within the current transaction.
func (r *PgLedgerRepository) debitOnceInTx(ctx context.Context, userID, runID uuid.UUID, idempotencyKey string) error {
	// Fast path: a committed entry with this key means the run was already
	// charged.
	replayed, err := r.entryExists(ctx, idempotencyKey)
	if err != nil {
		return err
	}
	if replayed {
		return nil
	}

	balance, unlimited, err := r.lockAccount(ctx, userID)
	if err != nil {
		return err
	}

	// Re-check under the row lock: a concurrent debit for the same run may
	// have committed (and decremented the balance) while we waited on the
	// lock. Without this a replay on a now-empty account would surface as
	// insufficient balance.
	replayed, err = r.entryExists(ctx, idempotencyKey)
	if err != nil {
		return err
	}
	if replayed {
		return nil
	}

	entry := &domain.LedgerEntry{
		ID:             uuid.New(),
		UserID:         userID,
		RunID:          &runID,
		Reason:         domain.ReasonWorkflowConsumption,
		IdempotencyKey: idempotencyKey,
	}

	if unlimited {
		// Unlimited accounts are never decremented; the info entry keeps the
		// consumption visible in the ledger.
		entry.EntryType = domain.EntryTypeInfo
		entry.Units = 0
		_, err := r.insertEntryIdempotent(ctx, entry)
		return err
	}

	if balance < 1 {
		return domain.ErrInsufficientBalance
	}

	// Insert before decrementing. If the unique key (or the per-run partial
	// index) reports a conflict the run was already charged, and skipping
	// the decrement here is what keeps the replay from double-charging.
	entry.EntryType = domain.EntryTypeDebit
	entry.Units = 1
	inserted, err := r.insertEntryIdempotent(ctx, entry)
	if err != nil || !inserted {
		return err
	}

	updateQuery := `
		UPDATE accounts
		SET credits_balance = credits_balance - 1, updated_at = $1
		WHERE user_id = $2`
	if _, err := r.db.Exec(ctx, updateQuery, time.Now().UTC(), userID); err != nil {
		return fmt.Errorf("failed to decrement balance: %w", err)
	}

	return nil
}

// AdjustCredits applies a signed balance change and appends the matching entry.
func (r *PgLedgerRepository) AdjustCredits(ctx context.Context, params AdjustParams) (int, error) {
	if params.UserID == uuid.Nil {
		return 0, domain.NewValidationError("user_id", "user ID is required")
	}
	if params.Reason == "" {
		params.Reason = domain.ReasonAdminAdjustment
	}

	if beginner, ok := r.db.(txBeginner); ok {
		tx, err := beginner.Begin(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to begin transaction for adjustment: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		txRepo := &PgLedgerRepository{db: tx}
		balance, err := txRepo.adjustCreditsInTx(ctx, params)
		if err != nil {
			return 0, err
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, fmt.Errorf("failed to commit adjustment: %w", err)
		}
		return balance, nil
	}

	return r.adjustCreditsInTx(ctx, params)
}

// adjustCreditsInTx performs the balance change within the current transaction.
func (r *PgLedgerRepository) adjustCreditsInTx(ctx context.Context, params AdjustParams) (int, error) {
	if err := r.ensureAccountRow(ctx, params.UserID); err != nil {
		return 0, err
	}

	balance, _, err := r.lockAccount(ctx, params.UserID)
	if err != nil {
		return 0, err
	}

	if params.IdempotencyKey != "" {
		replayed, err := r.entryExists(ctx, params.IdempotencyKey)
		if err != nil {
			return 0, err
		}
		if replayed {
			return balance, nil
		}
	}

	newBalance := balance + params.Delta
	if newBalance < 0 {
		return 0, domain.NewValidationError("delta", "adjustment would make the balance negative")
	}

	entry := &domain.LedgerEntry{
		ID:             uuid.New(),
		UserID:         params.UserID,
		EntryType:      domain.EntryTypeCredit,
		Units:          params.Delta,
		Reason:         params.Reason,
		IdempotencyKey: params.IdempotencyKey,
	}
	if params.Delta < 0 {
		entry.EntryType = domain.EntryTypeDebit
		entry.Units = -params.Delta
	}
	if params.ActorID != nil {
		entry.Metadata = map[string]interface{}{"actor_user_id": params.ActorID.String()}
	}

	// Insert before updating; a conflict on the idempotency key means a
	// concurrent replay already applied this adjustment.
	inserted, err := r.insertEntryIdempotent(ctx, entry)
	if err != nil {
		return 0, err
	}
	if !inserted {
		return balance, nil
	}

	updateQuery := `
		UPDATE accounts
		SET credits_balance = $1, updated_at = $2
		WHERE user_id = $3`
	if _, err := r.db.Exec(ctx, updateQuery, newBalance, time.Now().UTC(), params.UserID); err != nil {
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}

	return newBalance, nil
}

// SetUnlimited toggles the unlimited flag on an account.
func (r *PgLedgerRepository) SetUnlimited(ctx context.Context, userID uuid.UUID, unlimited bool) error {
	if err := r.ensureAccountRow(ctx, userID); err != nil {
		return err
	}

	query := `
		UPDATE accounts
		SET credits_unlimited = $1, updated_at = $2
		WHERE user_id = $3`
	if _, err := r.db.Exec(ctx, query, unlimited, time.Now().UTC(), userID); err != nil {
		return fmt.Errorf("failed to set unlimited flag: %w", err)
	}

	return nil
}

// ListEntries retrieves the most recent ledger entries for a user.
func (r *PgLedgerRepository) ListEntries(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = defaultLedgerListLimit
	}
	if limit > maxLedgerListLimit {
		limit = maxLedgerListLimit
	}

	query := `
		SELECT id, user_id, workflow_run_id, entry_type, units, reason,
			idempotency_key, metadata, created_at
		FROM credit_ledger
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*domain.LedgerEntry, 0, limit)
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}

	return entries, nil
}

// ensureAccountRow creates a zero-balance account row if none exists.
func (r *PgLedgerRepository) ensureAccountRow(ctx context.Context, userID uuid.UUID) error {
	query := `
		INSERT INTO accounts (user_id, credits_balance, credits_unlimited, updated_at)
		VALUES ($1, 0, FALSE, $2)
		ON CONFLICT (user_id) DO NOTHING`
	if _, err := r.db.Exec(ctx, query, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to ensure account row: %w", err)
	}
	return nil
}

// lockAccount reads the account row under FOR UPDATE, serializing concurrent
// balance mutations for the same user.
func (r *PgLedgerRepository) lockAccount(ctx context.Context, userID uuid.UUID) (balance int, unlimited bool, err error) {
	query := `
		SELECT credits_balance, credits_unlimited
		FROM accounts
		WHERE user_id = $1
		FOR UPDATE`

	err = r.db.QueryRow(ctx, query, userID).Scan(&balance, &unlimited)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// No account row means no credits.
			return 0, false, domain.ErrInsufficientBalance
		}
		return 0, false, fmt.Errorf("failed to lock account: %w", err)
	}

	return balance, unlimited, nil
}

// entryExists reports whether a ledger entry with the given idempotency key exists.
func (r *PgLedgerRepository) entryExists(ctx context.Context, idempotencyKey string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM credit_ledger WHERE idempotency_key = $1)",
		idempotencyKey,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return exists, nil
}

// insertEntry appends a ledger entry.
func (r *PgLedgerRepository) insertEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	metadataJSON, createdAt, err := entryColumns(entry)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO credit_ledger (
			id, user_id, workflow_run_id, entry_type, units, reason,
			idempotency_key, metadata, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9
		)`

	_, err = r.db.Exec(ctx, query,
		entry.ID, entry.UserID, entry.RunID, entry.EntryType, entry.Units, entry.Reason,
		nullString(entry.IdempotencyKey), metadataJSON, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	return nil
}

// insertEntryIdempotent appends a ledger entry, treating a conflict on the
// idempotency key (or the per-run partial index) as a completed replay.
// ON CONFLICT keeps the surrounding transaction usable, which a swallowed
// unique-violation error would not. Returns whether a row was written.
func (r *PgLedgerRepository) insertEntryIdempotent(ctx context.Context, entry *domain.LedgerEntry) (bool, error) {
	metadataJSON, createdAt, err := entryColumns(entry)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO credit_ledger (
			id, user_id, workflow_run_id, entry_type, units, reason,
			idempotency_key, metadata, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9
		)
		ON CONFLICT DO NOTHING`

	result, err := r.db.Exec(ctx, query,
		entry.ID, entry.UserID, entry.RunID, entry.EntryType, entry.Units, entry.Reason,
		nullString(entry.IdempotencyKey), metadataJSON, createdAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// entryColumns prepares the JSONB and timestamp columns for an entry insert.
func entryColumns(entry *domain.LedgerEntry) ([]byte, time.Time, error) {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("failed to marshal entry metadata: %w", err)
		}
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	return metadataJSON, entry.CreatedAt, nil
}

// scanLedgerEntry scans the current row from pgx.Rows into a LedgerEntry.
func scanLedgerEntry(rows pgx.Rows) (*domain.LedgerEntry, error) {
	var (
		entry          domain.LedgerEntry
		idempotencyKey *string
		metadataJSON   []byte
	)

	err := rows.Scan(
		&entry.ID, &entry.UserID, &entry.RunID, &entry.EntryType, &entry.Units, &entry.Reason,
		&idempotencyKey, &metadataJSON, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if idempotencyKey != nil {
		entry.IdempotencyKey = *idempotencyKey
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry metadata: %w", err)
		}
	}

	return &entry, nil
}
