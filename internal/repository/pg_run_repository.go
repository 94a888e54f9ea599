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

// maxErrorMessageLen bounds the persisted error message for a failed run.
const maxErrorMessageLen = 500

// Run listing defaults and limits.
const (
	defaultRunListLimit = 20
	maxRunListLimit     = 100
)

// Compile-time interface verification.
var _ RunRepository = (*PgRunRepository)(nil)

// PgRunRepository is a PostgreSQL implementation of RunRepository.
type PgRunRepository struct {
	db DBTX
}

// NewPgRunRepository creates a new PostgreSQL run repository.
func NewPgRunRepository(db DBTX) *PgRunRepository {
	return &PgRunRepository{db: db}
}

// Create inserts a new workflow run with status running.
func (r *PgRunRepository) Create(ctx context.Context, run *domain.Run) error {
	if run == nil {
		return domain.NewValidationError("run", "run cannot be nil")
	}
	if run.ID == uuid.Nil {
		return domain.NewValidationError("id", "run ID is required")
	}
	if run.UserID == uuid.Nil {
		return domain.NewValidationError("user_id", "user ID is required")
	}

	configJSON, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal run config: %w", err)
	}

	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.Status == "" {
		run.Status = domain.RunStatusRunning
	}
	// Runs start executing the moment they are created.
	if run.StartedAt == nil && run.Status == domain.RunStatusRunning {
		startedAt := run.CreatedAt
		run.StartedAt = &startedAt
	}

	query := `
		INSERT INTO workflow_runs (
			id, user_id, status, input_hash, config,
			error_message, created_at, started_at, finished_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)`

	_, err = r.db.Exec(ctx, query,
		run.ID, run.UserID, run.Status, run.InputHash, configJSON,
		run.ErrorMessage, run.CreatedAt, run.StartedAt, run.FinishedAt,
	)

	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("run", run.ID.String())
		}
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// Get retrieves a workflow run by its ID.
func (r *PgRunRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `
		SELECT id, user_id, status, input_hash, config,
			error_message, created_at, started_at, finished_at
		FROM workflow_runs
		WHERE id = $1`

	row := r.db.QueryRow(ctx, query, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("run", id.String())
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// Finish transitions a running run to a terminal status exactly once.
func (r *PgRunRepository) Finish(ctx context.Context, id uuid.UUID, status domain.RunStatus, errorMessage string) error {
	if !status.IsTerminal() {
		return domain.NewValidationError("status", fmt.Sprintf("%q is not a terminal status", status))
	}
	if len(errorMessage) > maxErrorMessageLen {
		errorMessage = errorMessage[:maxErrorMessageLen]
	}

	query := `
		UPDATE workflow_runs
		SET status = $1, error_message = $2, finished_at = $3
		WHERE id = $4 AND status = $5`

	result, err := r.db.Exec(ctx, query,
		status, errorMessage, time.Now().UTC(), id, domain.RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Either the run does not exist or it was already finished. An
		// already-terminal run makes Finish a no-op.
		existing, getErr := r.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		if existing.Status.IsTerminal() {
			return nil
		}
		return fmt.Errorf("run %s could not be finished from status %s", id, existing.Status)
	}

	return nil
}

// ListByUser retrieves the most recent runs for a user, newest first.
func (r *PgRunRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = defaultRunListLimit
	}
	if limit > maxRunListLimit {
		limit = maxRunListLimit
	}

	query := `
		SELECT id, user_id, status, input_hash, config,
			error_message, created_at, started_at, finished_at
		FROM workflow_runs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*domain.Run, 0, limit)
	for rows.Next() {
		run, err := scanRunFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// runScanDest holds the destination pointers for scanning a workflow run row.
// This eliminates code duplication between pgx.Row and pgx.Rows scanning.
type runScanDest struct {
	run        domain.Run
	configJSON []byte
}

// destinations returns the slice of pointers for Scan operations.
func (d *runScanDest) destinations() []interface{} {
	return []interface{}{
		&d.run.ID, &d.run.UserID, &d.run.Status, &d.run.InputHash, &d.configJSON,
		&d.run.ErrorMessage, &d.run.CreatedAt, &d.run.StartedAt, &d.run.FinishedAt,
	}
}

// finalize performs post-scan processing: unmarshals the config snapshot.
func (d *runScanDest) finalize() (*domain.Run, error) {
	if len(d.configJSON) > 0 {
		if err := json.Unmarshal(d.configJSON, &d.run.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run config: %w", err)
		}
	}
	return &d.run, nil
}

// scanRun scans a single row into a Run.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var dest runScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// scanRunFromRows scans the current row from pgx.Rows into a Run.
func scanRunFromRows(rows pgx.Rows) (*domain.Run, error) {
	var dest runScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}
