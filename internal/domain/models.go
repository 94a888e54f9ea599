// Package domain provides domain models and business logic for the Bibliography Workflow Service.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle states of a workflow run.
// These values must match the database check constraint on workflow_runs.status.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal returns true if the status represents a final state that will not change.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed:
		return true
	default:
		return false
	}
}

// Run identifies one end-to-end workflow invocation. It is created once
// extraction succeeds and mutated only by the orchestrator on completion.
type Run struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Status       RunStatus
	InputHash    string
	Config       RunConfig
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// Duration returns the wall-clock duration of a finished run, or zero when
// the run has not finished.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// RunConfig is the configuration snapshot persisted with each run.
type RunConfig struct {
	Source                 string   `json:"source"`
	Years                  int      `json:"years"`
	DirectionProvider      string   `json:"direction_ai_provider"`
	QueryProvider          string   `json:"query_ai_provider"`
	SummaryProvider        string   `json:"summary_ai_provider"`
	DirectionCount         int      `json:"direction_count,omitempty"`
	MaxResultsPerDirection int      `json:"max_results_per_direction"`
	SearchConcurrency      int      `json:"search_concurrency"`
	Directions             []string `json:"directions"`
}

// ProviderConfig selects and configures one AI provider for one role
// (direction extraction, query generation, or summarization). Credentials are
// resolved at call time and never serialized into run snapshots.
type ProviderConfig struct {
	Provider    string  `json:"provider"`
	APIKey      string  `json:"-"`
	BaseURL     string  `json:"base_url,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature"`
}

// StepStatus is the outcome attached to a single status log entry.
type StepStatus string

const (
	StatusRunning StepStatus = "running"
	StatusSuccess StepStatus = "success"
	StatusError   StepStatus = "error"
)

// StatusEntry is one progress event: a named step, its status, and a
// human-readable detail string.
type StatusEntry struct {
	Step   string     `json:"step"`
	Status StepStatus `json:"status"`
	Detail string     `json:"detail"`
}

// Status builds a StatusEntry.
func Status(step string, status StepStatus, detail string) StatusEntry {
	return StatusEntry{Step: step, Status: status, Detail: detail}
}

// Prefixed returns a copy of the entry with its step labeled by the owning
// direction, e.g. "[cardiac imaging] searching".
func (e StatusEntry) Prefixed(direction string) StatusEntry {
	return StatusEntry{
		Step:   fmt.Sprintf("[%s] %s", direction, e.Step),
		Status: e.Status,
		Detail: e.Detail,
	}
}

// PrefixStatus labels every entry with the owning direction.
func PrefixStatus(direction string, entries []StatusEntry) []StatusEntry {
	out := make([]StatusEntry, len(entries))
	for i, entry := range entries {
		out[i] = entry.Prefixed(direction)
	}
	return out
}

// DirectionDetail is the terminal outcome of one direction pipeline. It is
// written exactly once by its pipeline and read by the orchestrator during
// fan-in.
type DirectionDetail struct {
	Direction  string        `json:"direction"`
	Query      string        `json:"query"`
	Message    string        `json:"message"`
	Error      string        `json:"error,omitempty"`
	RetryCount int           `json:"retry_count"`
	Count      int           `json:"count"`
	Articles   []Article     `json:"articles,omitempty"`
	BibTeX     string        `json:"bibtex_text,omitempty"`
	StatusLog  []StatusEntry `json:"status_log"`
}

// User is an account holder.
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
}

// Account carries the usable credit balance for a user. An unlimited account
// bypasses debiting entirely.
type Account struct {
	UserID           uuid.UUID
	CreditsBalance   int
	CreditsUnlimited bool
	UpdatedAt        time.Time
}

// UserWithAccount is the joined user/account view used by admin listings.
// Users without an account row report a zero balance.
type UserWithAccount struct {
	User
	CreditsBalance   int
	CreditsUnlimited bool
}

// EntryType classifies a ledger entry.
// These values must match the database check constraint on credit_ledger.entry_type.
type EntryType string

const (
	EntryTypeDebit  EntryType = "debit"
	EntryTypeCredit EntryType = "credit"
	EntryTypeInfo   EntryType = "info"
)

// Ledger reason codes.
const (
	ReasonWorkflowConsumption = "workflow_consumption"
	ReasonInitialGrant        = "initial_grant"
	ReasonAdminAdjustment     = "admin_adjustment"
	ReasonCreditGrant         = "credit_grant"
)

// LedgerEntry is an immutable record of one balance change.
type LedgerEntry struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	RunID          *uuid.UUID
	EntryType      EntryType
	Units          int
	Reason         string
	IdempotencyKey string
	Metadata       map[string]interface{}
	CreatedAt      time.Time
}

// WorkflowIdempotencyKey derives the billing idempotency key for a run.
// The key is deterministic so retrying the outer call with the same run id
// can never double-charge.
func WorkflowIdempotencyKey(runID uuid.UUID) string {
	return fmt.Sprintf("workflow:%s:consume", runID)
}
