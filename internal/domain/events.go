package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types published through the outbox.
const (
	EventTypeRunStarted   = "run.started"
	EventTypeRunSucceeded = "run.succeeded"
	EventTypeRunFailed    = "run.failed"

	// EventTypeCreditGranted is consumed, not published: the billing topic
	// carries grants issued by external systems (purchases, promotions).
	EventTypeCreditGranted = "credit.granted"
)

// Aggregate types for outbox events.
const (
	AggregateTypeRun = "workflow_run"
)

// OutboxEvent is a pending integration event persisted in the same
// transaction as the state change it describes. A relay publishes rows to
// Kafka and marks them afterwards, so delivery is at-least-once.
type OutboxEvent struct {
	EventID       uuid.UUID         `json:"event_id"`
	EventVersion  int               `json:"event_version"`
	AggregateID   string            `json:"aggregate_id"`
	AggregateType string            `json:"aggregate_type"`
	EventType     string            `json:"event_type"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	PublishedAt   *time.Time        `json:"published_at,omitempty"`
}

// NewOutboxEvent constructs an event envelope with a marshaled payload.
func NewOutboxEvent(aggregateID, aggregateType, eventType string, payload interface{}) (*OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &OutboxEvent{
		EventID:       uuid.New(),
		EventVersion:  1,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       data,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// WithMetadata attaches metadata to the event.
func (e *OutboxEvent) WithMetadata(key, value string) *OutboxEvent {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// RunStartedPayload is the payload for run.started events.
type RunStartedPayload struct {
	RunID          uuid.UUID `json:"run_id"`
	UserID         uuid.UUID `json:"user_id"`
	Source         string    `json:"source"`
	DirectionCount int       `json:"direction_count"`
}

// RunFinishedPayload is the payload for run.succeeded and run.failed events.
type RunFinishedPayload struct {
	RunID        uuid.UUID `json:"run_id"`
	UserID       uuid.UUID `json:"user_id"`
	Status       RunStatus `json:"status"`
	TotalCount   int       `json:"total_count"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
}

// CreditGrantPayload is the payload of credit.granted events read from the
// billing topic. EventID deduplicates redeliveries.
type CreditGrantPayload struct {
	EventID string    `json:"event_id"`
	UserID  uuid.UUID `json:"user_id"`
	Units   int       `json:"units"`
	Reason  string    `json:"reason,omitempty"`
}
