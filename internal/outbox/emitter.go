// Package outbox implements the transactional outbox: run lifecycle events
// are inserted alongside the state change that caused them, and a relay
// publishes pending rows to Kafka with at-least-once delivery.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/litforge/bibliography-service/internal/domain"
	"github.com/litforge/bibliography-service/internal/repository"
)

// Emitter builds run lifecycle events and stores them through the outbox
// repository.
type Emitter struct {
	repo        repository.OutboxRepository
	serviceName string
}

// NewEmitter creates an emitter. An empty serviceName defaults to
// "bibliography-service".
func NewEmitter(repo repository.OutboxRepository, serviceName string) *Emitter {
	if serviceName == "" {
		serviceName = "bibliography-service"
	}
	return &Emitter{repo: repo, serviceName: serviceName}
}

// RunStarted records a run.started event.
func (e *Emitter) RunStarted(ctx context.Context, run *domain.Run) error {
	event, err := domain.NewOutboxEvent(run.ID.String(), domain.AggregateTypeRun,
		domain.EventTypeRunStarted, domain.RunStartedPayload{
			RunID:          run.ID,
			UserID:         run.UserID,
			Source:         run.Config.Source,
			DirectionCount: len(run.Config.Directions),
		})
	if err != nil {
		return fmt.Errorf("build run.started event: %w", err)
	}
	return e.insert(ctx, event)
}

// RunFinished records a run.succeeded or run.failed event depending on the
// terminal status.
func (e *Emitter) RunFinished(ctx context.Context, run *domain.Run, status domain.RunStatus, totalCount int, errorMessage string, duration time.Duration) error {
	eventType := domain.EventTypeRunSucceeded
	if status == domain.RunStatusFailed {
		eventType = domain.EventTypeRunFailed
	}
	event, err := domain.NewOutboxEvent(run.ID.String(), domain.AggregateTypeRun,
		eventType, domain.RunFinishedPayload{
			RunID:        run.ID,
			UserID:       run.UserID,
			Status:       status,
			TotalCount:   totalCount,
			ErrorMessage: errorMessage,
			DurationMS:   duration.Milliseconds(),
		})
	if err != nil {
		return fmt.Errorf("build %s event: %w", eventType, err)
	}
	return e.insert(ctx, event)
}

func (e *Emitter) insert(ctx context.Context, event *domain.OutboxEvent) error {
	event.WithMetadata("source", e.serviceName)
	if err := e.repo.Insert(ctx, event); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}
