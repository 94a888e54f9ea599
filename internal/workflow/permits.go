// Package workflow implements the fan-out/fan-in orchestration of a
// bibliography run: direction extraction, credit debiting, one pipeline per
// direction throttled through a shared permit pool, and ordered progress
// events.
package workflow

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/litforge/bibliography-service/internal/observability"
)

// DefaultConcurrency is the permit pool capacity when the run config does
// not set one.
const DefaultConcurrency = 3

// PermitPool bounds the number of in-flight upstream search calls across all
// direction pipelines of one run. Pipelines outnumbering permits queue on
// Acquire in arrival order.
type PermitPool struct {
	sem      *semaphore.Weighted
	capacity int
	metrics  *observability.Metrics
}

// NewPermitPool creates a pool with the given capacity (floor 1). metrics
// may be nil.
func NewPermitPool(capacity int, metrics *observability.Metrics) *PermitPool {
	if capacity < 1 {
		capacity = 1
	}
	return &PermitPool{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
		metrics:  metrics,
	}
}

// Acquire blocks until a permit is available or the context ends. The time
// spent waiting is recorded.
func (p *PermitPool) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.RecordPermitWait(time.Since(start).Seconds())
	}
	return nil
}

// Release returns a permit to the pool.
func (p *PermitPool) Release() {
	p.sem.Release(1)
}

// Capacity returns the pool size.
func (p *PermitPool) Capacity() int {
	return p.capacity
}
