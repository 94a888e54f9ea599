package workflow

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/litforge/bibliography-service/internal/papersources"
)

// Retry policy defaults: at most 5 attempts spread over roughly 10 seconds.
const (
	defaultMaxRetries = 4
	defaultBaseDelay  = 600 * time.Millisecond
	defaultMaxDelay   = 10 * time.Second
)

// RetryPolicy controls the gate's backoff behavior.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay seeds the exponential backoff and bounds the jitter.
	BaseDelay time.Duration
	// MaxDelay caps each backoff sleep, including Retry-After hints.
	MaxDelay time.Duration
}

// withDefaults fills zero fields with the package defaults.
func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = defaultMaxRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	return p
}

// CallGate wraps upstream calls with permit acquisition and transient-error
// retries. The permit is held only for the duration of the attempt itself:
// it is released before any backoff sleep so a waiting sibling can use the
// slot.
type CallGate struct {
	pool   *PermitPool
	policy RetryPolicy
	logger zerolog.Logger
}

// NewCallGate creates a gate over pool with the given policy.
func NewCallGate(pool *PermitPool, policy RetryPolicy, logger zerolog.Logger) *CallGate {
	return &CallGate{
		pool:   pool,
		policy: policy.withDefaults(),
		logger: logger,
	}
}

// Do runs call under a permit, retrying transient failures with capped
// exponential backoff and jitter. Fatal errors return immediately. When
// retries are exhausted the returned error says the service is unavailable;
// if every failure was a 429 it additionally advises lowering the configured
// search concurrency.
func (g *CallGate) Do(ctx context.Context, call func(context.Context) error) error {
	var lastErr error
	only429 := true

	for attempt := 0; attempt <= g.policy.MaxRetries; attempt++ {
		if err := g.pool.Acquire(ctx); err != nil {
			return fmt.Errorf("acquire search permit: %w", err)
		}
		err := call(ctx)
		g.pool.Release()
		if err == nil {
			return nil
		}

		transient, retryAfter, is429 := classify(err)
		if !transient {
			return err
		}
		if !is429 {
			only429 = false
		}
		lastErr = err

		if attempt == g.policy.MaxRetries {
			break
		}

		delay := g.backoff(attempt, retryAfter)
		g.logger.Debug().
			Err(err).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("transient search failure, backing off")
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}

	attempts := g.policy.MaxRetries + 1
	if only429 {
		return fmt.Errorf(
			"service unavailable after %d attempts (rate limited; consider reducing the search concurrency): %w",
			attempts, lastErr)
	}
	return fmt.Errorf("service unavailable after %d attempts: %w", attempts, lastErr)
}

// backoff computes the sleep before the next attempt. A server-provided
// Retry-After hint wins (capped at MaxDelay); otherwise exponential growth
// from BaseDelay plus uniform jitter in [0, BaseDelay).
func (g *CallGate) backoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		if retryAfter > g.policy.MaxDelay {
			return g.policy.MaxDelay
		}
		return retryAfter
	}

	delay := g.policy.BaseDelay << uint(attempt)
	if delay > g.policy.MaxDelay || delay <= 0 {
		delay = g.policy.MaxDelay
	}
	return delay + time.Duration(rand.Int63n(int64(g.policy.BaseDelay)))
}

// classify decides whether an attempt error is worth retrying, extracting
// the Retry-After hint and whether it was a rate-limit rejection.
func classify(err error) (transient bool, retryAfter time.Duration, is429 bool) {
	var srcErr *papersources.SourceError
	if errors.As(err, &srcErr) {
		return srcErr.Transient, srcErr.RetryAfter, srcErr.StatusCode == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true, 0, false
	}
	return false, 0, false
}

// sleepCtx sleeps for delay or until the context ends.
func sleepCtx(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
