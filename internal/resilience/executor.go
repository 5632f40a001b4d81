package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/tusflow/tusflow/internal/config"
	tuserr "github.com/tusflow/tusflow/internal/errors"
	"github.com/tusflow/tusflow/internal/metrics"
)

// Executor routes an operation through the shared circuit breaker with
// bounded retry and exponential backoff. One Executor (and so one breaker)
// is constructed per process and passed into every component that talks to
// the object store or the metadata store.
type Executor struct {
	breaker     *Breaker
	maxAttempts int
	baseDelay   time.Duration
}

// NewExecutor creates an Executor over the given breaker.
func NewExecutor(breaker *Breaker, cfg config.RetryConfig) *Executor {
	return &Executor{
		breaker:     breaker,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay(),
	}
}

// Do runs op up to the configured number of attempts, waiting
// baseDelay * 2^attempt between failures. The backoff wait is cancellable:
// cancelling ctx aborts a pending wait immediately. After exhaustion the
// last error surfaces as StorageFailure, or as CircuitOpen when the breaker
// rejected the final attempt.
func (e *Executor) Do(ctx context.Context, name string, op func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if attempt > 0 {
			metrics.RetryAttemptsTotal.Inc()
			delay := e.baseDelay << (attempt - 1)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return tuserr.StorageFailure(attempt, ctx.Err())
			case <-timer.C:
			}
		}

		lastErr = e.breaker.Execute(ctx, op)
		if lastErr == nil {
			return nil
		}
		slog.Warn("operation failed",
			"operation", name,
			"attempt", attempt+1,
			"max_attempts", e.maxAttempts,
			"error", lastErr)
	}

	if pe, ok := lastErr.(*tuserr.Error); ok && pe.Code == tuserr.ErrCircuitOpen.Code {
		return lastErr
	}
	return tuserr.StorageFailure(e.maxAttempts, lastErr)
}

// Execute runs op through the executor and returns its result.
func Execute[T any](ctx context.Context, e *Executor, name string, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, name, func(ctx context.Context) error {
		v, opErr := op(ctx)
		if opErr != nil {
			return opErr
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
