// Package resilience wraps storage and metadata-store calls with a shared
// circuit breaker and bounded exponential-backoff retry.
package resilience

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/tusflow/tusflow/internal/config"
	tuserr "github.com/tusflow/tusflow/internal/errors"
	"github.com/tusflow/tusflow/internal/metrics"
)

// Breaker is a circuit breaker shared by all operations routed through one
// Executor. It tracks consecutive failures and, once open, rejects calls
// immediately until the reset timeout elapses — except for a small random
// fraction of calls let through as half-open probes.
type Breaker struct {
	timeout          time.Duration
	failureThreshold int
	resetTimeout     time.Duration
	// probe reports whether an open breaker should let this call through to
	// test recovery. Overridable in tests for determinism.
	probe func() bool

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	open        bool
	inflight    int
}

// NewBreaker creates a Breaker from the given configuration.
func NewBreaker(cfg config.BreakerConfig) *Breaker {
	return &Breaker{
		timeout:          cfg.Timeout(),
		failureThreshold: cfg.FailureThreshold,
		resetTimeout:     cfg.ResetTimeout(),
		probe:            func() bool { return rand.Float64() > 0.9 },
	}
}

// Execute runs op under the breaker. While open, calls fail fast with
// CircuitOpen unless the reset timeout has elapsed or the probabilistic
// probe fires. The per-call timeout scales with the number of in-flight
// operations so concurrent calls are not starved under load; a timed-out
// operation counts as a failure.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	timeout := b.begin()
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := op(opCtx)
	if err != nil && opCtx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("operation timed out after %s: %w", timeout, err)
	}
	b.done(err)
	return err
}

// allow checks the breaker gate. It closes the breaker when the reset
// timeout has elapsed since the last failure, lets a random fraction of
// calls through as probes, and rejects the rest with CircuitOpen.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil
	}
	if time.Since(b.lastFailure) >= b.resetTimeout {
		b.open = false
		b.failures = 0
		metrics.BreakerState.Set(0)
		return nil
	}
	if b.probe() {
		b.open = false
		metrics.BreakerState.Set(0)
		return nil
	}
	return tuserr.ErrCircuitOpen
}

// begin registers an in-flight operation and returns its scaled timeout.
func (b *Breaker) begin() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inflight++
	return time.Duration(float64(b.timeout) * (1 + 0.1*float64(b.inflight)))
}

// done records the outcome: any success resets the failure count; a failure
// bumps it and opens the breaker at the threshold.
func (b *Breaker) done(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inflight--

	if err == nil {
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailure = time.Now()
	if b.failures >= b.failureThreshold {
		b.open = true
		metrics.BreakerState.Set(1)
	}
}
