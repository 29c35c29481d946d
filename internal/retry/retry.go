// Package retry provides a bounded retry/timeout executor. It separates "the
// operation is impossible" from "the network hiccuped": terminal errors are
// re-raised immediately, transient ones are retried with capped backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Default policy values.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 500 * time.Millisecond
	DefaultMaxDelay   = 5 * time.Second
	DefaultTimeout    = 30 * time.Second
)

// Policy tunes one executor run.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay scales the backoff: delay = min(BaseDelay × attempt, MaxDelay).
	BaseDelay time.Duration
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration
	// Timeout bounds each attempt; every retry gets a fresh window.
	Timeout time.Duration
	// IsTerminal classifies errors that must never be retried, e.g. a
	// user-rejected signature or an ended auction. Nil means retry everything
	// except caller cancellation.
	IsTerminal func(error) bool
}

// DefaultPolicy returns production defaults with the given classifier.
func DefaultPolicy(isTerminal func(error) bool) Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		Timeout:    DefaultTimeout,
		IsTerminal: isTerminal,
	}
}

// normalize fills unset fields with defaults.
func (p Policy) normalize() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	return p
}

// delayFor computes the backoff before the given retry attempt (1-based).
func (p Policy) delayFor(attempt int) time.Duration {
	d := time.Duration(attempt) * p.BaseDelay
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Run executes op under the policy. Each attempt runs under its own timeout;
// backoff waits abort immediately when ctx is canceled. Terminal errors are
// returned verbatim after the first occurrence.
func Run[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	p = p.normalize()

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(p.delayFor(attempt)):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		result, err := op(attemptCtx)
		cancel()

		if err == nil {
			return result, nil
		}

		// Caller cancellation propagates without retry; a per-attempt
		// deadline on a live parent context is an ordinary transient failure.
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if p.IsTerminal != nil && p.IsTerminal(err) {
			return zero, err
		}
		if errors.Is(err, context.Canceled) {
			return zero, err
		}

		lastErr = err
	}

	return zero, fmt.Errorf("retries exhausted after %d attempts: %w", p.MaxRetries+1, lastErr)
}
