// Package breaker provides per-dependency circuit breakers. A degraded RPC
// provider or database outage fails fast instead of holding every in-flight
// bid for a full timeout. Breaker state is process-local and reset on
// restart; it is a liveness optimization, not a correctness mechanism.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Dependency identifies a guarded external dependency.
type Dependency string

// Guarded dependencies.
const (
	ContractRead       Dependency = "CONTRACT_READ"
	DatabaseOperations Dependency = "DATABASE_OPERATIONS"
)

// State is the breaker state machine position.
type State int

const (
	// StateClosed passes calls through and counts failures.
	StateClosed State = iota
	// StateOpen fails calls immediately without attempting the dependency.
	StateOpen
	// StateHalfOpen allows a single probe call to test recovery.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// ErrDependencyUnavailable is returned when the breaker is open and no
// fallback was supplied. Callers can present "try again shortly".
var ErrDependencyUnavailable = errors.New("dependency unavailable: circuit open")

// Config tunes a breaker's state machine.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the breaker.
	FailureThreshold int
	// Window bounds how long a failure streak stays relevant; a streak whose
	// first failure is older than Window restarts from the current failure.
	Window time.Duration
	// Cooldown is how long the breaker stays open before allowing a probe.
	Cooldown time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           30 * time.Second,
		Cooldown:         15 * time.Second,
	}
}

// Breaker guards one dependency. Each breaker has its own lock so unrelated
// dependencies never serialize on shared state.
type Breaker struct {
	dep Dependency
	cfg Config
	now func() time.Time

	mu             sync.Mutex
	state          State
	failures       int
	streakStart    time.Time
	openedAt       time.Time
	probing        bool
	lastTransition time.Time
}

// New creates a closed breaker for the dependency.
func New(dep Dependency, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	return &Breaker{dep: dep, cfg: cfg, now: time.Now, lastTransition: time.Now()}
}

// Dependency returns the guarded dependency key.
func (b *Breaker) Dependency() Dependency {
	return b.dep
}

// allow decides whether a call may proceed. The returned probe flag is true
// when this call is the half-open probe and must report its outcome.
func (b *Breaker) allow() (proceed, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true, false
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, false
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return true, true
	case StateHalfOpen:
		if b.probing {
			// A probe is already in flight; callers get the fallback path.
			return false, false
		}
		b.probing = true
		return true, true
	default:
		return false, false
	}
}

// onSuccess records a successful call.
func (b *Breaker) onSuccess(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}
	if b.state == StateHalfOpen {
		b.transition(StateClosed)
	}
	b.failures = 0
}

// onFailure records a failed call.
func (b *Breaker) onFailure(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if probe {
		b.probing = false
	}
	if b.state == StateHalfOpen {
		b.transition(StateOpen)
		b.openedAt = now
		return
	}

	// Drop streaks whose first failure fell out of the rolling window.
	if b.failures == 0 || now.Sub(b.streakStart) > b.cfg.Window {
		b.failures = 0
		b.streakStart = now
	}
	b.failures++

	if b.failures >= b.cfg.FailureThreshold {
		b.transition(StateOpen)
		b.openedAt = now
		b.failures = 0
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	b.state = to
	b.lastTransition = b.now()
}

// Snapshot describes the breaker for health endpoints.
type Snapshot struct {
	Dependency     Dependency `json:"dependency"`
	State          string     `json:"state"`
	Failures       int        `json:"failures"`
	LastTransition time.Time  `json:"lastTransition"`
}

// Snapshot returns the current state for diagnostics.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Dependency:     b.dep,
		State:          b.state.String(),
		Failures:       b.failures,
		LastTransition: b.lastTransition,
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs op under the breaker. When the breaker is open it returns
// ErrDependencyUnavailable immediately without invoking op.
func Execute[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var zero T

	proceed, probe := b.allow()
	if !proceed {
		return zero, fmt.Errorf("%w (%s)", ErrDependencyUnavailable, b.dep)
	}

	result, err := op(ctx)
	if err != nil {
		// Caller-side cancellation says nothing about dependency health.
		if errors.Is(err, context.Canceled) {
			if probe {
				b.mu.Lock()
				b.probing = false
				b.mu.Unlock()
			}
			return zero, err
		}
		b.onFailure(probe)
		return zero, err
	}

	b.onSuccess(probe)
	return result, nil
}

// ExecuteFallback runs op under the breaker, returning fallback instead of
// ErrDependencyUnavailable when the breaker is open or a probe is in flight.
// Intended for read-only, cache-fronted calls where a stale answer beats none.
func ExecuteFallback[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error), fallback T) (T, error) {
	result, err := Execute(ctx, b, op)
	if errors.Is(err, ErrDependencyUnavailable) {
		return fallback, nil
	}
	return result, err
}
