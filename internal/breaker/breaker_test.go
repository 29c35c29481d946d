package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failingOp(context.Context) (int, error) { return 0, errBoom }
func okOp(context.Context) (int, error)      { return 42, nil }

// newTestBreaker returns a breaker with a controllable clock.
func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *time.Time) {
	now := time.Unix(1700000000, 0)
	b := New(ContractRead, Config{
		FailureThreshold: threshold,
		Window:           30 * time.Second,
		Cooldown:         cooldown,
	})
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, 15*time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := Execute(ctx, b, failingOp); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: expected errBoom, got %v", i, err)
		}
	}

	if b.State() != StateOpen {
		t.Fatalf("expected OPEN after 3 failures, got %s", b.State())
	}

	// Open breaker must not invoke the operation.
	invoked := false
	_, err := Execute(ctx, b, func(context.Context) (int, error) {
		invoked = true
		return 0, nil
	})
	if !errors.Is(err, ErrDependencyUnavailable) {
		t.Fatalf("expected ErrDependencyUnavailable, got %v", err)
	}
	if invoked {
		t.Fatal("open breaker invoked the wrapped operation")
	}
}

func TestBreaker_HalfOpenProbeAfterCooldown(t *testing.T) {
	b, now := newTestBreaker(2, 15*time.Second)
	ctx := context.Background()

	Execute(ctx, b, failingOp)
	Execute(ctx, b, failingOp)
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN, got %s", b.State())
	}

	// Before cooldown: still failing fast.
	if _, err := Execute(ctx, b, okOp); !errors.Is(err, ErrDependencyUnavailable) {
		t.Fatalf("expected fail-fast before cooldown, got %v", err)
	}

	// After cooldown: exactly one probe passes through.
	*now = now.Add(16 * time.Second)
	result, err := Execute(ctx, b, okOp)
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if result != 42 {
		t.Errorf("expected 42, got %d", result)
	}
	if b.State() != StateClosed {
		t.Errorf("expected CLOSED after probe success, got %s", b.State())
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	b, now := newTestBreaker(1, 10*time.Second)
	ctx := context.Background()

	Execute(ctx, b, failingOp)
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN, got %s", b.State())
	}

	*now = now.Add(11 * time.Second)
	if _, err := Execute(ctx, b, failingOp); !errors.Is(err, errBoom) {
		t.Fatalf("expected probe to run and fail, got %v", err)
	}
	if b.State() != StateOpen {
		t.Errorf("expected OPEN after probe failure, got %s", b.State())
	}
}

func TestBreaker_SingleConcurrentProbe(t *testing.T) {
	b, now := newTestBreaker(1, 5*time.Second)
	ctx := context.Background()

	Execute(ctx, b, failingOp)
	*now = now.Add(6 * time.Second)

	probeStarted := make(chan struct{})
	release := make(chan struct{})

	go Execute(ctx, b, func(context.Context) (int, error) {
		close(probeStarted)
		<-release
		return 1, nil
	})

	<-probeStarted

	// Second caller during the in-flight probe takes the fallback path.
	got, err := ExecuteFallback(ctx, b, okOp, 99)
	if err != nil {
		t.Fatalf("ExecuteFallback: %v", err)
	}
	if got != 99 {
		t.Errorf("expected fallback 99 during probe, got %d", got)
	}

	close(release)
}

func TestBreaker_WindowResetsStreak(t *testing.T) {
	b, now := newTestBreaker(3, 15*time.Second)
	ctx := context.Background()

	Execute(ctx, b, failingOp)
	Execute(ctx, b, failingOp)

	// The streak's first failure ages out of the window.
	*now = now.Add(31 * time.Second)

	Execute(ctx, b, failingOp)
	if b.State() != StateClosed {
		t.Errorf("expected CLOSED, stale streak must not count, got %s", b.State())
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(3, 15*time.Second)
	ctx := context.Background()

	Execute(ctx, b, failingOp)
	Execute(ctx, b, failingOp)
	Execute(ctx, b, okOp)
	Execute(ctx, b, failingOp)
	Execute(ctx, b, failingOp)

	if b.State() != StateClosed {
		t.Errorf("expected CLOSED, success must reset the streak, got %s", b.State())
	}
}

func TestBreaker_ContextCanceledNotCounted(t *testing.T) {
	b, _ := newTestBreaker(1, 15*time.Second)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Execute(canceled, b, func(ctx context.Context) (int, error) {
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("cancellation must not open the breaker, got %s", b.State())
	}
}

func TestRegistry_PerDependencyIsolation(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, Window: time.Minute, Cooldown: time.Minute})
	ctx := context.Background()

	Execute(ctx, r.Get(ContractRead), failingOp)

	if r.Get(ContractRead).State() != StateOpen {
		t.Error("expected CONTRACT_READ open")
	}
	if r.Get(DatabaseOperations).State() != StateClosed {
		t.Error("expected DATABASE_OPERATIONS unaffected")
	}

	snaps := r.Snapshots()
	if len(snaps) != 2 {
		t.Errorf("expected 2 snapshots, got %d", len(snaps))
	}
}
