// Package chaintime reads the ledger clock. The chain's block timestamp is
// authoritative for on-chain deadline comparisons; local wall clocks are only
// used to diagnose skew.
package chaintime

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"auction-engine/internal/breaker"
	"auction-engine/internal/ledger"
)

// Default tuning values.
const (
	// DefaultSkewTolerance flags a reading inaccurate when chain and wall
	// clocks diverge beyond it.
	DefaultSkewTolerance = 2 * time.Minute

	// DefaultSafetyBuffer absorbs clock skew and network latency in timing
	// decisions near a deadline.
	DefaultSafetyBuffer = 5 * time.Minute

	// DefaultHeadFreshness is how long a streamed block head substitutes for
	// an RPC read.
	DefaultHeadFreshness = 15 * time.Second
)

// ChainTime is one reading of the ledger clock.
type ChainTime struct {
	// Timestamp is the latest block timestamp in Unix seconds.
	Timestamp int64
	// IsAccurate is false when the chain and local clocks disagree beyond
	// the skew tolerance. The chain timestamp is still the one to use.
	IsAccurate bool
}

// Decision is the outcome of a bid-timing check.
type Decision struct {
	OK            bool
	Reason        string
	TimeRemaining time.Duration
}

// Oracle reads the chain clock through the circuit breaker, preferring a
// streamed block head when one is fresh enough to skip the round-trip.
type Oracle struct {
	reader        ledger.Reader
	contractRead  *breaker.Breaker
	skewTolerance time.Duration
	safetyBuffer  time.Duration
	headFreshness time.Duration
	logger        *log.Logger
	wallClock     func() time.Time

	mu         sync.RWMutex
	lastHead   ledger.Block
	receivedAt time.Time
}

// Options configures an Oracle. Zero fields take defaults.
type Options struct {
	SkewTolerance time.Duration
	SafetyBuffer  time.Duration
	HeadFreshness time.Duration
	Logger        *log.Logger
}

// New creates an Oracle over the given reader and breaker.
func New(reader ledger.Reader, contractRead *breaker.Breaker, opts Options) *Oracle {
	if opts.SkewTolerance <= 0 {
		opts.SkewTolerance = DefaultSkewTolerance
	}
	if opts.SafetyBuffer <= 0 {
		opts.SafetyBuffer = DefaultSafetyBuffer
	}
	if opts.HeadFreshness <= 0 {
		opts.HeadFreshness = DefaultHeadFreshness
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Oracle{
		reader:        reader,
		contractRead:  contractRead,
		skewTolerance: opts.SkewTolerance,
		safetyBuffer:  opts.SafetyBuffer,
		headFreshness: opts.HeadFreshness,
		logger:        logger,
		wallClock:     time.Now,
	}
}

// SafetyBuffer returns the configured safety buffer.
func (o *Oracle) SafetyBuffer() time.Duration {
	return o.safetyBuffer
}

// Run consumes a block-head stream until ctx is done or the channel closes.
// Each head refreshes the cached chain clock.
func (o *Oracle) Run(ctx context.Context, heads <-chan ledger.Block) {
	for {
		select {
		case <-ctx.Done():
			return
		case head, ok := <-heads:
			if !ok {
				return
			}
			o.mu.Lock()
			if head.Number >= o.lastHead.Number {
				o.lastHead = head
				o.receivedAt = o.wallClock()
			}
			o.mu.Unlock()
		}
	}
}

// Now returns the current chain time. A streamed head younger than the
// freshness window is used directly; otherwise the latest block is read over
// RPC through the circuit breaker. RPC failure propagates — callers must not
// assume a timestamp.
func (o *Oracle) Now(ctx context.Context) (ChainTime, error) {
	o.mu.RLock()
	head := o.lastHead
	receivedAt := o.receivedAt
	o.mu.RUnlock()

	wall := o.wallClock()

	if head.Timestamp > 0 && wall.Sub(receivedAt) < o.headFreshness {
		return o.reading(head.Timestamp, wall), nil
	}

	block, err := breaker.Execute(ctx, o.contractRead, o.reader.LatestBlock)
	if err != nil {
		return ChainTime{}, fmt.Errorf("read chain time: %w", err)
	}

	return o.reading(block.Timestamp, wall), nil
}

// reading builds a ChainTime, flagging skew beyond tolerance.
func (o *Oracle) reading(chainTs int64, wall time.Time) ChainTime {
	skew := wall.Unix() - chainTs
	if skew < 0 {
		skew = -skew
	}

	accurate := time.Duration(skew)*time.Second <= o.skewTolerance
	if !accurate {
		o.logger.Printf("[chaintime] WARN: chain clock skew %ds exceeds tolerance %v (chain=%d wall=%d)",
			skew, o.skewTolerance, chainTs, wall.Unix())
	}

	return ChainTime{Timestamp: chainTs, IsAccurate: accurate}
}

// CanAcceptBids decides whether a bid may still be accepted against the
// deadline. The safety buffer is deliberately not applied here; basic
// acceptance uses the raw deadline.
func (o *Oracle) CanAcceptBids(deadline int64, ref ChainTime) Decision {
	remaining := time.Duration(deadline-ref.Timestamp) * time.Second
	if ref.Timestamp >= deadline {
		return Decision{OK: false, Reason: "auction deadline has passed", TimeRemaining: remaining}
	}
	return Decision{OK: true, TimeRemaining: remaining}
}

// WithinExtensionWindow reports whether the deadline falls inside the safety
// buffer — the zone where a near-end auction is eligible for extension.
func (o *Oracle) WithinExtensionWindow(deadline int64, ref ChainTime) bool {
	remaining := time.Duration(deadline-ref.Timestamp) * time.Second
	return remaining > 0 && remaining <= o.safetyBuffer
}
