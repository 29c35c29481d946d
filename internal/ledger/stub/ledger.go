// Package stub provides an in-memory ledger implementing ledger.Client for
// tests and local runs without a node.
package stub

import (
	"context"
	"fmt"
	"sync"

	"auction-engine/internal/domain"
	"auction-engine/internal/ledger"
)

// Ledger implements ledger.Client against an in-memory auction table.
// Safe for concurrent use; call counters support assertions in tests.
type Ledger struct {
	mu       sync.Mutex
	auctions map[uint64]*domain.OnChainAuction
	counter  uint64
	now      int64 // chain clock, advanced explicitly
	paused   bool

	// Per-method call counts, keyed by method name.
	calls map[string]int

	// Errs injects one-shot or persistent failures per method name.
	Errs map[string]error

	headCh chan ledger.Block
}

// New creates an empty stub ledger with the chain clock at now.
func New(now int64) *Ledger {
	return &Ledger{
		auctions: make(map[uint64]*domain.OnChainAuction),
		now:      now,
		calls:    make(map[string]int),
		Errs:     make(map[string]error),
	}
}

// Compile-time interface checks.
var (
	_ ledger.Client     = (*Ledger)(nil)
	_ ledger.HeadSource = (*Ledger)(nil)
)

// SetNow advances the stub chain clock.
func (l *Ledger) SetNow(now int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// SetPaused flips the contract pause switch.
func (l *Ledger) SetPaused(paused bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = paused
}

// Seed installs an auction at the given identifier, bumping the counter to
// cover it.
func (l *Ledger) Seed(a *domain.OnChainAuction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *a
	l.auctions[a.ID] = &cp
	if a.ID > l.counter {
		l.counter = a.ID
	}
}

// Calls returns how many times the named method was invoked.
func (l *Ledger) Calls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[method]
}

// record bumps the call counter and returns any injected error.
func (l *Ledger) record(method string) error {
	l.calls[method]++
	if err := l.Errs[method]; err != nil {
		return err
	}
	return nil
}

// AuctionCounter returns the stub's monotonic counter.
func (l *Ledger) AuctionCounter(_ context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.record("AuctionCounter"); err != nil {
		return 0, err
	}
	return l.counter, nil
}

// GetAuction retrieves a seeded auction.
func (l *Ledger) GetAuction(_ context.Context, id uint64) (*domain.OnChainAuction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.record("GetAuction"); err != nil {
		return nil, err
	}
	a, ok := l.auctions[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ledger.ErrAuctionNotFound, id)
	}
	cp := *a
	return &cp, nil
}

// GetMinimumBid computes the contract minimum: highest bid plus increment,
// or the starting bid when nobody has bid yet.
func (l *Ledger) GetMinimumBid(_ context.Context, id uint64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.record("GetMinimumBid"); err != nil {
		return 0, err
	}
	a, ok := l.auctions[id]
	if !ok {
		return 0, fmt.Errorf("%w: id %d", ledger.ErrAuctionNotFound, id)
	}
	if a.HighestBidder == "" {
		// No bids yet: the starting bid is held in HighestBid.
		return a.HighestBid, nil
	}
	return a.HighestBid * (1 + a.MinIncrement), nil
}

// CanSettlePublicly reports whether the auction has ended unsettled.
func (l *Ledger) CanSettlePublicly(_ context.Context, id uint64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.record("CanSettlePublicly"); err != nil {
		return false, err
	}
	a, ok := l.auctions[id]
	if !ok {
		return false, fmt.Errorf("%w: id %d", ledger.ErrAuctionNotFound, id)
	}
	return !a.Settled && l.now >= a.EndTime, nil
}

// Paused reports the stub pause switch.
func (l *Ledger) Paused(_ context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.record("Paused"); err != nil {
		return false, err
	}
	return l.paused, nil
}

// LatestBlock returns a synthetic head carrying the stub chain clock.
func (l *Ledger) LatestBlock(_ context.Context) (*ledger.Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.record("LatestBlock"); err != nil {
		return nil, err
	}
	return &ledger.Block{Number: l.counter + 1000, Timestamp: l.now}, nil
}

// CreateAuction mints a new auction at counter+1, mirroring the contract.
func (l *Ledger) CreateAuction(_ context.Context, offchainID string, startingBid float64, durationSeconds int64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.record("CreateAuction"); err != nil {
		return "", err
	}
	if l.paused {
		return "", ledger.ErrContractPaused
	}
	if durationSeconds <= 0 {
		return "", ledger.ErrAuctionEnded
	}

	l.counter++
	l.auctions[l.counter] = &domain.OnChainAuction{
		ID:           l.counter,
		Seller:       "0xseller",
		HighestBid:   startingBid,
		MinIncrement: 0.05,
		EndTime:      l.now + durationSeconds,
		CreatedAt:    l.now,
		OffchainID:   offchainID,
	}
	return fmt.Sprintf("0xcreate%d", l.counter), nil
}

// PlaceBid applies the contract's bid rules against the stub state.
func (l *Ledger) PlaceBid(_ context.Context, id uint64, amount float64, bidder string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.record("PlaceBid"); err != nil {
		return "", err
	}
	a, ok := l.auctions[id]
	if !ok {
		return "", fmt.Errorf("%w: id %d", ledger.ErrAuctionNotFound, id)
	}
	if a.Settled || l.now >= a.EndTime {
		return "", ledger.ErrAuctionEnded
	}
	if amount <= a.HighestBid {
		return "", fmt.Errorf("%w: below current highest", ledger.ErrBidTooLow)
	}

	a.HighestBid = amount
	a.HighestBidder = bidder
	return fmt.Sprintf("0xbid%d_%d", id, l.calls["PlaceBid"]), nil
}

// SettleAuction marks an ended auction settled.
func (l *Ledger) SettleAuction(_ context.Context, id uint64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.record("SettleAuction"); err != nil {
		return "", err
	}
	a, ok := l.auctions[id]
	if !ok {
		return "", fmt.Errorf("%w: id %d", ledger.ErrAuctionNotFound, id)
	}
	if l.now < a.EndTime {
		return "", fmt.Errorf("auction still live")
	}
	a.Settled = true
	return fmt.Sprintf("0xsettle%d", id), nil
}

// CancelAuction removes an auction that has no bids above its starting bid.
func (l *Ledger) CancelAuction(_ context.Context, id uint64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.record("CancelAuction"); err != nil {
		return "", err
	}
	a, ok := l.auctions[id]
	if !ok {
		return "", fmt.Errorf("%w: id %d", ledger.ErrAuctionNotFound, id)
	}
	if a.HighestBidder != "" {
		return "", fmt.Errorf("auction has bids")
	}
	a.Settled = true
	return fmt.Sprintf("0xcancel%d", id), nil
}

// SubscribeHeads returns a channel the test can drive via EmitHead.
func (l *Ledger) SubscribeHeads(_ context.Context) (<-chan ledger.Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.headCh == nil {
		l.headCh = make(chan ledger.Block, 16)
	}
	return l.headCh, nil
}

// EmitHead pushes a synthetic head and advances the chain clock.
func (l *Ledger) EmitHead(number uint64, timestamp int64) {
	l.mu.Lock()
	ch := l.headCh
	l.now = timestamp
	l.mu.Unlock()
	if ch != nil {
		ch <- ledger.Block{Number: number, Timestamp: timestamp}
	}
}

// Close closes the head channel.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.headCh != nil {
		close(l.headCh)
		l.headCh = nil
	}
	return nil
}
