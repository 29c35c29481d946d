// Package bidding runs the bid placement workflow end to end: resolve the
// on-chain identifier, re-check timing and minimum against fresh ledger
// state, submit the transaction, then record the bid off-chain. The ledger
// is the source of truth for who is winning; database rows are advisory.
package bidding

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"auction-engine/internal/breaker"
	"auction-engine/internal/chaintime"
	"auction-engine/internal/domain"
	"auction-engine/internal/ledger"
	"auction-engine/internal/reconcile"
	"auction-engine/internal/retry"
	"auction-engine/internal/storage"
)

// ErrBidBelowMinimum rejects a bid locally before any transaction is built.
var ErrBidBelowMinimum = errors.New("bid below minimum acceptable amount")

// Config wires a Service's dependencies. Attempts may be nil to disable the
// audit archive.
type Config struct {
	Ledger   ledger.Client
	Reader   *reconcile.ChainReader
	Resolver *reconcile.Resolver
	Clock    *chaintime.Oracle
	Auctions storage.AuctionStore
	Bids     storage.BidStore
	Attempts storage.BidAttemptStore
	Breakers *breaker.Registry
	Policy   retry.Policy
	Logger   *log.Logger
}

// Service places bids and settles or cancels auctions against the ledger.
type Service struct {
	ledger       ledger.Client
	reader       *reconcile.ChainReader
	resolver     *reconcile.Resolver
	clock        *chaintime.Oracle
	auctions     storage.AuctionStore
	bids         storage.BidStore
	attempts     storage.BidAttemptStore
	contractRead *breaker.Breaker
	dbBreaker    *breaker.Breaker
	policy       retry.Policy
	logger       *log.Logger
	wallClock    func() time.Time
}

// New creates a Service.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Service{
		ledger:       cfg.Ledger,
		reader:       cfg.Reader,
		resolver:     cfg.Resolver,
		clock:        cfg.Clock,
		auctions:     cfg.Auctions,
		bids:         cfg.Bids,
		attempts:     cfg.Attempts,
		contractRead: cfg.Breakers.Get(breaker.ContractRead),
		dbBreaker:    cfg.Breakers.Get(breaker.DatabaseOperations),
		policy:       cfg.Policy,
		logger:       cfg.Logger,
		wallClock:    time.Now,
	}
}

// PlaceBid submits amount against the auction identified off-chain by
// offchainID and returns the transaction hash. The hash is returned even when
// the subsequent database write fails; that failure is logged and the ledger
// remains authoritative.
func (s *Service) PlaceBid(ctx context.Context, offchainID, bidder string, amount float64) (string, error) {
	started := s.wallClock()

	res, err := s.resolver.Resolve(ctx, offchainID, nil, nil)
	if err != nil {
		s.archive(offchainID, 0, bidder, amount, domain.AttemptFailed, "", "", started)
		return "", fmt.Errorf("place bid on %q: %w", offchainID, err)
	}
	id := res.OnChainID
	step := string(res.Step)

	// A speculative identifier from the degraded fallback path may not exist
	// on-chain at all; it is never safe to bid against unverified.
	a, err := s.reader.GetAuction(ctx, id)
	if err != nil {
		s.archive(offchainID, id, bidder, amount, domain.AttemptFailed, step, "", started)
		return "", fmt.Errorf("place bid on %q: re-read auction %d: %w", offchainID, id, err)
	}

	now, err := s.clock.Now(ctx)
	if err != nil {
		s.archive(offchainID, id, bidder, amount, domain.AttemptFailed, step, "", started)
		return "", fmt.Errorf("place bid on %q: %w", offchainID, err)
	}
	if a.Settled || !s.clock.CanAcceptBids(a.EndTime, now).OK {
		s.archive(offchainID, id, bidder, amount, domain.AttemptRejectedEnded, step, "", started)
		return "", fmt.Errorf("place bid on %q: auction %d: %w", offchainID, id, ledger.ErrAuctionEnded)
	}

	minimum, err := s.minimumBid(ctx, a)
	if err != nil {
		s.archive(offchainID, id, bidder, amount, domain.AttemptFailed, step, "", started)
		return "", fmt.Errorf("place bid on %q: %w", offchainID, err)
	}
	if amount < minimum {
		s.archive(offchainID, id, bidder, amount, domain.AttemptRejectedMinimum, step, "", started)
		return "", fmt.Errorf("place bid on %q: amount %.6f below minimum %.6f: %w",
			offchainID, amount, minimum, ErrBidBelowMinimum)
	}

	txHash, err := retry.Run(ctx, s.policy, func(ctx context.Context) (string, error) {
		return s.ledger.PlaceBid(ctx, id, amount, bidder)
	})
	if err != nil {
		outcome := domain.AttemptFailed
		if errors.Is(err, ledger.ErrAuctionEnded) {
			outcome = domain.AttemptRejectedEnded
		} else if errors.Is(err, ledger.ErrBidTooLow) {
			outcome = domain.AttemptRejectedMinimum
		}
		s.archive(offchainID, id, bidder, amount, outcome, step, "", started)
		return "", fmt.Errorf("place bid on %q: %w", offchainID, err)
	}

	s.reader.InvalidateAuction(id)
	s.recordBid(ctx, offchainID, id, bidder, amount, txHash)
	s.archive(offchainID, id, bidder, amount, domain.AttemptSubmitted, step, txHash, started)

	return txHash, nil
}

// minimumBid asks the contract for its minimum; if that read fails the
// minimum is computed locally from the auction state already in hand.
func (s *Service) minimumBid(ctx context.Context, a *domain.OnChainAuction) (float64, error) {
	min, err := s.reader.GetMinimumBid(ctx, a.ID)
	if err == nil {
		return min, nil
	}
	if errors.Is(err, breaker.ErrDependencyUnavailable) {
		return 0, err
	}

	s.logger.Printf("[bidding] minimum bid read failed for auction %d, computing locally: %v", a.ID, err)
	if a.HighestBidder == "" {
		return a.HighestBid, nil
	}
	return a.HighestBid * (1 + a.MinIncrement), nil
}

// recordBid persists the bid row and supersedes prior bids. Both writes are
// advisory; failure downgrades to a warning because the on-chain bid already
// landed.
func (s *Service) recordBid(ctx context.Context, offchainID string, onChainID uint64, bidder string, amount float64, txHash string) {
	bid := &domain.Bid{
		ID:        uuid.NewString(),
		AuctionID: offchainID,
		OnChainID: onChainID,
		Bidder:    bidder,
		Amount:    amount,
		TxHash:    txHash,
		Status:    domain.BidStatusActive,
		CreatedAt: s.wallClock().Unix(),
	}

	if _, err := breaker.Execute(ctx, s.dbBreaker, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.bids.Insert(ctx, bid)
	}); err != nil {
		s.logger.Printf("[bidding] WARN: bid %s for %q (tx %s) not persisted: %v", bid.ID, offchainID, txHash, err)
		return
	}

	if _, err := breaker.Execute(ctx, s.dbBreaker, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.bids.MarkSuperseded(ctx, offchainID, bid.ID)
	}); err != nil {
		s.logger.Printf("[bidding] WARN: prior bids for %q not superseded: %v", offchainID, err)
	}
}

// archive writes one attempt to the audit store, best effort.
func (s *Service) archive(offchainID string, onChainID uint64, bidder string, amount float64, outcome, step, txHash string, started time.Time) {
	if s.attempts == nil {
		return
	}

	attempt := &domain.BidAttempt{
		AuctionID:   offchainID,
		OnChainID:   onChainID,
		Bidder:      bidder,
		Amount:      amount,
		Outcome:     outcome,
		ResolveStep: step,
		TxHash:      txHash,
		LatencyMs:   s.wallClock().Sub(started).Milliseconds(),
		AttemptedAt: started.UnixMilli(),
	}

	// The archive must never block or fail a bid; use a detached timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.attempts.Insert(ctx, attempt); err != nil {
		s.logger.Printf("[bidding] WARN: attempt archive failed for %q: %v", offchainID, err)
	}
}

// Settle settles an ended auction once the contract reports it publicly
// settleable. Settlement targets auctions the resolution chain would reject
// as no longer live, so only the stored identifier is usable here.
func (s *Service) Settle(ctx context.Context, offchainID string) (string, error) {
	id, err := s.storedID(ctx, offchainID)
	if err != nil {
		return "", fmt.Errorf("settle %q: %w", offchainID, err)
	}

	ok, err := breaker.Execute(ctx, s.contractRead, func(ctx context.Context) (bool, error) {
		return s.ledger.CanSettlePublicly(ctx, id)
	})
	if err != nil {
		return "", fmt.Errorf("settle %q: %w", offchainID, err)
	}
	if !ok {
		return "", fmt.Errorf("settle %q: auction %d not publicly settleable", offchainID, id)
	}

	txHash, err := retry.Run(ctx, s.policy, func(ctx context.Context) (string, error) {
		return s.ledger.SettleAuction(ctx, id)
	})
	if err != nil {
		return "", fmt.Errorf("settle %q: %w", offchainID, err)
	}

	s.reader.InvalidateAuction(id)
	return txHash, nil
}

// Cancel cancels an auction that has no bids.
func (s *Service) Cancel(ctx context.Context, offchainID string) (string, error) {
	id, err := s.storedID(ctx, offchainID)
	if err != nil {
		return "", fmt.Errorf("cancel %q: %w", offchainID, err)
	}

	txHash, err := retry.Run(ctx, s.policy, func(ctx context.Context) (string, error) {
		return s.ledger.CancelAuction(ctx, id)
	})
	if err != nil {
		return "", fmt.Errorf("cancel %q: %w", offchainID, err)
	}

	s.reader.InvalidateAuction(id)
	return txHash, nil
}

// storedID reads the auction row's on-chain identifier. A missing row is a
// successful read that found nothing, not a dependency failure.
func (s *Service) storedID(ctx context.Context, offchainID string) (uint64, error) {
	rec, err := breaker.Execute(ctx, s.dbBreaker, func(ctx context.Context) (*domain.AuctionRecord, error) {
		r, err := s.auctions.GetByID(ctx, offchainID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return r, err
	})
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, storage.ErrNotFound
	}
	if !rec.HasOnChainID() {
		return 0, fmt.Errorf("no on-chain identifier recorded")
	}
	return *rec.OnChainID, nil
}
