package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"auction-engine/internal/breaker"
	"auction-engine/internal/chaintime"
	"auction-engine/internal/domain"
	"auction-engine/internal/ledger"
	"auction-engine/internal/retry"
	"auction-engine/internal/storage"
)

// DefaultMinDuration is the floor for on-chain auction duration. The ledger
// contract rejects auctions shorter than its own minimum; padding with the
// oracle's safety buffer absorbs the latency between computing the duration
// and the transaction being mined.
const DefaultMinDuration = 10 * time.Minute

// CreatorConfig wires a Creator's dependencies.
type CreatorConfig struct {
	Ledger      ledger.Client
	Clock       *chaintime.Oracle
	Auctions    storage.AuctionStore
	Reader      *ChainReader
	DBBreaker   *breaker.Breaker
	Policy      retry.Policy
	MinDuration time.Duration
	Logger      *log.Logger
}

// Creator runs the auction-creation transaction: compute duration, broadcast
// the create call, read back the assigned identifier, persist it. A mined
// transaction is never rolled back; failures after broadcast leave an orphaned
// on-chain auction to be adopted later.
type Creator struct {
	ledger      ledger.Client
	clock       *chaintime.Oracle
	auctions    storage.AuctionStore
	reader      *ChainReader
	dbBreaker   *breaker.Breaker
	policy      retry.Policy
	minDuration time.Duration
	locks       *keyedLock
	logger      *log.Logger
}

// NewCreator creates a Creator.
func NewCreator(cfg CreatorConfig) *Creator {
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = DefaultMinDuration
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Creator{
		ledger:      cfg.Ledger,
		clock:       cfg.Clock,
		auctions:    cfg.Auctions,
		reader:      cfg.Reader,
		dbBreaker:   cfg.DBBreaker,
		policy:      cfg.Policy,
		minDuration: cfg.MinDuration,
		locks:       newKeyedLock(),
		logger:      cfg.Logger,
	}
}

// Create creates the on-chain auction for record and returns its identifier.
// Creation per off-chain id is serialized within this process; two concurrent
// callers for the same record produce a single transaction. Cross-process
// duplicates are a business-level anomaly, not a safety violation, and are
// not guarded here.
func (c *Creator) Create(ctx context.Context, record *domain.AuctionRecord) (uint64, error) {
	if record == nil || record.ID == "" {
		return 0, fmt.Errorf("create on-chain auction: %w", storage.ErrInvalidInput)
	}

	unlock := c.locks.lock(record.ID)
	defer unlock()

	// A concurrent holder may have finished the job while we waited. Only a
	// row identifier that checks out live on-chain short-circuits; an id the
	// ledger cannot confirm must not be echoed back as a creation result.
	if fresh, err := fetchRecord(ctx, c.dbBreaker, c.auctions, record.ID); err == nil && fresh.HasOnChainID() {
		if ok, _, _ := validateAuction(ctx, c.reader, c.clock, *fresh.OnChainID); ok {
			return *fresh.OnChainID, nil
		}
	}

	now, err := c.clock.Now(ctx)
	if err != nil {
		return 0, fmt.Errorf("create auction %q: %w", record.ID, err)
	}

	remaining := record.EndTime - now.Timestamp
	if remaining <= 0 {
		return 0, fmt.Errorf("create auction %q: deadline %d already passed at chain time %d: %w",
			record.ID, record.EndTime, now.Timestamp, ledger.ErrAuctionEnded)
	}

	floor := int64((c.minDuration + c.clock.SafetyBuffer()) / time.Second)
	duration := remaining
	if duration < floor {
		duration = floor
	}

	// Retries here cover the pre-broadcast RPC call only. A transaction that
	// was mined must never be resubmitted; the client surfaces broadcast
	// acceptance as success and anything after that is read-back territory.
	txHash, err := retry.Run(ctx, c.policy, func(ctx context.Context) (string, error) {
		return c.ledger.CreateAuction(ctx, record.ID, record.StartingBid, duration)
	})
	if err != nil {
		return 0, fmt.Errorf("create auction %q: %w", record.ID, err)
	}

	onChainID, err := c.reader.AuctionCounterFresh(ctx)
	if err != nil {
		orphan := &OrphanedCreationError{OffchainID: record.ID, TxHash: txHash, Err: err}
		c.logger.Printf("[reconcile] WARN: %v", orphan)
		return 0, orphan
	}
	if onChainID == 0 {
		orphan := &OrphanedCreationError{OffchainID: record.ID, TxHash: txHash,
			Err: fmt.Errorf("counter read zero after creation")}
		c.logger.Printf("[reconcile] WARN: %v", orphan)
		return 0, orphan
	}

	if _, err := breaker.Execute(ctx, c.dbBreaker, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.auctions.SetOnChainID(ctx, record.ID, onChainID)
	}); err != nil {
		// The auction exists and we know its identifier; only the database
		// pointer is missing. Surface the id and let the reconciler repair
		// the row.
		c.logger.Printf("[reconcile] WARN: auction %q created as on-chain id %d (tx %s) but persist failed: %v",
			record.ID, onChainID, txHash, err)
	}

	c.reader.InvalidateAuction(onChainID)
	c.logger.Printf("[reconcile] created on-chain auction %d for %q (tx %s, duration %ds)",
		onChainID, record.ID, txHash, duration)

	return onChainID, nil
}
