// Package reconcile keeps off-chain auction rows and on-chain auctions
// pointing at each other. The resolution chain turns a possibly stale or
// missing stored identifier into a usable on-chain one, creating the auction
// on the ledger when nothing else works.
package reconcile

import (
	"context"
	"fmt"
	"log"

	"auction-engine/internal/breaker"
	"auction-engine/internal/chaintime"
	"auction-engine/internal/domain"
	"auction-engine/internal/storage"
)

// Step identifies which link of the resolution chain produced an identifier.
type Step string

// Resolution steps, in chain order.
const (
	StepStoredID           Step = "STORED_ID"
	StepDatabase           Step = "DATABASE"
	StepCreated            Step = "CREATED"
	StepSequentialFallback Step = "SEQUENTIAL_FALLBACK"
)

// Resolution is a resolved on-chain identifier plus the step that produced it.
type Resolution struct {
	OnChainID uint64
	Step      Step
}

// Speculative reports whether the identifier came from the sequential
// fallback and may not exist on-chain yet. Callers must re-validate it
// before submitting any write against it.
func (r Resolution) Speculative() bool {
	return r.Step == StepSequentialFallback
}

// ResolverConfig wires a Resolver's dependencies.
type ResolverConfig struct {
	Reader   *ChainReader
	Auctions storage.AuctionStore
	Creator  *Creator
	Clock    *chaintime.Oracle
	Breakers *breaker.Registry
	Logger   *log.Logger
}

// Resolver runs the identifier resolution chain.
type Resolver struct {
	reader    *ChainReader
	auctions  storage.AuctionStore
	creator   *Creator
	clock     *chaintime.Oracle
	breakers  *breaker.Registry
	dbBreaker *breaker.Breaker
	logger    *log.Logger
}

// NewResolver creates a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Resolver{
		reader:    cfg.Reader,
		auctions:  cfg.Auctions,
		creator:   cfg.Creator,
		clock:     cfg.Clock,
		breakers:  cfg.Breakers,
		dbBreaker: cfg.Breakers.Get(breaker.DatabaseOperations),
		logger:    cfg.Logger,
	}
}

// Resolve maps an off-chain auction id onto a live on-chain identifier.
// Steps run in strict order, each short-circuiting on success:
//
//  1. validate the caller-supplied stored identifier against the ledger
//  2. re-read the database row, whose value is authoritative over the argument
//  3. create the on-chain auction
//  4. speculate counter+1 as the identifier the next creation would receive
//
// Step 4 is degraded-mode only; the returned Resolution is marked speculative
// and must be re-validated before any write. When every step fails the error
// is a *CriticalResolutionFailure.
func (r *Resolver) Resolve(ctx context.Context, offchainID string, storedOnChainID *uint64, record *domain.AuctionRecord) (Resolution, error) {
	var (
		lastID      uint64
		lastErr     error
		invalidSeen uint64
	)

	// Step 1: caller-supplied identifier.
	if storedOnChainID != nil && *storedOnChainID > 0 {
		id := *storedOnChainID
		lastID = id
		ok, permanent, err := r.validate(ctx, id)
		if ok {
			return Resolution{OnChainID: id, Step: StepStoredID}, nil
		}
		lastErr = err
		if permanent {
			invalidSeen = id
			r.logger.Printf("[reconcile] discarding stored on-chain id %d for %q: %v", id, offchainID, err)
		}
	}

	// Step 2: database row. Covers a concurrent update the caller's in-memory
	// value missed; the row is authoritative over the argument.
	row, rowErr := fetchRecord(ctx, r.dbBreaker, r.auctions, offchainID)
	if rowErr != nil {
		if lastErr == nil {
			lastErr = rowErr
		}
	} else {
		record = row
		if row.HasOnChainID() {
			id := *row.OnChainID
			lastID = id
			switch {
			case id == invalidSeen:
				// Step 1 already proved this identifier wrong.
				r.clearStoredID(ctx, offchainID, id)
			default:
				ok, permanent, err := r.validate(ctx, id)
				if ok {
					return Resolution{OnChainID: id, Step: StepDatabase}, nil
				}
				lastErr = err
				if permanent {
					r.clearStoredID(ctx, offchainID, id)
				}
			}
		}
	}

	// Step 3: emergency creation.
	if record != nil {
		id, err := r.creator.Create(ctx, record)
		if err == nil {
			return Resolution{OnChainID: id, Step: StepCreated}, nil
		}
		lastErr = err
		r.logger.Printf("[reconcile] emergency creation failed for %q: %v", offchainID, err)
	} else if lastErr == nil {
		lastErr = fmt.Errorf("auction record %q unavailable: %w", offchainID, storage.ErrNotFound)
	}

	// Step 4: sequential fallback. The identifier the next creation would
	// receive. Kept only so the caller does not crash while the ledger or
	// database is unwritable; never equivalent to a verified identifier.
	counter, err := r.reader.AuctionCounterFresh(ctx)
	if err != nil {
		return Resolution{}, &CriticalResolutionFailure{
			OffchainID:    offchainID,
			LastOnChainID: lastID,
			Dependencies:  r.breakers.Snapshots(),
			Err:           lastErr,
		}
	}

	id := counter + 1
	if id < 1 {
		id = 1
	}
	r.logger.Printf("[reconcile] WARN: degraded-mode sequential fallback for %q: speculative on-chain id %d (counter %d), last error: %v",
		offchainID, id, counter, lastErr)

	return Resolution{OnChainID: id, Step: StepSequentialFallback}, nil
}

func (r *Resolver) validate(ctx context.Context, id uint64) (ok, permanent bool, err error) {
	return validateAuction(ctx, r.reader, r.clock, id)
}

// clearStoredID nulls a database pointer proven invalid so later resolutions
// skip straight to recovery. Best effort; failure only logs.
func (r *Resolver) clearStoredID(ctx context.Context, offchainID string, id uint64) {
	_, err := breaker.Execute(ctx, r.dbBreaker, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.auctions.ClearOnChainID(ctx, offchainID)
	})
	if err != nil {
		r.logger.Printf("[reconcile] failed to clear stale on-chain id %d for %q: %v", id, offchainID, err)
		return
	}
	r.logger.Printf("[reconcile] cleared stale on-chain id %d for %q", id, offchainID)
}
