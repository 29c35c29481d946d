package reconcile

import (
	"context"
	"log"
	"time"

	"auction-engine/internal/breaker"
	"auction-engine/internal/domain"
	"auction-engine/internal/storage"
)

// Default adopter tuning.
const (
	DefaultAdopterBatchSize = 50
	DefaultAdopterScanDepth = 256
)

// AdopterConfig wires an Adopter's dependencies.
type AdopterConfig struct {
	Reader    *ChainReader
	Auctions  storage.AuctionStore
	DBBreaker *breaker.Breaker
	BatchSize int
	ScanDepth uint64
	Logger    *log.Logger
}

// Adopter repairs orphaned creations: on-chain auctions that exist but whose
// database rows never received the identifier. It walks recent ledger
// auctions and matches their offchainId back-references against rows still
// missing a pointer.
type Adopter struct {
	reader    *ChainReader
	auctions  storage.AuctionStore
	dbBreaker *breaker.Breaker
	batchSize int
	scanDepth uint64
	logger    *log.Logger
}

// NewAdopter creates an Adopter.
func NewAdopter(cfg AdopterConfig) *Adopter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultAdopterBatchSize
	}
	if cfg.ScanDepth == 0 {
		cfg.ScanDepth = DefaultAdopterScanDepth
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Adopter{
		reader:    cfg.Reader,
		auctions:  cfg.Auctions,
		dbBreaker: cfg.DBBreaker,
		batchSize: cfg.BatchSize,
		scanDepth: cfg.ScanDepth,
		logger:    cfg.Logger,
	}
}

// RunOnce performs a single adoption pass and returns how many rows were
// re-linked. Rows with no matching on-chain auction are left for the
// on-demand creation path at bid time.
func (a *Adopter) RunOnce(ctx context.Context) (int, error) {
	rows, err := breaker.Execute(ctx, a.dbBreaker, func(ctx context.Context) ([]*domain.AuctionRecord, error) {
		return a.auctions.ListMissingOnChainID(ctx, a.batchSize)
	})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	want := make(map[string]*domain.AuctionRecord, len(rows))
	for _, r := range rows {
		want[r.ID] = r
	}

	counter, err := a.reader.AuctionCounterFresh(ctx)
	if err != nil {
		return 0, err
	}

	lo := uint64(1)
	if counter > a.scanDepth {
		lo = counter - a.scanDepth + 1
	}

	adopted := 0
	for id := counter; id >= lo && len(want) > 0; id-- {
		oc, err := a.reader.GetAuction(ctx, id)
		if err != nil {
			continue
		}
		if oc.OffchainID == "" || oc.Settled {
			continue
		}
		rec, ok := want[oc.OffchainID]
		if !ok {
			continue
		}

		if _, err := breaker.Execute(ctx, a.dbBreaker, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, a.auctions.SetOnChainID(ctx, rec.ID, id)
		}); err != nil {
			a.logger.Printf("[adopter] failed to link %q to on-chain id %d: %v", rec.ID, id, err)
			continue
		}

		a.logger.Printf("[adopter] linked orphaned on-chain auction %d to %q", id, rec.ID)
		delete(want, oc.OffchainID)
		adopted++
	}

	if len(want) > 0 {
		a.logger.Printf("[adopter] %d row(s) still unlinked; creation is deferred to bid time", len(want))
	}

	return adopted, nil
}

// Run loops RunOnce on the given interval until ctx is done.
func (a *Adopter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if n, err := a.RunOnce(ctx); err != nil {
			a.logger.Printf("[adopter] pass failed: %v", err)
		} else if n > 0 {
			a.logger.Printf("[adopter] adopted %d orphan(s)", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
