package reconcile

import (
	"context"
	"time"

	"auction-engine/internal/breaker"
	"auction-engine/internal/domain"
	"auction-engine/internal/ledger"
	"auction-engine/internal/rpccache"
)

// Cache TTLs for ledger reads. Auction state moves at block cadence; the
// counter and minimum bid change with every write and stay hot for less time.
const (
	auctionTTL = 10 * time.Second
	counterTTL = 5 * time.Second
	minBidTTL  = 5 * time.Second
)

// ChainReader serves ledger reads through the RPC cache and the CONTRACT_READ
// circuit breaker. Write calls never pass through here.
type ChainReader struct {
	reader       ledger.Reader
	cache        *rpccache.Cache
	contractRead *breaker.Breaker
}

// NewChainReader wires a reader to the shared cache and breaker.
func NewChainReader(reader ledger.Reader, cache *rpccache.Cache, contractRead *breaker.Breaker) *ChainReader {
	return &ChainReader{reader: reader, cache: cache, contractRead: contractRead}
}

// GetAuction reads an on-chain auction, serving repeats from cache within the TTL.
func (r *ChainReader) GetAuction(ctx context.Context, id uint64) (*domain.OnChainAuction, error) {
	key := rpccache.Key("auction_get", id)
	if v, ok := r.cache.Get(key); ok {
		return v.(*domain.OnChainAuction), nil
	}

	a, err := breaker.Execute(ctx, r.contractRead, func(ctx context.Context) (*domain.OnChainAuction, error) {
		return r.reader.GetAuction(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	r.cache.Set(key, a, auctionTTL)
	return a, nil
}

// AuctionCounter reads the ledger auction counter, cached briefly.
func (r *ChainReader) AuctionCounter(ctx context.Context) (uint64, error) {
	key := rpccache.Key("auction_counter")
	if v, ok := r.cache.Get(key); ok {
		return v.(uint64), nil
	}

	counter, err := r.counterFresh(ctx)
	if err != nil {
		return 0, err
	}

	r.cache.Set(key, counter, counterTTL)
	return counter, nil
}

// AuctionCounterFresh reads the counter bypassing the cache. Used right after
// a creation transaction, when the cached value is known stale.
func (r *ChainReader) AuctionCounterFresh(ctx context.Context) (uint64, error) {
	counter, err := r.counterFresh(ctx)
	if err != nil {
		return 0, err
	}
	r.cache.Set(rpccache.Key("auction_counter"), counter, counterTTL)
	return counter, nil
}

func (r *ChainReader) counterFresh(ctx context.Context) (uint64, error) {
	return breaker.Execute(ctx, r.contractRead, r.reader.AuctionCounter)
}

// GetMinimumBid reads the contract-computed minimum acceptable bid, cached briefly.
func (r *ChainReader) GetMinimumBid(ctx context.Context, id uint64) (float64, error) {
	key := rpccache.Key("auction_minimumBid", id)
	if v, ok := r.cache.Get(key); ok {
		return v.(float64), nil
	}

	min, err := breaker.Execute(ctx, r.contractRead, func(ctx context.Context) (float64, error) {
		return r.reader.GetMinimumBid(ctx, id)
	})
	if err != nil {
		return 0, err
	}

	r.cache.Set(key, min, minBidTTL)
	return min, nil
}

// InvalidateAuction drops cached reads for one auction after a write lands.
func (r *ChainReader) InvalidateAuction(id uint64) {
	r.cache.Invalidate(rpccache.Key("auction_get", id))
	r.cache.Invalidate(rpccache.Key("auction_minimumBid", id))
	r.cache.Invalidate(rpccache.Key("auction_counter"))
}
