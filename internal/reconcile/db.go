package reconcile

import (
	"context"
	"errors"

	"auction-engine/internal/breaker"
	"auction-engine/internal/domain"
	"auction-engine/internal/storage"
)

// fetchRecord reads an auction row through the database breaker. A missing
// row is a successful read that found nothing, not a dependency failure; it
// must not push the breaker toward open.
func fetchRecord(ctx context.Context, b *breaker.Breaker, store storage.AuctionStore, id string) (*domain.AuctionRecord, error) {
	row, err := breaker.Execute(ctx, b, func(ctx context.Context) (*domain.AuctionRecord, error) {
		rec, err := store.GetByID(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return rec, err
	})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, storage.ErrNotFound
	}
	return row, nil
}
