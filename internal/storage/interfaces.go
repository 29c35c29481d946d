package storage

import (
	"context"

	"auction-engine/internal/domain"
)

// AuctionStore provides access to the auctions table. The on-chain id column
// is mutated only by the creation transaction and the recovery path that
// clears it when proven invalid.
type AuctionStore interface {
	// Insert adds a new auction record. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, a *domain.AuctionRecord) error

	// GetByID retrieves an auction by its off-chain id. Returns ErrNotFound
	// if not exists.
	GetByID(ctx context.Context, id string) (*domain.AuctionRecord, error)

	// SetOnChainID persists the on-chain identifier onto the row.
	// Returns ErrNotFound if the row does not exist.
	SetOnChainID(ctx context.Context, id string, onChainID uint64) error

	// ClearOnChainID nulls out a stored identifier proven invalid.
	ClearOnChainID(ctx context.Context, id string) error

	// ListMissingOnChainID retrieves auctions with no stored on-chain id
	// whose deadline has not passed, up to limit rows.
	ListMissingOnChainID(ctx context.Context, limit int) ([]*domain.AuctionRecord, error)
}

// BidStore provides access to the append-only bids table. Rows are advisory;
// the ledger stays authoritative for who is winning.
type BidStore interface {
	// Insert adds a new bid row. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, b *domain.Bid) error

	// GetByAuctionID retrieves all bids for an auction, newest first.
	GetByAuctionID(ctx context.Context, auctionID string) ([]*domain.Bid, error)

	// MarkSuperseded flips prior bids for the auction to SUPERSEDED, keeping
	// exceptBidID active. Last-writer-wins, advisory only.
	MarkSuperseded(ctx context.Context, auctionID, exceptBidID string) error
}

// BidAttemptStore archives bid placement attempts for offline analysis.
// Append-only; never read on the hot path.
type BidAttemptStore interface {
	// Insert archives one attempt.
	Insert(ctx context.Context, a *domain.BidAttempt) error

	// GetByAuctionID retrieves archived attempts for an auction, oldest first.
	GetByAuctionID(ctx context.Context, auctionID string) ([]*domain.BidAttempt, error)
}
