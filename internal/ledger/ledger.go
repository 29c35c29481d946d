package ledger

import (
	"context"

	"auction-engine/internal/domain"
)

// Reader defines the read-only contract surface of the auction ledger.
type Reader interface {
	// AuctionCounter returns the ledger-side monotonic auction counter.
	// A valid auction identifier lies in [1, counter].
	AuctionCounter(ctx context.Context) (uint64, error)

	// GetAuction retrieves and decodes an on-chain auction by identifier.
	// Returns ErrAuctionNotFound for reverted or never-written slots.
	GetAuction(ctx context.Context, id uint64) (*domain.OnChainAuction, error)

	// GetMinimumBid returns the contract-computed minimum acceptable bid.
	GetMinimumBid(ctx context.Context, id uint64) (float64, error)

	// CanSettlePublicly reports whether anyone may settle the auction.
	CanSettlePublicly(ctx context.Context, id uint64) (bool, error)

	// Paused reports whether the contract is paused. Contracts that predate
	// the pause switch are reported as not paused, not as an error.
	Paused(ctx context.Context) (bool, error)

	// LatestBlock returns the most recent block header.
	LatestBlock(ctx context.Context) (*Block, error)
}

// Writer defines the mutating contract surface. Every call returns the hash
// of the broadcast transaction.
type Writer interface {
	// CreateAuction creates a new on-chain auction back-referencing offchainID.
	CreateAuction(ctx context.Context, offchainID string, startingBid float64, durationSeconds int64) (string, error)

	// PlaceBid submits a bid against an on-chain auction.
	PlaceBid(ctx context.Context, id uint64, amount float64, bidder string) (string, error)

	// SettleAuction settles an ended auction.
	SettleAuction(ctx context.Context, id uint64) (string, error)

	// CancelAuction cancels an auction with no bids.
	CancelAuction(ctx context.Context, id uint64) (string, error)
}

// Client combines the full contract surface.
type Client interface {
	Reader
	Writer
}

// Block is a ledger block header. Timestamp is the chain-authoritative clock.
type Block struct {
	Number    uint64
	Timestamp int64 // Unix timestamp (seconds)
}
