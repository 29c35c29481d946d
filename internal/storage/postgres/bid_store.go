package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"auction-engine/internal/domain"
	"auction-engine/internal/storage"
)

// BidStore implements storage.BidStore using PostgreSQL.
type BidStore struct {
	pool *Pool
}

// NewBidStore creates a new BidStore.
func NewBidStore(pool *Pool) *BidStore {
	return &BidStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BidStore = (*BidStore)(nil)

// Insert adds a new bid row. Returns ErrDuplicateKey if id exists.
func (s *BidStore) Insert(ctx context.Context, b *domain.Bid) error {
	if b == nil || b.ID == "" || b.AuctionID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO bids (
			id, auction_id, on_chain_auction_id, bidder, amount, tx_hash, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
		b.ID,
		b.AuctionID,
		b.OnChainID,
		b.Bidder,
		b.Amount,
		b.TxHash,
		b.Status,
		b.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert bid: %w", err)
	}
	return nil
}

// GetByAuctionID retrieves all bids for an auction, newest first.
func (s *BidStore) GetByAuctionID(ctx context.Context, auctionID string) ([]*domain.Bid, error) {
	query := `
		SELECT id, auction_id, on_chain_auction_id, bidder, amount, tx_hash, status, created_at
		FROM bids
		WHERE auction_id = $1
		ORDER BY created_at DESC, id DESC
	`

	rows, err := s.pool.Query(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("get bids by auction id: %w", err)
	}
	defer rows.Close()

	return scanBids(rows)
}

// MarkSuperseded flips prior bids for the auction to SUPERSEDED, keeping
// exceptBidID active. Advisory only; no rows affected is not an error.
func (s *BidStore) MarkSuperseded(ctx context.Context, auctionID, exceptBidID string) error {
	query := `
		UPDATE bids
		SET status = $3
		WHERE auction_id = $1 AND id <> $2 AND status <> $3
	`

	if _, err := s.pool.Exec(ctx, query, auctionID, exceptBidID, domain.BidStatusSuperseded); err != nil {
		return fmt.Errorf("mark bids superseded: %w", err)
	}
	return nil
}

// scanBids scans multiple rows into a slice of Bid.
func scanBids(rows pgx.Rows) ([]*domain.Bid, error) {
	var bids []*domain.Bid

	for rows.Next() {
		var b domain.Bid
		err := rows.Scan(
			&b.ID,
			&b.AuctionID,
			&b.OnChainID,
			&b.Bidder,
			&b.Amount,
			&b.TxHash,
			&b.Status,
			&b.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan bid row: %w", err)
		}
		bids = append(bids, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bid rows: %w", err)
	}

	return bids, nil
}
