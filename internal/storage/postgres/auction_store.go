package postgres

import (
	"context"
	"fmt"

	"auction-engine/internal/domain"
	"auction-engine/internal/storage"
)

// AuctionStore implements storage.AuctionStore using PostgreSQL.
type AuctionStore struct {
	pool *Pool
}

// NewAuctionStore creates a new AuctionStore.
func NewAuctionStore(pool *Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AuctionStore = (*AuctionStore)(nil)

// Insert adds a new auction record. Returns ErrDuplicateKey if id exists.
func (s *AuctionStore) Insert(ctx context.Context, a *domain.AuctionRecord) error {
	if a == nil || a.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO auctions (
			id, on_chain_auction_id, starting_bid, end_time, seller, created_at
		) VALUES ($1, $2, $3, $4, $5, COALESCE(NULLIF($6, 0), EXTRACT(EPOCH FROM now())::bigint))
	`

	_, err := s.pool.Exec(ctx, query,
		a.ID,
		a.OnChainID,
		a.StartingBid,
		a.EndTime,
		a.Seller,
		a.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert auction: %w", err)
	}
	return nil
}

// GetByID retrieves an auction by its off-chain id.
func (s *AuctionStore) GetByID(ctx context.Context, id string) (*domain.AuctionRecord, error) {
	query := `
		SELECT id, on_chain_auction_id, starting_bid, end_time, seller, created_at
		FROM auctions
		WHERE id = $1
	`

	var a domain.AuctionRecord
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&a.ID,
		&a.OnChainID,
		&a.StartingBid,
		&a.EndTime,
		&a.Seller,
		&a.CreatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get auction by id: %w", err)
	}
	return &a, nil
}

// SetOnChainID persists the on-chain identifier onto the row.
func (s *AuctionStore) SetOnChainID(ctx context.Context, id string, onChainID uint64) error {
	if onChainID == 0 {
		return storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE auctions SET on_chain_auction_id = $2 WHERE id = $1`,
		id, onChainID,
	)
	if err != nil {
		return fmt.Errorf("set on-chain id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ClearOnChainID nulls out a stored identifier proven invalid.
func (s *AuctionStore) ClearOnChainID(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE auctions SET on_chain_auction_id = NULL WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("clear on-chain id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListMissingOnChainID retrieves live auctions with no stored on-chain id.
func (s *AuctionStore) ListMissingOnChainID(ctx context.Context, limit int) ([]*domain.AuctionRecord, error) {
	query := `
		SELECT id, on_chain_auction_id, starting_bid, end_time, seller, created_at
		FROM auctions
		WHERE on_chain_auction_id IS NULL
		  AND end_time > EXTRACT(EPOCH FROM now())::bigint
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list auctions missing on-chain id: %w", err)
	}
	defer rows.Close()

	var result []*domain.AuctionRecord
	for rows.Next() {
		var a domain.AuctionRecord
		if err := rows.Scan(&a.ID, &a.OnChainID, &a.StartingBid, &a.EndTime, &a.Seller, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan auction row: %w", err)
		}
		result = append(result, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate auction rows: %w", err)
	}
	return result, nil
}
