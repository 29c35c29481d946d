package clickhouse

import (
	"context"
	"fmt"

	"auction-engine/internal/domain"
	"auction-engine/internal/storage"
)

// BidAttemptStore implements storage.BidAttemptStore using ClickHouse.
// MergeTree does not enforce uniqueness; the archive is append-only by
// construction and duplicates are harmless in analysis queries.
type BidAttemptStore struct {
	conn *Conn
}

// NewBidAttemptStore creates a new BidAttemptStore.
func NewBidAttemptStore(conn *Conn) *BidAttemptStore {
	return &BidAttemptStore{conn: conn}
}

// Compile-time interface check.
var _ storage.BidAttemptStore = (*BidAttemptStore)(nil)

// Insert archives one attempt.
func (s *BidAttemptStore) Insert(ctx context.Context, a *domain.BidAttempt) error {
	if a == nil || a.AuctionID == "" {
		return storage.ErrInvalidInput
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO bid_attempts (
			auction_id, on_chain_auction_id, bidder, amount, outcome, resolve_step, tx_hash, latency_ms, attempted_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		a.AuctionID, a.OnChainID, a.Bidder, a.Amount,
		a.Outcome, a.ResolveStep, a.TxHash, uint64(a.LatencyMs), uint64(a.AttemptedAt),
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByAuctionID retrieves archived attempts for an auction, oldest first.
func (s *BidAttemptStore) GetByAuctionID(ctx context.Context, auctionID string) ([]*domain.BidAttempt, error) {
	query := `
		SELECT auction_id, on_chain_auction_id, bidder, amount, outcome, resolve_step, tx_hash, latency_ms, attempted_at
		FROM bid_attempts
		WHERE auction_id = ?
		ORDER BY attempted_at ASC
	`

	rows, err := s.conn.Query(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("get bid attempts: %w", err)
	}
	defer rows.Close()

	var result []*domain.BidAttempt
	for rows.Next() {
		var (
			a         domain.BidAttempt
			latencyMs uint64
			attempted uint64
		)
		err := rows.Scan(
			&a.AuctionID, &a.OnChainID, &a.Bidder, &a.Amount,
			&a.Outcome, &a.ResolveStep, &a.TxHash, &latencyMs, &attempted,
		)
		if err != nil {
			return nil, fmt.Errorf("scan bid attempt row: %w", err)
		}
		a.LatencyMs = int64(latencyMs)
		a.AttemptedAt = int64(attempted)
		result = append(result, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bid attempt rows: %w", err)
	}

	return result, nil
}
