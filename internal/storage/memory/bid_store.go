package memory

import (
	"context"
	"sort"
	"sync"

	"auction-engine/internal/domain"
	"auction-engine/internal/storage"
)

// BidStore is an in-memory implementation of storage.BidStore.
type BidStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Bid // keyed by bid id
}

// NewBidStore creates a new in-memory bid store.
func NewBidStore() *BidStore {
	return &BidStore{data: make(map[string]*domain.Bid)}
}

// Compile-time interface check.
var _ storage.BidStore = (*BidStore)(nil)

// Insert adds a new bid row. Returns ErrDuplicateKey if id exists.
func (s *BidStore) Insert(_ context.Context, b *domain.Bid) error {
	if b == nil || b.ID == "" || b.AuctionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[b.ID]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *b
	s.data[b.ID] = &cp
	return nil
}

// GetByAuctionID retrieves all bids for an auction, newest first.
func (s *BidStore) GetByAuctionID(_ context.Context, auctionID string) ([]*domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Bid
	for _, b := range s.data {
		if b.AuctionID == auctionID {
			cp := *b
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt > result[j].CreatedAt
		}
		return result[i].ID > result[j].ID
	})

	return result, nil
}

// MarkSuperseded flips prior bids for the auction to SUPERSEDED.
func (s *BidStore) MarkSuperseded(_ context.Context, auctionID, exceptBidID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.data {
		if b.AuctionID == auctionID && b.ID != exceptBidID {
			b.Status = domain.BidStatusSuperseded
		}
	}
	return nil
}
