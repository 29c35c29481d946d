package memory

import (
	"context"
	"sort"
	"sync"

	"auction-engine/internal/domain"
	"auction-engine/internal/storage"
)

// BidAttemptStore is an in-memory implementation of storage.BidAttemptStore.
type BidAttemptStore struct {
	mu   sync.RWMutex
	data []*domain.BidAttempt
}

// NewBidAttemptStore creates a new in-memory attempt archive.
func NewBidAttemptStore() *BidAttemptStore {
	return &BidAttemptStore{}
}

// Compile-time interface check.
var _ storage.BidAttemptStore = (*BidAttemptStore)(nil)

// Insert archives one attempt.
func (s *BidAttemptStore) Insert(_ context.Context, a *domain.BidAttempt) error {
	if a == nil || a.AuctionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	s.data = append(s.data, &cp)
	return nil
}

// GetByAuctionID retrieves archived attempts for an auction, oldest first.
func (s *BidAttemptStore) GetByAuctionID(_ context.Context, auctionID string) ([]*domain.BidAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.BidAttempt
	for _, a := range s.data {
		if a.AuctionID == auctionID {
			cp := *a
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].AttemptedAt < result[j].AttemptedAt
	})

	return result, nil
}
