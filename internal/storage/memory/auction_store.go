package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"auction-engine/internal/domain"
	"auction-engine/internal/storage"
)

// AuctionStore is an in-memory implementation of storage.AuctionStore.
type AuctionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.AuctionRecord
	now  func() time.Time
}

// NewAuctionStore creates a new in-memory auction store.
func NewAuctionStore() *AuctionStore {
	return &AuctionStore{
		data: make(map[string]*domain.AuctionRecord),
		now:  time.Now,
	}
}

// Compile-time interface check.
var _ storage.AuctionStore = (*AuctionStore)(nil)

// Insert adds a new auction record. Returns ErrDuplicateKey if id exists.
func (s *AuctionStore) Insert(_ context.Context, a *domain.AuctionRecord) error {
	if a == nil || a.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[a.ID]; exists {
		return storage.ErrDuplicateKey
	}

	cp := cloneAuction(a)
	if cp.CreatedAt == 0 {
		cp.CreatedAt = s.now().Unix()
	}
	s.data[a.ID] = cp
	return nil
}

// GetByID retrieves an auction by its off-chain id.
func (s *AuctionStore) GetByID(_ context.Context, id string) (*domain.AuctionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneAuction(a), nil
}

// SetOnChainID persists the on-chain identifier onto the row.
func (s *AuctionStore) SetOnChainID(_ context.Context, id string, onChainID uint64) error {
	if onChainID == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	v := onChainID
	a.OnChainID = &v
	return nil
}

// ClearOnChainID nulls out a stored identifier proven invalid.
func (s *AuctionStore) ClearOnChainID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	a.OnChainID = nil
	return nil
}

// ListMissingOnChainID retrieves live auctions with no stored on-chain id.
func (s *AuctionStore) ListMissingOnChainID(_ context.Context, limit int) ([]*domain.AuctionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now().Unix()

	var result []*domain.AuctionRecord
	for _, a := range s.data {
		if a.OnChainID == nil && a.EndTime > now {
			result = append(result, cloneAuction(a))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt < result[j].CreatedAt
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// cloneAuction deep-copies a record so callers never share store memory.
func cloneAuction(a *domain.AuctionRecord) *domain.AuctionRecord {
	cp := *a
	if a.OnChainID != nil {
		v := *a.OnChainID
		cp.OnChainID = &v
	}
	return &cp
}
