package memory

import (
	"context"
	"errors"
	"testing"

	"auction-engine/internal/domain"
	"auction-engine/internal/storage"
)

func TestBidStore_InsertAndGet(t *testing.T) {
	store := NewBidStore()
	ctx := context.Background()

	bid := &domain.Bid{
		ID:        "b1",
		AuctionID: "a1",
		OnChainID: 5,
		Bidder:    "0xbidder",
		Amount:    1.05,
		TxHash:    "0xabc",
		Status:    domain.BidStatusActive,
		CreatedAt: 1000,
	}

	if err := store.Insert(ctx, bid); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByAuctionID(ctx, "a1")
	if err != nil {
		t.Fatalf("GetByAuctionID failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 bid, got %d", len(got))
	}
	if got[0].Amount != 1.05 {
		t.Errorf("Amount mismatch: got %f", got[0].Amount)
	}
}

func TestBidStore_DuplicateKey(t *testing.T) {
	store := NewBidStore()
	ctx := context.Background()

	bid := &domain.Bid{ID: "b1", AuctionID: "a1"}

	if err := store.Insert(ctx, bid); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.Insert(ctx, bid)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestBidStore_NewestFirst(t *testing.T) {
	store := NewBidStore()
	ctx := context.Background()

	store.Insert(ctx, &domain.Bid{ID: "b1", AuctionID: "a1", CreatedAt: 1000})
	store.Insert(ctx, &domain.Bid{ID: "b2", AuctionID: "a1", CreatedAt: 2000})
	store.Insert(ctx, &domain.Bid{ID: "b3", AuctionID: "a2", CreatedAt: 3000})

	got, _ := store.GetByAuctionID(ctx, "a1")
	if len(got) != 2 {
		t.Fatalf("expected 2 bids, got %d", len(got))
	}
	if got[0].ID != "b2" {
		t.Errorf("expected newest bid first, got %s", got[0].ID)
	}
}

func TestBidStore_MarkSuperseded(t *testing.T) {
	store := NewBidStore()
	ctx := context.Background()

	store.Insert(ctx, &domain.Bid{ID: "b1", AuctionID: "a1", Status: domain.BidStatusActive, CreatedAt: 1})
	store.Insert(ctx, &domain.Bid{ID: "b2", AuctionID: "a1", Status: domain.BidStatusActive, CreatedAt: 2})
	store.Insert(ctx, &domain.Bid{ID: "b3", AuctionID: "a2", Status: domain.BidStatusActive, CreatedAt: 3})

	if err := store.MarkSuperseded(ctx, "a1", "b2"); err != nil {
		t.Fatalf("MarkSuperseded failed: %v", err)
	}

	got, _ := store.GetByAuctionID(ctx, "a1")
	for _, b := range got {
		switch b.ID {
		case "b1":
			if b.Status != domain.BidStatusSuperseded {
				t.Errorf("expected b1 superseded, got %s", b.Status)
			}
		case "b2":
			if b.Status != domain.BidStatusActive {
				t.Errorf("expected b2 active, got %s", b.Status)
			}
		}
	}

	other, _ := store.GetByAuctionID(ctx, "a2")
	if other[0].Status != domain.BidStatusActive {
		t.Error("bids on other auctions must be untouched")
	}
}
