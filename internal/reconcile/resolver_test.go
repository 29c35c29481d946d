package reconcile

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"auction-engine/internal/breaker"
	"auction-engine/internal/chaintime"
	"auction-engine/internal/domain"
	"auction-engine/internal/ledger"
	"auction-engine/internal/ledger/stub"
	"auction-engine/internal/retry"
	"auction-engine/internal/rpccache"
	"auction-engine/internal/storage/memory"
)

var chainNow = time.Now().Unix()

type harness struct {
	led      *stub.Ledger
	auctions *memory.AuctionStore
	breakers *breaker.Registry
	cache    *rpccache.Cache
	reader   *ChainReader
	clock    *chaintime.Oracle
	creator  *Creator
	resolver *Resolver
}

func newHarness(t *testing.T, now int64) *harness {
	t.Helper()

	quiet := log.New(io.Discard, "", 0)

	led := stub.New(now)
	reg := breaker.NewRegistry(breaker.DefaultConfig())
	cache := rpccache.New()
	contractRead := reg.Get(breaker.ContractRead)
	reader := NewChainReader(led, cache, contractRead)
	clock := chaintime.New(led, contractRead, chaintime.Options{Logger: quiet})
	auctions := memory.NewAuctionStore()

	creator := NewCreator(CreatorConfig{
		Ledger:    led,
		Clock:     clock,
		Auctions:  auctions,
		Reader:    reader,
		DBBreaker: reg.Get(breaker.DatabaseOperations),
		Policy: retry.Policy{
			MaxRetries: 2,
			BaseDelay:  time.Millisecond,
			MaxDelay:   5 * time.Millisecond,
			Timeout:    time.Second,
			IsTerminal: ledger.IsTerminal,
		},
		MinDuration: time.Minute,
		Logger:      quiet,
	})

	resolver := NewResolver(ResolverConfig{
		Reader:   reader,
		Auctions: auctions,
		Creator:  creator,
		Clock:    clock,
		Breakers: reg,
		Logger:   quiet,
	})

	return &harness{
		led:      led,
		auctions: auctions,
		breakers: reg,
		cache:    cache,
		reader:   reader,
		clock:    clock,
		creator:  creator,
		resolver: resolver,
	}
}

func liveAuction(id uint64, offchainID string) *domain.OnChainAuction {
	return &domain.OnChainAuction{
		ID:           id,
		Seller:       "0xseller",
		HighestBid:   0.5,
		MinIncrement: 0.05,
		EndTime:      chainNow + 3600,
		CreatedAt:    chainNow - 60,
		OffchainID:   offchainID,
	}
}

func record(id string, onChainID *uint64) *domain.AuctionRecord {
	return &domain.AuctionRecord{
		ID:          id,
		OnChainID:   onChainID,
		StartingBid: 0.1,
		EndTime:     chainNow + 3600,
		Seller:      "0xseller",
	}
}

func uptr(v uint64) *uint64 { return &v }

func TestResolveValidStoredIDIsIdempotent(t *testing.T) {
	h := newHarness(t, chainNow)
	ctx := context.Background()

	h.led.Seed(liveAuction(7, "a1"))
	rec := record("a1", uptr(7))
	if err := h.auctions.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	for i := 0; i < 2; i++ {
		res, err := h.resolver.Resolve(ctx, "a1", uptr(7), rec)
		if err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
		if res.OnChainID != 7 || res.Step != StepStoredID {
			t.Fatalf("resolve %d: got id %d step %s", i, res.OnChainID, res.Step)
		}
	}

	if n := h.led.Calls("CreateAuction"); n != 0 {
		t.Fatalf("expected no creation, got %d calls", n)
	}
	row, err := h.auctions.GetByID(ctx, "a1")
	if err != nil {
		t.Fatalf("get row: %v", err)
	}
	if row.OnChainID == nil || *row.OnChainID != 7 {
		t.Fatalf("row mutated: %+v", row.OnChainID)
	}
}

func TestResolveDatabaseValueAuthoritative(t *testing.T) {
	h := newHarness(t, chainNow)
	ctx := context.Background()

	// The caller's in-memory id 3 is dead; the row was updated to 9 concurrently.
	h.led.Seed(liveAuction(9, "a1"))
	if err := h.auctions.Insert(ctx, record("a1", uptr(9))); err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := h.resolver.Resolve(ctx, "a1", uptr(3), nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.OnChainID != 9 || res.Step != StepDatabase {
		t.Fatalf("got id %d step %s, want 9 via database", res.OnChainID, res.Step)
	}
	if n := h.led.Calls("CreateAuction"); n != 0 {
		t.Fatalf("expected no creation, got %d calls", n)
	}
}

func TestResolveStaleIdentifierDiscarded(t *testing.T) {
	h := newHarness(t, chainNow)
	ctx := context.Background()

	stale := liveAuction(7, "a1")
	stale.EndTime = chainNow - 10
	h.led.Seed(stale)
	if err := h.auctions.Insert(ctx, record("a1", uptr(7))); err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := h.resolver.Resolve(ctx, "a1", uptr(7), nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.OnChainID == 7 {
		t.Fatal("stale identifier returned")
	}
	if res.Step != StepCreated {
		t.Fatalf("expected emergency creation, got step %s", res.Step)
	}
	if n := h.led.Calls("CreateAuction"); n != 1 {
		t.Fatalf("expected 1 creation, got %d", n)
	}

	row, err := h.auctions.GetByID(ctx, "a1")
	if err != nil {
		t.Fatalf("get row: %v", err)
	}
	if row.OnChainID == nil || *row.OnChainID != res.OnChainID {
		t.Fatalf("row not repointed: %+v vs %d", row.OnChainID, res.OnChainID)
	}
}

func TestResolveSettledAlwaysInvalid(t *testing.T) {
	h := newHarness(t, chainNow)
	ctx := context.Background()

	settled := liveAuction(4, "a1")
	settled.Settled = true
	h.led.Seed(settled)
	if err := h.auctions.Insert(ctx, record("a1", uptr(4))); err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := h.resolver.Resolve(ctx, "a1", uptr(4), nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.OnChainID == 4 {
		t.Fatal("settled auction's identifier returned")
	}
}

func TestResolveNullIDCreatesOnChain(t *testing.T) {
	h := newHarness(t, chainNow)
	ctx := context.Background()

	rec := record("a1", nil)
	if err := h.auctions.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := h.resolver.Resolve(ctx, "a1", nil, rec)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Step != StepCreated {
		t.Fatalf("expected creation, got step %s", res.Step)
	}
	if res.OnChainID != 1 {
		t.Fatalf("expected counter value 1, got %d", res.OnChainID)
	}
	if n := h.led.Calls("CreateAuction"); n != 1 {
		t.Fatalf("expected 1 CreateAuction call, got %d", n)
	}
	if h.led.Calls("AuctionCounter") == 0 {
		t.Fatal("expected counter read after creation")
	}

	// The ledger auction must run at least as long as the record's deadline.
	a, err := h.led.GetAuction(ctx, res.OnChainID)
	if err != nil {
		t.Fatalf("get created auction: %v", err)
	}
	if a.EndTime < rec.EndTime {
		t.Fatalf("created auction ends at %d, before record deadline %d", a.EndTime, rec.EndTime)
	}
	if a.OffchainID != "a1" {
		t.Fatalf("back-reference = %q", a.OffchainID)
	}

	row, err := h.auctions.GetByID(ctx, "a1")
	if err != nil {
		t.Fatalf("get row: %v", err)
	}
	if row.OnChainID == nil || *row.OnChainID != res.OnChainID {
		t.Fatalf("row not updated: %+v", row.OnChainID)
	}
}

func TestResolveConcurrentCreatesOnce(t *testing.T) {
	h := newHarness(t, chainNow)
	ctx := context.Background()

	rec := record("a1", nil)
	if err := h.auctions.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]Resolution, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.resolver.Resolve(ctx, "a1", nil, rec)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("resolve %d: %v", i, errs[i])
		}
	}
	if results[0].OnChainID != results[1].OnChainID {
		t.Fatalf("divergent identifiers: %d vs %d", results[0].OnChainID, results[1].OnChainID)
	}
	if n := h.led.Calls("CreateAuction"); n != 1 {
		t.Fatalf("expected exactly 1 creation under concurrency, got %d", n)
	}
}

func TestResolveSequentialFallback(t *testing.T) {
	h := newHarness(t, chainNow)
	ctx := context.Background()

	h.led.Seed(liveAuction(5, "other")) // counter now 5
	h.led.Errs["CreateAuction"] = errors.New("connection reset")

	rec := record("a1", nil)
	if err := h.auctions.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := h.resolver.Resolve(ctx, "a1", nil, rec)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Step != StepSequentialFallback {
		t.Fatalf("expected sequential fallback, got step %s", res.Step)
	}
	if !res.Speculative() {
		t.Fatal("fallback resolution not marked speculative")
	}
	if res.OnChainID != 6 {
		t.Fatalf("expected counter+1 = 6, got %d", res.OnChainID)
	}
}

func TestResolveCriticalFailureCarriesContext(t *testing.T) {
	h := newHarness(t, chainNow)
	ctx := context.Background()

	// Everything is down: reads fail, nothing in the database, creation
	// impossible, counter unreadable.
	h.led.Errs["GetAuction"] = errors.New("rpc timeout")
	h.led.Errs["CreateAuction"] = errors.New("rpc timeout")
	h.led.Errs["AuctionCounter"] = errors.New("rpc timeout")

	_, err := h.resolver.Resolve(ctx, "a1", uptr(3), record("a1", uptr(3)))
	if err == nil {
		t.Fatal("expected critical failure")
	}
	if !IsCriticalFailure(err) {
		t.Fatalf("expected CriticalResolutionFailure, got %T: %v", err, err)
	}

	var crf *CriticalResolutionFailure
	errors.As(err, &crf)
	if crf.OffchainID != "a1" {
		t.Fatalf("offchain id = %q", crf.OffchainID)
	}
	if crf.LastOnChainID != 3 {
		t.Fatalf("last on-chain id = %d", crf.LastOnChainID)
	}
	if len(crf.Dependencies) == 0 {
		t.Fatal("missing dependency snapshots")
	}
}

func TestChainReaderCachesAuctionReads(t *testing.T) {
	h := newHarness(t, chainNow)
	ctx := context.Background()

	h.led.Seed(liveAuction(5, "a1"))

	for i := 0; i < 2; i++ {
		if _, err := h.reader.GetAuction(ctx, 5); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
	}

	if n := h.led.Calls("GetAuction"); n != 1 {
		t.Fatalf("expected 1 underlying RPC call, got %d", n)
	}
}

func TestChainReaderCounterFreshBypassesCache(t *testing.T) {
	h := newHarness(t, chainNow)
	ctx := context.Background()

	h.led.Seed(liveAuction(2, "a1"))

	if _, err := h.reader.AuctionCounter(ctx); err != nil {
		t.Fatalf("counter: %v", err)
	}
	if _, err := h.reader.AuctionCounter(ctx); err != nil {
		t.Fatalf("counter: %v", err)
	}
	if n := h.led.Calls("AuctionCounter"); n != 1 {
		t.Fatalf("cached counter issued %d RPC calls", n)
	}

	if _, err := h.reader.AuctionCounterFresh(ctx); err != nil {
		t.Fatalf("fresh counter: %v", err)
	}
	if n := h.led.Calls("AuctionCounter"); n != 2 {
		t.Fatalf("fresh counter did not bypass cache: %d calls", n)
	}
}

func TestCreatorTerminalWhenDeadlinePassed(t *testing.T) {
	h := newHarness(t, chainNow)
	ctx := context.Background()

	rec := record("a1", nil)
	rec.EndTime = chainNow - 10
	if err := h.auctions.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, err := h.creator.Create(ctx, rec)
	if !errors.Is(err, ledger.ErrAuctionEnded) {
		t.Fatalf("expected ErrAuctionEnded, got %v", err)
	}
	if n := h.led.Calls("CreateAuction"); n != 0 {
		t.Fatalf("transaction submitted for ended auction: %d calls", n)
	}
}

func TestCreatorOrphanOnPersistFailureStillReturnsID(t *testing.T) {
	h := newHarness(t, chainNow)
	ctx := context.Background()

	// No database row exists, so the persist step fails. The mined auction
	// must still be surfaced; nothing rolls back.
	rec := record("ghost", nil)

	id, err := h.creator.Create(ctx, rec)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected id 1, got %d", id)
	}
	if n := h.led.Calls("CreateAuction"); n != 1 {
		t.Fatalf("expected 1 creation, got %d", n)
	}
}

func TestCreatorOrphanWhenCounterUnreadable(t *testing.T) {
	h := newHarness(t, chainNow)
	ctx := context.Background()

	rec := record("a1", nil)
	if err := h.auctions.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	h.led.Errs["AuctionCounter"] = errors.New("rpc timeout")

	_, err := h.creator.Create(ctx, rec)
	var orphan *OrphanedCreationError
	if !errors.As(err, &orphan) {
		t.Fatalf("expected OrphanedCreationError, got %v", err)
	}
	if orphan.OffchainID != "a1" || orphan.TxHash == "" {
		t.Fatalf("orphan missing context: %+v", orphan)
	}
}

func TestKeyedLockIndependentKeys(t *testing.T) {
	locks := newKeyedLock()

	unlockA := locks.lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := locks.lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on independent key blocked")
	}
	unlockA()

	// Reacquiring a after release must not deadlock.
	unlock := locks.lock("a")
	unlock()
}
