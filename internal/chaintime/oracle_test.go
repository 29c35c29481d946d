package chaintime

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"auction-engine/internal/breaker"
	"auction-engine/internal/ledger"
	"auction-engine/internal/ledger/stub"
)

func testOracle(l ledger.Reader) *Oracle {
	b := breaker.New(breaker.ContractRead, breaker.DefaultConfig())
	return New(l, b, Options{Logger: log.New(io.Discard, "", 0)})
}

func TestOracle_NowFromRPC(t *testing.T) {
	chain := stub.New(1700000000)
	o := testOracle(chain)
	o.wallClock = func() time.Time { return time.Unix(1700000010, 0) }

	ct, err := o.Now(context.Background())
	if err != nil {
		t.Fatalf("Now: %v", err)
	}
	if ct.Timestamp != 1700000000 {
		t.Errorf("expected chain timestamp 1700000000, got %d", ct.Timestamp)
	}
	if !ct.IsAccurate {
		t.Error("10s skew is within tolerance, expected accurate")
	}
}

func TestOracle_SkewFlagged(t *testing.T) {
	chain := stub.New(1700000000)
	o := testOracle(chain)
	// Wall clock five minutes ahead of the chain.
	o.wallClock = func() time.Time { return time.Unix(1700000300, 0) }

	ct, err := o.Now(context.Background())
	if err != nil {
		t.Fatalf("Now: %v", err)
	}
	if ct.IsAccurate {
		t.Error("expected inaccurate reading beyond skew tolerance")
	}
	if ct.Timestamp != 1700000000 {
		t.Error("chain timestamp remains authoritative despite skew")
	}
}

func TestOracle_RPCFailurePropagates(t *testing.T) {
	chain := stub.New(1700000000)
	chain.Errs["LatestBlock"] = errors.New("node down")
	o := testOracle(chain)

	if _, err := o.Now(context.Background()); err == nil {
		t.Fatal("expected error when the chain read fails")
	}
}

func TestOracle_FreshHeadSkipsRPC(t *testing.T) {
	chain := stub.New(1700000000)
	o := testOracle(chain)

	wall := time.Unix(1700000050, 0)
	o.wallClock = func() time.Time { return wall }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	heads, err := chain.SubscribeHeads(ctx)
	if err != nil {
		t.Fatalf("SubscribeHeads: %v", err)
	}
	go o.Run(ctx, heads)

	chain.EmitHead(100, 1700000049)

	// Wait for the head to land.
	deadline := time.Now().Add(time.Second)
	for {
		o.mu.RLock()
		ts := o.lastHead.Timestamp
		o.mu.RUnlock()
		if ts == 1700000049 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("head never consumed")
		}
		time.Sleep(time.Millisecond)
	}

	ct, err := o.Now(context.Background())
	if err != nil {
		t.Fatalf("Now: %v", err)
	}
	if ct.Timestamp != 1700000049 {
		t.Errorf("expected streamed head timestamp, got %d", ct.Timestamp)
	}
	if chain.Calls("LatestBlock") != 0 {
		t.Errorf("fresh head must skip the RPC read, saw %d calls", chain.Calls("LatestBlock"))
	}
}

func TestOracle_CanAcceptBids(t *testing.T) {
	o := testOracle(stub.New(0))

	tests := []struct {
		name     string
		deadline int64
		now      int64
		wantOK   bool
	}{
		{"well before deadline", 1700003600, 1700000000, true},
		{"one second before", 1700000001, 1700000000, true},
		{"at deadline", 1700000000, 1700000000, false},
		{"past deadline", 1700000000, 1700000100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := o.CanAcceptBids(tt.deadline, ChainTime{Timestamp: tt.now, IsAccurate: true})
			if d.OK != tt.wantOK {
				t.Errorf("CanAcceptBids(%d, %d) = %v, want %v", tt.deadline, tt.now, d.OK, tt.wantOK)
			}
			if !d.OK && d.Reason == "" {
				t.Error("rejection must carry a reason")
			}
		})
	}
}

func TestOracle_WithinExtensionWindow(t *testing.T) {
	o := testOracle(stub.New(0))
	ref := ChainTime{Timestamp: 1700000000, IsAccurate: true}

	// 2 minutes remaining: inside the 5-minute buffer.
	if !o.WithinExtensionWindow(1700000120, ref) {
		t.Error("expected extension window at 2m remaining")
	}
	// 10 minutes remaining: outside.
	if o.WithinExtensionWindow(1700000600, ref) {
		t.Error("expected no extension window at 10m remaining")
	}
	// Already ended: not extendable.
	if o.WithinExtensionWindow(1699999999, ref) {
		t.Error("expected no extension window past deadline")
	}
}
