package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// rpcHandler builds a JSON-RPC server that answers each method from the map.
func rpcHandler(t *testing.T, results map[string]interface{}, errs map[string]*RPCError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
		}
		if rpcErr, ok := errs[req.Method]; ok {
			resp["error"] = rpcErr
		} else if result, ok := results[req.Method]; ok {
			resp["result"] = result
		} else {
			resp["error"] = &RPCError{Code: codeMethodNotFound, Message: "method not found"}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func TestHTTPClient_GetAuction(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t, map[string]interface{}{
		"auction_get": map[string]interface{}{
			"seller":         "0xabc",
			"highestBidder":  "0xdef",
			"highestBid":     1.5,
			"minIncrement":   0.05,
			"endTime":        int64(1700003600),
			"createdAt":      int64(1700000000),
			"settled":        false,
			"timeExtensions": 2,
			"offchainId":     "a1",
		},
	}, nil))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	a, err := client.GetAuction(ctx, 7)
	if err != nil {
		t.Fatalf("GetAuction: %v", err)
	}

	if a.ID != 7 {
		t.Errorf("expected id 7, got %d", a.ID)
	}
	if a.Seller != "0xabc" {
		t.Errorf("expected seller 0xabc, got %s", a.Seller)
	}
	if a.HighestBid != 1.5 {
		t.Errorf("expected highest bid 1.5, got %f", a.HighestBid)
	}
	if a.OffchainID != "a1" {
		t.Errorf("expected offchain id a1, got %s", a.OffchainID)
	}
	if a.LegacyPayload {
		t.Error("expected LegacyPayload false for payload with offchainId")
	}
}

func TestHTTPClient_GetAuction_LegacyPayload(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t, map[string]interface{}{
		"auction_get": map[string]interface{}{
			"seller":       "0xabc",
			"highestBid":   0.1,
			"minIncrement": 0.05,
			"endTime":      int64(1700003600),
		},
	}, nil))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	a, err := client.GetAuction(context.Background(), 3)
	if err != nil {
		t.Fatalf("GetAuction: %v", err)
	}

	if !a.LegacyPayload {
		t.Error("expected LegacyPayload true for payload without offchainId")
	}
	if a.OffchainID != "" {
		t.Errorf("expected empty offchain id, got %s", a.OffchainID)
	}
}

func TestHTTPClient_GetAuction_Malformed(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t, map[string]interface{}{
		"auction_get": map[string]interface{}{
			// seller is absent: structurally invalid
			"highestBid": 1.0,
			"endTime":    int64(1700003600),
		},
	}, nil))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	_, err := client.GetAuction(context.Background(), 9)
	if err == nil {
		t.Fatal("expected error for malformed payload")
	}

	var malformed *MalformedAuctionDataError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedAuctionDataError, got %v", err)
	}
	if malformed.Field != "seller" {
		t.Errorf("expected field seller, got %s", malformed.Field)
	}
}

func TestHTTPClient_GetAuction_Reverted(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t, nil, map[string]*RPCError{
		"auction_get": {Code: codeExecutionReverted, Message: "execution reverted"},
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	_, err := client.GetAuction(context.Background(), 42)
	if !errors.Is(err, ErrAuctionNotFound) {
		t.Fatalf("expected ErrAuctionNotFound, got %v", err)
	}
}

func TestHTTPClient_Paused_MethodNotFound(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t, nil, nil))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	paused, err := client.Paused(context.Background())
	if err != nil {
		t.Fatalf("Paused: %v", err)
	}
	if paused {
		t.Error("missing pause method must be treated as not paused")
	}
}

func TestHTTPClient_TerminalErrorsClassified(t *testing.T) {
	tests := []struct {
		name    string
		rpcErr  *RPCError
		wantErr error
	}{
		{"user rejected", &RPCError{Code: codeUserRejected, Message: "User rejected the request"}, ErrUserRejected},
		{"insufficient funds", &RPCError{Code: codeServerError, Message: "insufficient funds for gas * price + value"}, ErrInsufficientFunds},
		{"auction ended", &RPCError{Code: codeExecutionReverted, Message: "execution reverted: auction ended"}, ErrAuctionEnded},
		{"bid too low", &RPCError{Code: codeExecutionReverted, Message: "execution reverted: bid too low"}, ErrBidTooLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(rpcHandler(t, nil, map[string]*RPCError{
				"auction_placeBid": tt.rpcErr,
			}))
			defer server.Close()

			client := NewHTTPClient(server.URL)

			_, err := client.PlaceBid(context.Background(), 1, 2.0, "0xme")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if !IsTerminal(err) {
				t.Errorf("expected %v to classify as terminal", err)
			}
		})
	}
}

func TestHTTPClient_RetriesRateLimit(t *testing.T) {
	var requests atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  uint64(12),
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(2),
		WithRetryDelay(10*time.Millisecond),
	)

	counter, err := client.AuctionCounter(context.Background())
	if err != nil {
		t.Fatalf("AuctionCounter: %v", err)
	}
	if counter != 12 {
		t.Errorf("expected counter 12, got %d", counter)
	}
	if requests.Load() != 2 {
		t.Errorf("expected 2 requests, got %d", requests.Load())
	}
}

func TestHTTPClient_CreateAuction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		if req.Method != "auction_create" {
			t.Errorf("expected method auction_create, got %s", req.Method)
		}
		if len(req.Params) != 3 {
			t.Fatalf("expected 3 params, got %d", len(req.Params))
		}
		if req.Params[0] != "a1" {
			t.Errorf("expected offchain id a1, got %v", req.Params[0])
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  "0xdeadbeef",
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	txHash, err := client.CreateAuction(context.Background(), "a1", 0.1, 3600)
	if err != nil {
		t.Fatalf("CreateAuction: %v", err)
	}
	if txHash != "0xdeadbeef" {
		t.Errorf("expected tx hash 0xdeadbeef, got %s", txHash)
	}
}
