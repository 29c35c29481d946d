package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"auction-engine/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// HTTPClient implements Client over the auction gateway's HTTP JSON-RPC 2.0
// endpoint. Network-level retries happen here, before broadcast; a mined
// transaction is never resubmitted by this layer.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts for the network layer.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new auction gateway JSON-RPC client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ Client = (*HTTPClient)(nil)

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// call performs a JSON-RPC call with retries and exponential backoff.
// Node-reported errors are classified and never retried: once the node has
// accepted the request, a retry could broadcast a duplicate transaction.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqID := c.requestID.Add(1)
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		// Handle rate limiting
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if rpcResp.Error != nil {
			return classifyRPCError(rpcResp.Error)
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// AuctionCounter returns the ledger-side monotonic auction counter.
func (c *HTTPClient) AuctionCounter(ctx context.Context) (uint64, error) {
	var result uint64
	if err := c.call(ctx, "auction_counter", nil, &result); err != nil {
		return 0, err
	}
	return result, nil
}

// auctionPayload is the raw RPC response for auction_get. Pointer fields
// distinguish absent fields from zero values during validation.
type auctionPayload struct {
	Seller         *string  `json:"seller"`
	HighestBidder  string   `json:"highestBidder"`
	HighestBid     *float64 `json:"highestBid"`
	MinIncrement   *float64 `json:"minIncrement"`
	EndTime        *int64   `json:"endTime"`
	CreatedAt      int64    `json:"createdAt"`
	Settled        bool     `json:"settled"`
	TimeExtensions uint32   `json:"timeExtensions"`
	OffchainID     *string  `json:"offchainId"`
}

// GetAuction retrieves and decodes an on-chain auction.
// Returns ErrAuctionNotFound for reverted reads and MalformedAuctionDataError
// when the payload fails structural validation.
func (c *HTTPClient) GetAuction(ctx context.Context, id uint64) (*domain.OnChainAuction, error) {
	var payload auctionPayload
	if err := c.call(ctx, "auction_get", []interface{}{id}, &payload); err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%w: id %d", ErrAuctionNotFound, id)
		}
		return nil, err
	}
	return decodeAuction(id, &payload)
}

// decodeAuction validates the raw payload into a typed OnChainAuction.
func decodeAuction(id uint64, p *auctionPayload) (*domain.OnChainAuction, error) {
	if p.Seller == nil {
		return nil, &MalformedAuctionDataError{AuctionID: id, Field: "seller", Detail: "missing"}
	}
	if p.EndTime == nil {
		return nil, &MalformedAuctionDataError{AuctionID: id, Field: "endTime", Detail: "missing"}
	}
	if p.HighestBid != nil && *p.HighestBid < 0 {
		return nil, &MalformedAuctionDataError{AuctionID: id, Field: "highestBid", Detail: "negative"}
	}
	if p.MinIncrement != nil && (*p.MinIncrement < 0 || *p.MinIncrement > 1) {
		return nil, &MalformedAuctionDataError{AuctionID: id, Field: "minIncrement", Detail: "outside [0,1]"}
	}

	a := &domain.OnChainAuction{
		ID:             id,
		Seller:         *p.Seller,
		HighestBidder:  p.HighestBidder,
		EndTime:        *p.EndTime,
		CreatedAt:      p.CreatedAt,
		Settled:        p.Settled,
		TimeExtensions: p.TimeExtensions,
	}
	if p.HighestBid != nil {
		a.HighestBid = *p.HighestBid
	}
	if p.MinIncrement != nil {
		a.MinIncrement = *p.MinIncrement
	}

	// Contracts older than the offchainId back-reference omit the field.
	// Flag rather than coerce, so the reconciler can tell the two apart.
	if p.OffchainID != nil {
		a.OffchainID = *p.OffchainID
	} else {
		a.LegacyPayload = true
	}

	return a, nil
}

// GetMinimumBid returns the contract-computed minimum acceptable bid.
func (c *HTTPClient) GetMinimumBid(ctx context.Context, id uint64) (float64, error) {
	var result float64
	if err := c.call(ctx, "auction_minimumBid", []interface{}{id}, &result); err != nil {
		return 0, err
	}
	return result, nil
}

// CanSettlePublicly reports whether anyone may settle the auction.
func (c *HTTPClient) CanSettlePublicly(ctx context.Context, id uint64) (bool, error) {
	var result bool
	if err := c.call(ctx, "auction_canSettlePublicly", []interface{}{id}, &result); err != nil {
		return false, err
	}
	return result, nil
}

// Paused reports whether the contract is paused. Nodes running contracts that
// predate the pause switch report method-not-found; that is "not paused".
func (c *HTTPClient) Paused(ctx context.Context) (bool, error) {
	var result bool
	if err := c.call(ctx, "auction_paused", nil, &result); err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.methodNotFound() {
			return false, nil
		}
		return false, err
	}
	return result, nil
}

// latestBlockResult is the raw RPC response for chain_latestBlock.
type latestBlockResult struct {
	Number    uint64 `json:"number"`
	Timestamp int64  `json:"timestamp"`
}

// LatestBlock returns the most recent block header.
func (c *HTTPClient) LatestBlock(ctx context.Context) (*Block, error) {
	var result latestBlockResult
	if err := c.call(ctx, "chain_latestBlock", nil, &result); err != nil {
		return nil, err
	}
	if result.Timestamp == 0 {
		return nil, fmt.Errorf("latest block has no timestamp")
	}
	return &Block{Number: result.Number, Timestamp: result.Timestamp}, nil
}

// CreateAuction creates a new on-chain auction back-referencing offchainID.
func (c *HTTPClient) CreateAuction(ctx context.Context, offchainID string, startingBid float64, durationSeconds int64) (string, error) {
	params := []interface{}{offchainID, startingBid, durationSeconds}
	var txHash string
	if err := c.call(ctx, "auction_create", params, &txHash); err != nil {
		return "", err
	}
	if txHash == "" {
		return "", fmt.Errorf("auction_create returned empty transaction hash")
	}
	return txHash, nil
}

// PlaceBid submits a bid against an on-chain auction.
func (c *HTTPClient) PlaceBid(ctx context.Context, id uint64, amount float64, bidder string) (string, error) {
	params := []interface{}{id, amount, bidder}
	var txHash string
	if err := c.call(ctx, "auction_placeBid", params, &txHash); err != nil {
		return "", err
	}
	if txHash == "" {
		return "", fmt.Errorf("auction_placeBid returned empty transaction hash")
	}
	return txHash, nil
}

// SettleAuction settles an ended auction.
func (c *HTTPClient) SettleAuction(ctx context.Context, id uint64) (string, error) {
	var txHash string
	if err := c.call(ctx, "auction_settle", []interface{}{id}, &txHash); err != nil {
		return "", err
	}
	return txHash, nil
}

// CancelAuction cancels an auction with no bids.
func (c *HTTPClient) CancelAuction(ctx context.Context, id uint64) (string, error) {
	var txHash string
	if err := c.call(ctx, "auction_cancel", []interface{}{id}, &txHash); err != nil {
		return "", err
	}
	return txHash, nil
}
