package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig configures WebSocket client behavior.
type WSConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// WSHeadClient implements HeadSource using gorilla/websocket. It subscribes
// to the gateway's chain_subscribeHeads stream and resubscribes automatically
// after reconnecting.
type WSHeadClient struct {
	endpoint string
	config   WSConfig

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	heads   chan Block
	headsMu sync.Mutex

	subscribed atomic.Bool

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// NewWSHeadClient creates a new head subscription client and connects.
func NewWSHeadClient(ctx context.Context, endpoint string, config *WSConfig) (*WSHeadClient, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	c := &WSHeadClient{
		endpoint: endpoint,
		config:   cfg,
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// Compile-time interface check.
var _ HeadSource = (*WSHeadClient)(nil)

// connect establishes the WebSocket connection.
func (c *WSHeadClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// wsRequest is a JSON-RPC 2.0 request over the WebSocket transport.
type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// wsNotification is a subscription push message.
type wsNotification struct {
	Method string `json:"method"`
	Params struct {
		Result latestBlockResult `json:"result"`
	} `json:"params"`
}

// SubscribeHeads subscribes to new block headers. Only one subscription per
// client; subsequent calls return the same channel semantics via error.
func (c *WSHeadClient) SubscribeHeads(ctx context.Context) (<-chan Block, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("client closed")
	}
	if c.subscribed.Swap(true) {
		return nil, fmt.Errorf("already subscribed")
	}

	if err := c.writeSubscribe(); err != nil {
		c.subscribed.Store(false)
		return nil, err
	}

	c.headsMu.Lock()
	// Buffer absorbs bursts; readLoop drops the oldest head when full since
	// only the newest timestamp matters to consumers.
	c.heads = make(chan Block, 64)
	ch := c.heads
	c.headsMu.Unlock()

	return ch, nil
}

// writeSubscribe sends the subscription request on the current connection.
func (c *WSHeadClient) writeSubscribe() error {
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  "chain_subscribeHeads",
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// Close closes the WebSocket connection.
func (c *WSHeadClient) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.headsMu.Lock()
	if c.heads != nil {
		close(c.heads)
		c.heads = nil
	}
	c.headsMu.Unlock()

	c.wg.Wait()
	return nil
}

// readLoop reads messages from the WebSocket and forwards block heads.
func (c *WSHeadClient) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			if !c.reconnecting.Swap(true) {
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = c.config.ReconnectDelay

		c.handleMessage(message)
	}
}

// handleMessage parses a pushed head and forwards it to the subscriber.
func (c *WSHeadClient) handleMessage(message []byte) {
	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err != nil {
		return
	}
	if notif.Method != "chain_headsNotification" || notif.Params.Result.Timestamp == 0 {
		return
	}

	head := Block{
		Number:    notif.Params.Result.Number,
		Timestamp: notif.Params.Result.Timestamp,
	}

	c.headsMu.Lock()
	defer c.headsMu.Unlock()
	if c.heads == nil {
		return
	}

	select {
	case c.heads <- head:
	default:
		// Full buffer: evict the oldest head, the stream only needs freshness.
		select {
		case <-c.heads:
		default:
		}
		select {
		case c.heads <- head:
		default:
		}
	}
}

// reconnect attempts to reconnect and resubscribe.
func (c *WSHeadClient) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		// Reconnect failed, will retry on next read error
		return
	}

	if c.subscribed.Load() {
		if err := c.writeSubscribe(); err != nil {
			// Resubscribe failed, next read error triggers another attempt
			return
		}
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (c *WSHeadClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}
