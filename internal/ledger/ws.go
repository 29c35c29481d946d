package ledger

import "context"

// HeadSource defines the block-head subscription interface. A live stream of
// heads lets the time oracle track the chain clock without polling.
type HeadSource interface {
	// SubscribeHeads subscribes to new block headers.
	SubscribeHeads(ctx context.Context) (<-chan Block, error)

	// Close closes the underlying connection.
	Close() error
}
