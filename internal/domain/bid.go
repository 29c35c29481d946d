package domain

// Bid status values for the off-chain bid table.
const (
	BidStatusActive     = "ACTIVE"
	BidStatusSuperseded = "SUPERSEDED"
)

// Bid is an off-chain record of a submitted on-chain bid. The on-chain ledger
// remains authoritative for who is winning; these rows are advisory.
type Bid struct {
	ID        string  // PRIMARY KEY, uuid
	AuctionID string  // off-chain auction id
	OnChainID uint64  // on-chain auction the bid was submitted against
	Bidder    string  // bidder wallet address
	Amount    float64 // ETH
	TxHash    string  // ledger transaction hash
	Status    string  // ACTIVE | SUPERSEDED
	CreatedAt int64   // Unix timestamp (seconds)
}

// BidAttempt is an audit entry describing one placement attempt, successful or
// not. Archived to ClickHouse for offline analysis; never read on the hot path.
type BidAttempt struct {
	AuctionID     string
	OnChainID     uint64
	Bidder        string
	Amount        float64
	Outcome       string // SUBMITTED | REJECTED_MINIMUM | REJECTED_ENDED | FAILED
	ResolveStep   string // resolution step that produced the on-chain id
	TxHash        string
	LatencyMs     int64
	AttemptedAt   int64 // Unix timestamp (milliseconds)
}

// BidAttempt outcome values.
const (
	AttemptSubmitted       = "SUBMITTED"
	AttemptRejectedMinimum = "REJECTED_MINIMUM"
	AttemptRejectedEnded   = "REJECTED_ENDED"
	AttemptFailed          = "FAILED"
)
