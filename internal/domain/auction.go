package domain

// ZeroAddress is the uninitialized ledger address. An on-chain auction whose
// seller equals this value occupies an unwritten slot and must not be trusted.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// AuctionRecord is the off-chain auction row, authoritative for descriptive
// metadata. Corresponds to the auctions table in PostgreSQL.
type AuctionRecord struct {
	ID            string   // PRIMARY KEY, off-chain identifier
	OnChainID     *uint64  // last-known on-chain identifier (nullable, may be stale)
	StartingBid   float64  // ETH
	EndTime       int64    // Unix timestamp (seconds)
	Seller        string   // seller wallet address
	CreatedAt     int64    // record creation timestamp (seconds)
}

// HasOnChainID reports whether the record carries a stored on-chain identifier.
func (r *AuctionRecord) HasOnChainID() bool {
	return r != nil && r.OnChainID != nil && *r.OnChainID > 0
}

// OnChainAuction is the decoded ledger-side auction state, authoritative for
// money movement. Read-only to this engine except via CreateAuction and PlaceBid.
type OnChainAuction struct {
	ID             uint64
	Seller         string
	HighestBidder  string
	HighestBid     float64
	MinIncrement   float64 // fraction, e.g. 0.05 for 5%
	EndTime        int64   // Unix timestamp (seconds)
	CreatedAt      int64
	Settled        bool
	TimeExtensions uint32
	OffchainID     string

	// LegacyPayload marks auctions decoded from contract versions that predate
	// the offchainId back-reference. OffchainID is empty for those.
	LegacyPayload bool
}

// Initialized reports whether the auction slot has ever been written.
func (a *OnChainAuction) Initialized() bool {
	return a != nil && a.Seller != "" && a.Seller != ZeroAddress
}

// Live reports whether the auction can still accept bids at the given
// ledger timestamp.
func (a *OnChainAuction) Live(chainNow int64) bool {
	return a.Initialized() && !a.Settled && chainNow < a.EndTime
}
