package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// Terminal contract errors. These describe conditions retrying cannot change.
var (
	// ErrAuctionNotFound is returned when a read reverts or decodes to an
	// unwritten slot.
	ErrAuctionNotFound = errors.New("auction not found on chain")

	// ErrAuctionEnded is returned when the contract rejects a bid or creation
	// because the deadline has passed.
	ErrAuctionEnded = errors.New("auction already ended")

	// ErrUserRejected is returned when the signer declined the transaction.
	ErrUserRejected = errors.New("transaction rejected by signer")

	// ErrInsufficientFunds is returned when the bidder cannot cover the bid.
	ErrInsufficientFunds = errors.New("insufficient funds for bid")

	// ErrContractPaused is returned when the contract's pause switch is on.
	ErrContractPaused = errors.New("auction contract is paused")

	// ErrBidTooLow is returned when the contract rejects a bid below the
	// minimum acceptable amount.
	ErrBidTooLow = errors.New("bid below minimum acceptable amount")
)

// MalformedAuctionDataError is returned when a ledger read succeeds but the
// payload fails structural validation. It carries the offending field so the
// reconciliation chain can log what broke before falling back.
type MalformedAuctionDataError struct {
	AuctionID uint64
	Field     string
	Detail    string
}

func (e *MalformedAuctionDataError) Error() string {
	return fmt.Sprintf("malformed auction data for on-chain id %d: field %s: %s", e.AuctionID, e.Field, e.Detail)
}

// IsMalformed reports whether err decodes to a MalformedAuctionDataError.
func IsMalformed(err error) bool {
	var m *MalformedAuctionDataError
	return errors.As(err, &m)
}

// IsTerminal reports whether err describes a condition that will not change
// on retry. Terminal errors must never be resubmitted.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrAuctionEnded) ||
		errors.Is(err, ErrUserRejected) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrBidTooLow) ||
		errors.Is(err, ErrContractPaused)
}

// IsNotFound reports whether err indicates a nonexistent on-chain auction,
// including revert payloads consistent with an unwritten slot.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrAuctionNotFound) {
		return true
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Reverted()
	}
	return false
}

// JSON-RPC error codes observed from auction gateway nodes.
const (
	codeMethodNotFound    = -32601
	codeExecutionReverted = 3
	codeUserRejected      = 4001
	codeServerError       = -32000 // node-level errors, message disambiguates
)

// RPCError is a JSON-RPC 2.0 error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Reverted reports whether the error is a contract revert.
func (e *RPCError) Reverted() bool {
	return e.Code == codeExecutionReverted ||
		strings.Contains(strings.ToLower(e.Message), "execution reverted")
}

// methodNotFound reports whether the node does not implement the method.
func (e *RPCError) methodNotFound() bool {
	return e.Code == codeMethodNotFound
}

// classifyRPCError maps node error payloads onto the terminal sentinels so
// callers can use errors.Is without parsing messages themselves.
func classifyRPCError(e *RPCError) error {
	msg := strings.ToLower(e.Message)
	switch {
	case e.Code == codeUserRejected:
		return fmt.Errorf("%w: %s", ErrUserRejected, e.Message)
	case strings.Contains(msg, "insufficient funds"):
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, e.Message)
	case strings.Contains(msg, "bid too low"), strings.Contains(msg, "below minimum"):
		return fmt.Errorf("%w: %s", ErrBidTooLow, e.Message)
	case strings.Contains(msg, "auction ended"), strings.Contains(msg, "auction has ended"):
		return fmt.Errorf("%w: %s", ErrAuctionEnded, e.Message)
	case strings.Contains(msg, "paused"):
		return fmt.Errorf("%w: %s", ErrContractPaused, e.Message)
	case e.Reverted():
		return fmt.Errorf("%w: %s", ErrAuctionNotFound, e.Message)
	default:
		return e
	}
}
