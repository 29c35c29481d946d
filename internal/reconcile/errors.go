package reconcile

import (
	"errors"
	"fmt"

	"auction-engine/internal/breaker"
)

// CriticalResolutionFailure is raised when every resolution step has been
// exhausted. It carries enough context for operator diagnosis: which record
// failed, the last identifier that was tried, and the state of each guarded
// dependency at the time of failure.
type CriticalResolutionFailure struct {
	OffchainID    string
	LastOnChainID uint64
	Dependencies  []breaker.Snapshot
	Err           error
}

// Error renders the failure with dependency states.
func (e *CriticalResolutionFailure) Error() string {
	deps := ""
	for i, s := range e.Dependencies {
		if i > 0 {
			deps += ", "
		}
		deps += fmt.Sprintf("%s=%s", s.Dependency, s.State)
	}
	return fmt.Sprintf("critical resolution failure for auction %q (last on-chain id %d, deps: %s): %v",
		e.OffchainID, e.LastOnChainID, deps, e.Err)
}

// Unwrap exposes the last underlying error.
func (e *CriticalResolutionFailure) Unwrap() error {
	return e.Err
}

// IsCriticalFailure reports whether err is a CriticalResolutionFailure.
func IsCriticalFailure(err error) bool {
	var crf *CriticalResolutionFailure
	return errors.As(err, &crf)
}

// OrphanedCreationError marks a creation whose transaction was broadcast but
// whose resulting identifier could not be read back. The on-chain auction
// exists; only the pointer to it is missing. Recoverable by the reconciler.
type OrphanedCreationError struct {
	OffchainID string
	TxHash     string
	Err        error
}

func (e *OrphanedCreationError) Error() string {
	return fmt.Sprintf("auction %q created on-chain (tx %s) but identifier not recovered: %v",
		e.OffchainID, e.TxHash, e.Err)
}

func (e *OrphanedCreationError) Unwrap() error {
	return e.Err
}
