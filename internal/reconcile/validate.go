package reconcile

import (
	"context"
	"fmt"

	"auction-engine/internal/chaintime"
	"auction-engine/internal/ledger"
)

// validateAuction checks that id points at a live, initialized, unsettled
// on-chain auction. permanent means the identifier is provably wrong, as
// opposed to currently unverifiable.
func validateAuction(ctx context.Context, reader *ChainReader, clock *chaintime.Oracle, id uint64) (ok, permanent bool, err error) {
	a, err := reader.GetAuction(ctx, id)
	if err != nil {
		if ledger.IsNotFound(err) || ledger.IsMalformed(err) {
			return false, true, err
		}
		return false, false, err
	}

	if !a.Initialized() {
		return false, true, fmt.Errorf("on-chain auction %d: uninitialized slot", id)
	}
	if a.Settled {
		return false, true, fmt.Errorf("on-chain auction %d: already settled", id)
	}

	now, err := clock.Now(ctx)
	if err != nil {
		return false, false, fmt.Errorf("on-chain auction %d: %w", id, err)
	}
	if now.Timestamp >= a.EndTime {
		return false, true, fmt.Errorf("on-chain auction %d: deadline %d passed at chain time %d", id, a.EndTime, now.Timestamp)
	}

	return true, false, nil
}
