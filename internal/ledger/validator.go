package ledger

import (
	"fmt"
	"sort"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed and balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateSupplyConservation verifies unitsSold ≤ totalSupply, the unissued
// pool equals totalSupply − unitsSold, and Σ holdings == unitsSold.
func (v *InvariantValidator) ValidateSupplyConservation(assetID uint64, totalSupply, unitsSold int64) error {
	if unitsSold < 0 || unitsSold > totalSupply {
		return fmt.Errorf("asset %d: units sold %d outside [0, %d]", assetID, unitsSold, totalSupply)
	}

	if unissued := v.tracker.GetUnissuedUnits(assetID); unissued != totalSupply-unitsSold {
		return fmt.Errorf("asset %d: unissued pool %d, want %d", assetID, unissued, totalSupply-unitsSold)
	}

	if held := v.tracker.GetHeldUnits(assetID); held != unitsSold {
		return fmt.Errorf("asset %d: sum of holdings %d != units sold %d", assetID, held, unitsSold)
	}

	return nil
}

// ValidateAccountsNonNegative checks no user or system account in the batch went negative
func (v *InvariantValidator) ValidateAccountsNonNegative(batch *Batch) error {
	for _, key := range batch.Affected() {
		if err := v.tracker.ValidateNonNegative(key); err != nil {
			return err
		}
	}
	return nil
}

// ValidateGlobalBalance verifies system is zero-sum per instrument
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	instruments := make([]Instrument, 0, len(totals))
	for inst := range totals {
		instruments = append(instruments, inst)
	}
	sort.Slice(instruments, func(i, j int) bool { return instruments[i].String() < instruments[j].String() })

	for _, inst := range instruments {
		if total := totals[inst]; total != 0 {
			return fmt.Errorf("global balance for %s is non-zero: %d", inst, total)
		}
	}

	return nil
}
