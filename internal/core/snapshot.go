package core

import (
	"sort"

	"TaniLedger/internal/ledger"
	"TaniLedger/internal/state"
)

// SnapshotState is a point-in-time copy of everything the core owns.
type SnapshotState struct {
	Sequence        int64 // Last committed sequence
	StateHash       [32]byte
	Balances        []BalanceEntry
	Assets          []*state.Asset
	Listings        []*state.Listing
	Loans           []*state.Loan
	IdempotencyKeys []string
}

// BalanceEntry is one account balance in a snapshot
type BalanceEntry struct {
	Key     ledger.AccountKey `json:"key"`
	Balance int64             `json:"balance"`
}

// CreateSnapshotState deep-copies the core state. Must run on the core goroutine.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	balances := c.balanceTracker.Snapshot()
	entries := make([]BalanceEntry, 0, len(balances))
	for key, balance := range balances {
		entries = append(entries, BalanceEntry{Key: key, Balance: balance})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.AccountPath() < entries[j].Key.AccountPath()
	})

	snap := &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        entries,
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
	for _, a := range c.registry.GetAllAssets() {
		snap.Assets = append(snap.Assets, a.Clone())
	}
	for _, l := range c.listings.GetAllListings() {
		snap.Listings = append(snap.Listings, l.Clone())
	}
	for _, l := range c.loans.GetAllLoans() {
		snap.Loans = append(snap.Loans, l.Clone())
	}
	return snap
}

// RestoreFromSnapshot replaces the core state. Must run before the first
// command is admitted.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)

	c.balanceTracker = ledger.NewBalanceTracker()
	for _, entry := range snap.Balances {
		c.balanceTracker.SetBalance(entry.Key, entry.Balance)
	}
	c.journalGen = ledger.NewJournalGenerator(c.balanceTracker)
	c.validator = ledger.NewInvariantValidator(c.balanceTracker)

	c.registry.Restore(snap.Assets)
	c.listings.Restore(snap.Listings)
	c.loans.Restore(snap.Loans)

	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)
}

// VerifyIntegrity runs the full invariant sweep over every asset and the
// global zero-sum. Used after restore and replay.
func (c *DeterministicCore) VerifyIntegrity() error {
	for _, a := range c.registry.GetAllAssets() {
		if err := c.validator.ValidateSupplyConservation(a.ID, a.TotalSupply, a.UnitsSold); err != nil {
			return err
		}
	}
	return c.validator.ValidateGlobalBalance()
}
