package ledger

import (
	"fmt"
	"sort"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64

	// Running sum of user-scope unit balances per asset (sum of holdings)
	heldUnits map[uint64]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances:  make(map[AccountKey]int64),
		heldUnits: make(map[uint64]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.adjust(j.DebitAccount, j.Amount)
	bt.adjust(j.CreditAccount, -j.Amount)
}

func (bt *BalanceTracker) adjust(key AccountKey, delta int64) {
	bt.balances[key] += delta
	if bt.balances[key] == 0 {
		// Zero balances are logically absent
		delete(bt.balances, key)
	}
	if key.Scope == AccountScopeUser && key.Instrument.Kind == InstrumentUnits {
		bt.heldUnits[key.Instrument.AssetID] += delta
	}
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// SetBalance overwrites an account balance. Only used on snapshot restore.
func (bt *BalanceTracker) SetBalance(key AccountKey, balance int64) {
	bt.adjust(key, balance-bt.balances[key])
}

// === Holding Queries (total = free + loan_locked + listed) ===

// Holding is a holder's position in one asset, split by encumbrance.
type Holding struct {
	AssetID    uint64
	Holder     string
	Free       int64
	LoanLocked int64
	Listed     int64
}

// Locked returns units unavailable for transfer (collateral + listed).
func (h Holding) Locked() int64 {
	return h.LoanLocked + h.Listed
}

// Total returns every unit the holder owns.
func (h Holding) Total() int64 {
	return h.Free + h.LoanLocked + h.Listed
}

// GetHolding returns the holder's units of an asset
func (bt *BalanceTracker) GetHolding(assetID uint64, holder string) Holding {
	units := Units(assetID)
	return Holding{
		AssetID:    assetID,
		Holder:     NormalizeIdentity(holder),
		Free:       bt.GetBalance(NewUserAccountKey(holder, SubTypeFree, units)),
		LoanLocked: bt.GetBalance(NewUserAccountKey(holder, SubTypeLoanLocked, units)),
		Listed:     bt.GetBalance(NewUserAccountKey(holder, SubTypeListed, units)),
	}
}

// GetFreeUnits returns units the holder may transfer, list or pledge
func (bt *BalanceTracker) GetFreeUnits(assetID uint64, holder string) int64 {
	return bt.GetBalance(NewUserAccountKey(holder, SubTypeFree, Units(assetID)))
}

// GetHeldUnits returns the sum of all holdings of an asset
func (bt *BalanceTracker) GetHeldUnits(assetID uint64) int64 {
	return bt.heldUnits[assetID]
}

// GetUnissuedUnits returns units still available for primary issuance
func (bt *BalanceTracker) GetUnissuedUnits(assetID uint64) int64 {
	return bt.GetBalance(NewSystemAccountKey(SubTypeSystemUnissued, Units(assetID)))
}

// GetCashBalance returns a holder's settled payment-token balance
func (bt *BalanceTracker) GetCashBalance(holder, token string) int64 {
	return bt.GetBalance(NewUserAccountKey(holder, SubTypeFree, Money(token)))
}

// HoldingsByHolder returns every non-empty holding of one identity, ordered by asset
func (bt *BalanceTracker) HoldingsByHolder(holder string) []Holding {
	holder = NormalizeIdentity(holder)
	assets := make(map[uint64]struct{})
	for key := range bt.balances {
		if key.Scope == AccountScopeUser && key.Holder == holder && key.Instrument.Kind == InstrumentUnits {
			assets[key.Instrument.AssetID] = struct{}{}
		}
	}

	out := make([]Holding, 0, len(assets))
	for assetID := range assets {
		out = append(out, bt.GetHolding(assetID, holder))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

// HoldingsByAsset returns every non-empty holding of one asset, ordered by holder
func (bt *BalanceTracker) HoldingsByAsset(assetID uint64) []Holding {
	holders := make(map[string]struct{})
	for key := range bt.balances {
		if key.Scope == AccountScopeUser && key.Instrument.Kind == InstrumentUnits && key.Instrument.AssetID == assetID {
			holders[key.Holder] = struct{}{}
		}
	}

	out := make([]Holding, 0, len(holders))
	for holder := range holders {
		out = append(out, bt.GetHolding(assetID, holder))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Holder < out[j].Holder })
	return out
}

// CashBalances returns a holder's money balances keyed by token
func (bt *BalanceTracker) CashBalances(holder string) map[string]int64 {
	holder = NormalizeIdentity(holder)
	out := make(map[string]int64)
	for key, balance := range bt.balances {
		if key.Scope == AccountScopeUser && key.Holder == holder && key.Instrument.Kind == InstrumentMoney {
			out[key.Instrument.Token] = balance
		}
	}
	return out
}

// === Invariant Checks ===

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if key.Scope != AccountScopeExternal && balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances per instrument (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[Instrument]int64 {
	totals := make(map[Instrument]int64)

	for key, balance := range bt.balances {
		totals[key.Instrument] += balance
	}

	return totals
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
