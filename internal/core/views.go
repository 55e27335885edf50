package core

import (
	"sort"
	"time"

	lerrors "TaniLedger/internal/errors"
	"TaniLedger/internal/event"
	"TaniLedger/internal/ledger"
	fpmath "TaniLedger/internal/math"
	"TaniLedger/internal/state"
)

// Read accessors. Every returned object is a copy; callers outside the core
// goroutine reach these through Runner.View.

// Config returns the normalized configuration
func (c *DeterministicCore) Config() Config {
	return c.cfg
}

// GetAsset returns asset params or NotFound
func (c *DeterministicCore) GetAsset(id uint64) (*state.Asset, error) {
	a := c.registry.GetAsset(id)
	if a == nil {
		return nil, assetNotFound(id)
	}
	return a.Clone(), nil
}

// AssetsByOwner returns an owner's assets, optionally of one type
func (c *DeterministicCore) AssetsByOwner(owner string, assetType *event.AssetType) []*state.Asset {
	found := c.registry.AssetsByOwner(owner, assetType)
	out := make([]*state.Asset, 0, len(found))
	for _, a := range found {
		out = append(out, a.Clone())
	}
	return out
}

// GetListing returns a listing or NotFound
func (c *DeterministicCore) GetListing(id uint64) (*state.Listing, error) {
	l := c.listings.GetListing(id)
	if l == nil {
		return nil, listingNotFound(id)
	}
	return l.Clone(), nil
}

// ActiveListings returns open listings, for one asset or all (assetID 0)
func (c *DeterministicCore) ActiveListings(assetID uint64) []*state.Listing {
	return cloneListings(c.listings.ActiveListings(assetID))
}

// ListingsBySeller returns every listing a seller created
func (c *DeterministicCore) ListingsBySeller(seller string) []*state.Listing {
	return cloneListings(c.listings.ListingsBySeller(seller))
}

// GetLoan returns a loan or NotFound
func (c *DeterministicCore) GetLoan(id uint64) (*state.Loan, error) {
	l := c.loans.GetLoan(id)
	if l == nil {
		return nil, loanNotFound(id)
	}
	return l.Clone(), nil
}

func (c *DeterministicCore) LoansByBorrower(borrower string) []*state.Loan {
	return cloneLoans(c.loans.LoansByBorrower(borrower))
}

func (c *DeterministicCore) LoansByLender(lender string) []*state.Loan {
	return cloneLoans(c.loans.LoansByLender(lender))
}

func (c *DeterministicCore) OpenLoanProposals() []*state.Loan {
	return cloneLoans(c.loans.OpenProposals())
}

// OverdueLoans returns active loans whose due date is before now
func (c *DeterministicCore) OverdueLoans(now time.Time) []*state.Loan {
	return cloneLoans(c.loans.OverdueLoans(now))
}

// RequiredRepayment is principal plus simple interest over the full term
func RequiredRepayment(l *state.Loan) (int64, error) {
	required, ok := fpmath.ComputeRequiredRepayment(l.Principal, l.InterestRateBps, l.DurationDays)
	if !ok {
		return 0, lerrors.Internal.New("required repayment for loan %d overflows", l.ID)
	}
	return required, nil
}

// Holding returns a holder's free/locked split for one asset
func (c *DeterministicCore) Holding(assetID uint64, holder string) ledger.Holding {
	return c.balanceTracker.GetHolding(assetID, holder)
}

// HoldingsByHolder returns every non-empty holding of a holder
func (c *DeterministicCore) HoldingsByHolder(holder string) []ledger.Holding {
	return c.balanceTracker.HoldingsByHolder(holder)
}

// HoldingsByAsset returns every non-empty holding of an asset
func (c *DeterministicCore) HoldingsByAsset(assetID uint64) []ledger.Holding {
	return c.balanceTracker.HoldingsByAsset(assetID)
}

// CashBalances returns a holder's settled cash per token, ordered by token
func (c *DeterministicCore) CashBalances(holder string) []CashBalance {
	holder = ledger.NormalizeIdentity(holder)
	balances := c.balanceTracker.CashBalances(holder)
	out := make([]CashBalance, 0, len(balances))
	for token, balance := range balances {
		out = append(out, CashBalance{Holder: holder, Token: token, Balance: balance})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}

// UnissuedUnits returns the asset's unsold pool balance
func (c *DeterministicCore) UnissuedUnits(assetID uint64) int64 {
	return c.balanceTracker.GetUnissuedUnits(assetID)
}

func cloneListings(in []*state.Listing) []*state.Listing {
	out := make([]*state.Listing, 0, len(in))
	for _, l := range in {
		out = append(out, l.Clone())
	}
	return out
}

func cloneLoans(in []*state.Loan) []*state.Loan {
	out := make([]*state.Loan, 0, len(in))
	for _, l := range in {
		out = append(out, l.Clone())
	}
	return out
}

// FullDelta copies the entire state in delta form, for rebuilding the
// read-side mirror from scratch.
func (c *DeterministicCore) FullDelta() *StateDelta {
	delta := &StateDelta{}
	for _, a := range c.registry.GetAllAssets() {
		delta.Assets = append(delta.Assets, a.Clone())
	}
	delta.Listings = cloneListings(c.listings.GetAllListings())
	delta.Loans = cloneLoans(c.loans.GetAllLoans())

	seen := make(map[holdingKey]bool)
	balances := c.balanceTracker.Snapshot()
	keys := make([]ledger.AccountKey, 0, len(balances))
	for key := range balances {
		if key.Scope == ledger.AccountScopeUser {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].AccountPath() < keys[j].AccountPath() })

	for _, key := range keys {
		switch key.Instrument.Kind {
		case ledger.InstrumentUnits:
			hk := holdingKey{assetID: key.Instrument.AssetID, holder: key.Holder}
			if seen[hk] {
				continue
			}
			seen[hk] = true
			delta.Holdings = append(delta.Holdings, c.balanceTracker.GetHolding(hk.assetID, hk.holder))
		case ledger.InstrumentMoney:
			delta.Cash = append(delta.Cash, CashBalance{
				Holder:  key.Holder,
				Token:   key.Instrument.Token,
				Balance: balances[key],
			})
		}
	}
	return delta
}
