// internal/state/loan.go
package state

import (
	"sort"
	"time"

	"TaniLedger/internal/ledger"
)

// LoanStatus tracks a loan through its lifecycle
type LoanStatus int32

const (
	LoanStatusProposed LoanStatus = iota
	LoanStatusActive
	LoanStatusRepaid
	LoanStatusDefaulted
	LoanStatusLiquidated
)

func (s LoanStatus) String() string {
	switch s {
	case LoanStatusProposed:
		return "Proposed"
	case LoanStatusActive:
		return "Active"
	case LoanStatusRepaid:
		return "Repaid"
	case LoanStatusDefaulted:
		return "Defaulted"
	case LoanStatusLiquidated:
		return "Liquidated"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates state transitions
func (s LoanStatus) CanTransitionTo(next LoanStatus) bool {
	validTransitions := map[LoanStatus][]LoanStatus{
		LoanStatusProposed: {
			LoanStatusActive,
		},
		LoanStatusActive: {
			LoanStatusRepaid,
			LoanStatusDefaulted,
		},
		LoanStatusDefaulted: {
			LoanStatusLiquidated,
		},
	}

	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}

	for _, allowedState := range allowed {
		if next == allowedState {
			return true
		}
	}

	return false
}

// HoldsCollateral reports whether collateral is still locked in this status.
// Defaulted keeps the lock until liquidation moves the units to the lender.
func (s LoanStatus) HoldsCollateral() bool {
	return s == LoanStatusProposed || s == LoanStatusActive || s == LoanStatusDefaulted
}

// Loan is credit collateralized by locked units
type Loan struct {
	ID                uint64
	Borrower          string
	Lender            string // Empty until funded
	CollateralAssetID uint64
	CollateralUnits   int64
	Principal         int64
	InterestRateBps   int64
	DurationDays      int64
	PaymentToken      string
	Status            LoanStatus
	CreatedAt         time.Time
	FundedAt          time.Time
	DueAt             time.Time // FundedAt + DurationDays
	RepaidAt          time.Time
	DefaultedAt       time.Time
	LiquidatedAt      time.Time
	AmountRepaid      int64
}

// MaxLoanDurationDays bounds a loan term at one hundred years.
const MaxLoanDurationDays = 36_500

// DueFrom returns the due date of a loan funded at fundedAt. Calendar days
// are added so the term cannot overflow a time.Duration.
func (l *Loan) DueFrom(fundedAt time.Time) time.Time {
	return fundedAt.AddDate(0, 0, int(l.DurationDays))
}

// IsOverdue reports whether an active loan has passed its due date at now
func (l *Loan) IsOverdue(now time.Time) bool {
	return l.Status == LoanStatusActive && now.After(l.DueAt)
}

// Clone returns a copy safe to hand out of the core goroutine
func (l *Loan) Clone() *Loan {
	cp := *l
	return &cp
}

// CanonicalBytes returns deterministic serialization for hashing
func (l *Loan) CanonicalBytes() []byte {
	buf := make([]byte, 0, 96)
	buf = appendUint64LE(buf, l.ID)
	buf = appendString(buf, l.Borrower)
	buf = appendString(buf, l.Lender)
	buf = appendUint64LE(buf, l.CollateralAssetID)
	buf = appendInt64LE(buf, l.CollateralUnits)
	buf = appendInt64LE(buf, l.Principal)
	buf = appendInt64LE(buf, l.InterestRateBps)
	buf = appendInt64LE(buf, l.DurationDays)
	buf = append(buf, byte(l.Status))
	buf = appendInt64LE(buf, l.DueAt.UnixMicro())
	buf = appendInt64LE(buf, l.AmountRepaid)
	return buf
}

// LoanBook owns every loan
type LoanBook struct {
	loans  map[uint64]*Loan
	lastID uint64

	// collateral-holding loan ids per (borrower, asset); released ids are
	// pruned on read
	pledged map[holderAsset]map[uint64]struct{}
}

func NewLoanBook() *LoanBook {
	return &LoanBook{
		loans:   make(map[uint64]*Loan),
		pledged: make(map[holderAsset]map[uint64]struct{}),
	}
}

// NextID returns the id the next loan will receive
func (b *LoanBook) NextID() uint64 {
	return b.lastID + 1
}

// GetLoan returns the loan or nil
func (b *LoanBook) GetLoan(id uint64) *Loan {
	return b.loans[id]
}

// AddLoan stores a new loan
func (b *LoanBook) AddLoan(l *Loan) {
	b.loans[l.ID] = l
	if l.ID > b.lastID {
		b.lastID = l.ID
	}
	if l.Status.HoldsCollateral() {
		key := holderAsset{holder: l.Borrower, assetID: l.CollateralAssetID}
		ids := b.pledged[key]
		if ids == nil {
			ids = make(map[uint64]struct{})
			b.pledged[key] = ids
		}
		ids[l.ID] = struct{}{}
	}
}

// LoansByBorrower returns a borrower's loans ordered by id
func (b *LoanBook) LoansByBorrower(borrower string) []*Loan {
	borrower = ledger.NormalizeIdentity(borrower)
	return b.filter(func(l *Loan) bool { return l.Borrower == borrower })
}

// LoansByLender returns a lender's loans ordered by id
func (b *LoanBook) LoansByLender(lender string) []*Loan {
	lender = ledger.NormalizeIdentity(lender)
	return b.filter(func(l *Loan) bool { return lender != "" && l.Lender == lender })
}

// OpenProposals returns loans waiting for a lender
func (b *LoanBook) OpenProposals() []*Loan {
	return b.filter(func(l *Loan) bool { return l.Status == LoanStatusProposed })
}

// OverdueLoans returns active loans past their due date at now
func (b *LoanBook) OverdueLoans(now time.Time) []*Loan {
	return b.filter(func(l *Loan) bool { return l.IsOverdue(now) })
}

// LockedCollateral sums units a holder has pledged on open loans for an asset
func (b *LoanBook) LockedCollateral(borrower string, assetID uint64) int64 {
	key := holderAsset{holder: ledger.NormalizeIdentity(borrower), assetID: assetID}
	var total int64
	for id := range b.pledged[key] {
		l := b.loans[id]
		if l == nil || !l.Status.HoldsCollateral() {
			// Repaid and Liquidated are terminal
			delete(b.pledged[key], id)
			continue
		}
		total += l.CollateralUnits
	}
	if len(b.pledged[key]) == 0 {
		delete(b.pledged, key)
	}
	return total
}

// GetAllLoans returns every loan ordered by id
func (b *LoanBook) GetAllLoans() []*Loan {
	return b.filter(func(*Loan) bool { return true })
}

// Restore replaces book contents from a snapshot
func (b *LoanBook) Restore(loans []*Loan) {
	b.loans = make(map[uint64]*Loan, len(loans))
	b.pledged = make(map[holderAsset]map[uint64]struct{})
	b.lastID = 0
	for _, l := range loans {
		b.AddLoan(l)
	}
}

func (b *LoanBook) filter(keep func(*Loan) bool) []*Loan {
	out := make([]*Loan, 0)
	for _, l := range b.loans {
		if keep(l) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
