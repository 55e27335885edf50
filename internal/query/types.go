package query

import (
	"time"

	"TaniLedger/internal/core"
	"TaniLedger/internal/event"
	"TaniLedger/internal/ledger"
	"TaniLedger/internal/state"
)

// AssetView is getAssetParams plus derived presentation fields
type AssetView struct {
	AssetID          uint64                  `json:"asset_id"`
	AssetType        event.AssetType         `json:"asset_type"`
	Owner            string                  `json:"owner"`
	Name             string                  `json:"name"`
	MetadataURI      string                  `json:"metadata_uri,omitempty"`
	TotalSupply      int64                   `json:"total_supply"`
	UnitsSold        int64                   `json:"units_sold"`
	RemainingUnits   int64                   `json:"remaining_units"`
	UnitPrice        int64                   `json:"unit_price"`
	PaymentToken     string                  `json:"payment_token"`
	ExpectedYieldBps int64                   `json:"expected_yield_bps"`
	DurationDays     int64                   `json:"duration_days"`
	Verified         bool                    `json:"verified"`
	VerifiedBy       string                  `json:"verified_by,omitempty"`
	Stage            *event.SupplyChainStage `json:"stage,omitempty"`
	StageHistory     []StageView             `json:"stage_history,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`

	// Derived at query time, not ledger values
	ExpectedYieldPercent string `json:"expected_yield_percent"`
	SoldPercent          string `json:"sold_percent"`
}

type StageView struct {
	Stage      event.SupplyChainStage `json:"stage"`
	Location   string                 `json:"location,omitempty"`
	Note       string                 `json:"note,omitempty"`
	RecordedAt time.Time              `json:"recorded_at"`
	Sequence   int64                  `json:"sequence"`
}

// FarmlandView is getFarmlandDetails
type FarmlandView struct {
	AssetID uint64 `json:"asset_id"`
	Owner   string `json:"owner"`
	*event.FarmlandRecord
}

type ListingView struct {
	ListingID    uint64    `json:"listing_id"`
	AssetID      uint64    `json:"asset_id"`
	Seller       string    `json:"seller"`
	UnitsOffered int64     `json:"units_offered"`
	InitialUnits int64     `json:"initial_units"`
	UnitsSold    int64     `json:"units_sold"`
	PricePerUnit int64     `json:"price_per_unit"`
	PaymentToken string    `json:"payment_token"`
	Active       bool      `json:"active"`
	CloseReason  string    `json:"close_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type LoanView struct {
	LoanID            uint64     `json:"loan_id"`
	Borrower          string     `json:"borrower"`
	Lender            string     `json:"lender,omitempty"`
	CollateralAssetID uint64     `json:"collateral_asset_id"`
	CollateralUnits   int64      `json:"collateral_units"`
	Principal         int64      `json:"principal"`
	InterestRateBps   int64      `json:"interest_rate_bps"`
	InterestPercent   string     `json:"interest_percent"`
	DurationDays      int64      `json:"duration_days"`
	PaymentToken      string     `json:"payment_token"`
	Status            string     `json:"status"`
	DueAt             *time.Time `json:"due_at,omitempty"`
	AmountRepaid      int64      `json:"amount_repaid"`
	RequiredRepayment int64      `json:"required_repayment"`
}

type HoldingView struct {
	AssetID    uint64 `json:"asset_id"`
	Holder     string `json:"holder"`
	Free       int64  `json:"free"`
	LoanLocked int64  `json:"loan_locked"`
	Listed     int64  `json:"listed"`
	Total      int64  `json:"total"`
}

// EventView is one row of the persisted event log
type EventView struct {
	Sequence  int64              `json:"sequence"`
	EventType string             `json:"event_type"`
	RequestID string             `json:"request_id"`
	Record    *event.LedgerEvent `json:"record"`
	StateHash string             `json:"state_hash"`
	PrevHash  string             `json:"prev_hash"`
	Timestamp time.Time          `json:"timestamp"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Instrument    string `json:"instrument"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy      bool   `json:"is_healthy"`
	EventsChecked  int64  `json:"events_checked"`
	LastSequence   int64  `json:"last_sequence"`
	FirstFailure   string `json:"first_failure,omitempty"`
	CoreInvariants string `json:"core_invariants,omitempty"`
}

// --- conversions ---

func assetView(a *state.Asset) AssetView {
	v := AssetView{
		AssetID:              a.ID,
		AssetType:            a.AssetType,
		Owner:                a.Owner,
		Name:                 a.Name,
		MetadataURI:          a.MetadataURI,
		TotalSupply:          a.TotalSupply,
		UnitsSold:            a.UnitsSold,
		RemainingUnits:       a.RemainingUnits(),
		UnitPrice:            a.UnitPrice,
		PaymentToken:         a.PaymentToken,
		ExpectedYieldBps:     a.ExpectedYieldBps,
		DurationDays:         a.DurationDays,
		Verified:             a.Verified,
		VerifiedBy:           a.VerifiedBy,
		CreatedAt:            a.CreatedAt,
		ExpectedYieldPercent: BpsPercent(a.ExpectedYieldBps),
		SoldPercent:          RatioPercent(a.UnitsSold, a.TotalSupply),
	}
	if a.TracksSupplyChain() {
		stage := a.Stage
		v.Stage = &stage
		for _, s := range a.StageHistory {
			v.StageHistory = append(v.StageHistory, StageView{
				Stage:      s.Stage,
				Location:   s.Location,
				Note:       s.Note,
				RecordedAt: s.RecordedAt,
				Sequence:   s.Sequence,
			})
		}
	}
	return v
}

func listingView(l *state.Listing) ListingView {
	v := ListingView{
		ListingID:    l.ID,
		AssetID:      l.AssetID,
		Seller:       l.Seller,
		UnitsOffered: l.UnitsOffered,
		InitialUnits: l.InitialUnits,
		UnitsSold:    l.UnitsSold(),
		PricePerUnit: l.PricePerUnit,
		PaymentToken: l.PaymentToken,
		Active:       l.Active,
		CreatedAt:    l.CreatedAt,
	}
	if !l.Active {
		v.CloseReason = l.CloseReason.String()
	}
	return v
}

func loanView(l *state.Loan) (LoanView, error) {
	required, err := core.RequiredRepayment(l)
	if err != nil {
		return LoanView{}, err
	}
	v := LoanView{
		LoanID:            l.ID,
		Borrower:          l.Borrower,
		Lender:            l.Lender,
		CollateralAssetID: l.CollateralAssetID,
		CollateralUnits:   l.CollateralUnits,
		Principal:         l.Principal,
		InterestRateBps:   l.InterestRateBps,
		InterestPercent:   BpsPercent(l.InterestRateBps),
		DurationDays:      l.DurationDays,
		PaymentToken:      l.PaymentToken,
		Status:            l.Status.String(),
		AmountRepaid:      l.AmountRepaid,
		RequiredRepayment: required,
	}
	if !l.DueAt.IsZero() {
		due := l.DueAt
		v.DueAt = &due
	}
	return v, nil
}

func loanViews(loans []*state.Loan) ([]LoanView, error) {
	out := make([]LoanView, 0, len(loans))
	for _, l := range loans {
		v, err := loanView(l)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func holdingView(h ledger.Holding) HoldingView {
	return HoldingView{
		AssetID:    h.AssetID,
		Holder:     h.Holder,
		Free:       h.Free,
		LoanLocked: h.LoanLocked,
		Listed:     h.Listed,
		Total:      h.Total(),
	}
}
