// internal/event/loan.go
package event

// ProposeLoan pledges free units as collateral for a loan request.
type ProposeLoan struct {
	Header
	Borrower          string `json:"borrower"`
	CollateralAssetID uint64 `json:"collateral_asset_id"`
	CollateralUnits   int64  `json:"collateral_units"`
	Principal         int64  `json:"principal"`
	InterestRateBps   int64  `json:"interest_rate_bps"`
	DurationDays      int64  `json:"duration_days"`
}

func (p *ProposeLoan) EventType() EventType {
	return EventTypeLoanProposed
}

// FundLoan pays the principal to the borrower and activates the loan.
type FundLoan struct {
	Header
	LoanID           uint64 `json:"loan_id"`
	Lender           string `json:"lender"`
	PrincipalPayment int64  `json:"principal_payment"`
}

func (f *FundLoan) EventType() EventType {
	return EventTypeLoanFunded
}

// RepayLoan settles an active loan. Anyone may pay on the borrower's behalf.
type RepayLoan struct {
	Header
	LoanID uint64 `json:"loan_id"`
	Payer  string `json:"payer"`
	Amount int64  `json:"amount"`
}

func (r *RepayLoan) EventType() EventType {
	return EventTypeLoanRepaid
}

// MarkDefault records that an active loan passed its due date unpaid.
type MarkDefault struct {
	Header
	LoanID uint64 `json:"loan_id"`
	Caller string `json:"caller"`
}

func (m *MarkDefault) EventType() EventType {
	return EventTypeLoanDefaulted
}

// Liquidate hands a defaulted loan's collateral to the lender.
type Liquidate struct {
	Header
	LoanID uint64 `json:"loan_id"`
	Caller string `json:"caller"`
}

func (l *Liquidate) EventType() EventType {
	return EventTypeLoanLiquidated
}
