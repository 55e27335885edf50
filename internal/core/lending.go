package core

import (
	"time"

	lerrors "TaniLedger/internal/errors"
	"TaniLedger/internal/event"
	"TaniLedger/internal/ledger"
	fpmath "TaniLedger/internal/math"
	"TaniLedger/internal/state"
)

// === Lending Engine ===

func (c *DeterministicCore) handleProposeLoan(evt *event.ProposeLoan, p *plan) error {
	borrower := ledger.NormalizeIdentity(evt.Borrower)

	asset := c.registry.GetAsset(evt.CollateralAssetID)
	if asset == nil {
		return assetNotFound(evt.CollateralAssetID)
	}
	switch {
	case evt.CollateralUnits <= 0:
		return lerrors.InvalidArgument.New("collateral units must be positive, got %d", evt.CollateralUnits)
	case evt.Principal <= 0:
		return lerrors.InvalidArgument.New("principal must be positive, got %d", evt.Principal)
	case evt.InterestRateBps < 0:
		return lerrors.InvalidArgument.New("interest rate bps must be non-negative, got %d", evt.InterestRateBps)
	case evt.DurationDays <= 0:
		return lerrors.InvalidArgument.New("duration days must be positive, got %d", evt.DurationDays)
	case evt.DurationDays > state.MaxLoanDurationDays:
		return lerrors.InvalidArgument.New("duration days must be at most %d, got %d", state.MaxLoanDurationDays, evt.DurationDays)
	case borrower == "":
		return lerrors.InvalidArgument.New("borrower is required")
	}
	if _, ok := fpmath.ComputeRequiredRepayment(evt.Principal, evt.InterestRateBps, evt.DurationDays); !ok {
		return lerrors.InvalidArgument.New("repayment for principal %d at %d bps over %d days overflows",
			evt.Principal, evt.InterestRateBps, evt.DurationDays)
	}

	if err := p.builder.Lock(asset.ID, borrower, evt.CollateralUnits); err != nil {
		return err
	}

	loan := &state.Loan{
		ID:                c.loans.NextID(),
		Borrower:          borrower,
		CollateralAssetID: asset.ID,
		CollateralUnits:   evt.CollateralUnits,
		Principal:         evt.Principal,
		InterestRateBps:   evt.InterestRateBps,
		DurationDays:      evt.DurationDays,
		PaymentToken:      c.cfg.PrimaryToken(),
		Status:            state.LoanStatusProposed,
		CreatedAt:         p.ts,
	}
	p.onCommit(func() {
		c.loans.AddLoan(loan)
		c.recordTransition(loan.Status)
	})
	p.touchLoan(loan.ID)
	p.participants(borrower)
	p.record.AssetID = asset.ID
	p.record.Units = evt.CollateralUnits
	p.record.Payment = evt.Principal
	p.record.PaymentToken = loan.PaymentToken

	p.receipt.AssetID = asset.ID
	p.receipt.LoanID = loan.ID
	p.receipt.Units = evt.CollateralUnits
	p.receipt.Payment = evt.Principal
	p.receipt.PaymentToken = loan.PaymentToken
	p.receipt.Status = loan.Status.String()
	return nil
}

// handleFundLoan disburses the principal to the borrower and starts the term
func (c *DeterministicCore) handleFundLoan(evt *event.FundLoan, p *plan) error {
	lender := ledger.NormalizeIdentity(evt.Lender)

	loan := c.loans.GetLoan(evt.LoanID)
	if loan == nil {
		return loanNotFound(evt.LoanID)
	}
	if !loan.Status.CanTransitionTo(state.LoanStatusActive) {
		return invalidLoanState(loan, "fund")
	}
	switch {
	case lender == "":
		return lerrors.InvalidArgument.New("lender is required")
	case lender == loan.Borrower:
		return lerrors.InvalidArgument.New("borrower cannot fund own loan %d", loan.ID)
	}
	if evt.PrincipalPayment != loan.Principal {
		return lerrors.AmountMismatch.New("principal payment %d does not equal principal %d", evt.PrincipalPayment, loan.Principal).
			WithMetadata("expected", loan.Principal).
			WithMetadata("payment", evt.PrincipalPayment)
	}

	if err := p.builder.Pay(ledger.JournalTypeLoanDisbursement, loan.PaymentToken, loan.Borrower, loan.Principal); err != nil {
		return err
	}

	dueAt := loan.DueFrom(p.ts)
	p.onCommit(func() {
		loan.Lender = lender
		loan.Status = state.LoanStatusActive
		loan.FundedAt = p.ts
		loan.DueAt = dueAt
		c.recordTransition(loan.Status)
	})
	p.touchLoan(loan.ID)
	p.participants(lender, loan.Borrower)
	p.record.AssetID = loan.CollateralAssetID
	p.record.Payment = loan.Principal
	p.record.PaymentToken = loan.PaymentToken

	p.receipt.AssetID = loan.CollateralAssetID
	p.receipt.LoanID = loan.ID
	p.receipt.Payment = loan.Principal
	p.receipt.PaymentToken = loan.PaymentToken
	p.receipt.Status = state.LoanStatusActive.String()
	p.receipt.DueAt = &dueAt
	return nil
}

// handleRepayLoan pays the lender and releases the collateral
func (c *DeterministicCore) handleRepayLoan(evt *event.RepayLoan, p *plan) error {
	payer := ledger.NormalizeIdentity(evt.Payer)

	loan := c.loans.GetLoan(evt.LoanID)
	if loan == nil {
		return loanNotFound(evt.LoanID)
	}
	if !loan.Status.CanTransitionTo(state.LoanStatusRepaid) {
		return invalidLoanState(loan, "repay")
	}
	required, ok := fpmath.ComputeRequiredRepayment(loan.Principal, loan.InterestRateBps, loan.DurationDays)
	if !ok {
		return lerrors.Internal.New("required repayment for loan %d overflows", loan.ID)
	}
	if evt.Amount < required {
		return lerrors.InsufficientRepayment.New("loan %d requires %d, got %d", loan.ID, required, evt.Amount).
			WithMetadata("loan_id", loan.ID).
			WithMetadata("required", required).
			WithMetadata("amount", evt.Amount)
	}
	if evt.Amount != required {
		return lerrors.AmountMismatch.New("loan %d requires exactly %d, got %d", loan.ID, required, evt.Amount).
			WithMetadata("loan_id", loan.ID).
			WithMetadata("required", required).
			WithMetadata("amount", evt.Amount)
	}
	if payer == "" {
		return lerrors.InvalidArgument.New("payer is required")
	}

	if err := p.builder.Pay(ledger.JournalTypeLoanRepayment, loan.PaymentToken, loan.Lender, evt.Amount); err != nil {
		return err
	}
	mustLeg(p.builder.Unlock(loan.CollateralAssetID, loan.Borrower, loan.CollateralUnits))

	p.onCommit(func() {
		loan.Status = state.LoanStatusRepaid
		loan.RepaidAt = p.ts
		loan.AmountRepaid = evt.Amount
		c.recordTransition(loan.Status)
	})
	p.touchLoan(loan.ID)
	p.participants(payer, loan.Borrower, loan.Lender)
	p.record.AssetID = loan.CollateralAssetID
	p.record.Units = loan.CollateralUnits
	p.record.Payment = evt.Amount
	p.record.PaymentToken = loan.PaymentToken

	p.receipt.AssetID = loan.CollateralAssetID
	p.receipt.LoanID = loan.ID
	p.receipt.Units = loan.CollateralUnits
	p.receipt.Payment = evt.Amount
	p.receipt.PaymentToken = loan.PaymentToken
	p.receipt.Status = state.LoanStatusRepaid.String()
	return nil
}

// handleMarkDefault records an overdue loan. Anyone may call it once the
// admission timestamp is strictly after dueAt.
func (c *DeterministicCore) handleMarkDefault(evt *event.MarkDefault, p *plan) error {
	caller := ledger.NormalizeIdentity(evt.Caller)

	loan := c.loans.GetLoan(evt.LoanID)
	if loan == nil {
		return loanNotFound(evt.LoanID)
	}
	if !loan.Status.CanTransitionTo(state.LoanStatusDefaulted) {
		return invalidLoanState(loan, "mark default on")
	}
	if !loan.IsOverdue(p.ts) {
		return lerrors.NotYetDue.New("loan %d is due at %s", loan.ID, loan.DueAt.Format(time.RFC3339)).
			WithMetadata("loan_id", loan.ID).
			WithMetadata("due_at", loan.DueAt.Unix())
	}

	p.onCommit(func() {
		loan.Status = state.LoanStatusDefaulted
		loan.DefaultedAt = p.ts
		c.recordTransition(loan.Status)
	})
	p.touchLoan(loan.ID)
	p.participants(caller, loan.Borrower, loan.Lender)
	p.record.AssetID = loan.CollateralAssetID

	p.receipt.AssetID = loan.CollateralAssetID
	p.receipt.LoanID = loan.ID
	p.receipt.Status = state.LoanStatusDefaulted.String()
	return nil
}

// handleLiquidate hands the collateral of a defaulted loan to the lender
func (c *DeterministicCore) handleLiquidate(evt *event.Liquidate, p *plan) error {
	caller := ledger.NormalizeIdentity(evt.Caller)

	loan := c.loans.GetLoan(evt.LoanID)
	if loan == nil {
		return loanNotFound(evt.LoanID)
	}
	if !loan.Status.CanTransitionTo(state.LoanStatusLiquidated) {
		return invalidLoanState(loan, "liquidate")
	}

	mustLeg(p.builder.SeizeCollateral(loan.CollateralAssetID, loan.Borrower, loan.Lender, loan.CollateralUnits))

	p.onCommit(func() {
		loan.Status = state.LoanStatusLiquidated
		loan.LiquidatedAt = p.ts
		c.recordTransition(loan.Status)
	})
	p.touchLoan(loan.ID)
	p.participants(caller, loan.Borrower, loan.Lender)
	p.record.AssetID = loan.CollateralAssetID
	p.record.Units = loan.CollateralUnits

	p.receipt.AssetID = loan.CollateralAssetID
	p.receipt.LoanID = loan.ID
	p.receipt.Units = loan.CollateralUnits
	p.receipt.Status = state.LoanStatusLiquidated.String()
	return nil
}

func (c *DeterministicCore) recordTransition(status state.LoanStatus) {
	if c.metrics != nil {
		c.metrics.LoanTransitions.WithLabelValues(status.String()).Inc()
	}
}

func loanNotFound(id uint64) error {
	return lerrors.NotFound.New("loan %d not found", id).WithMetadata("loan_id", id)
}

func invalidLoanState(loan *state.Loan, action string) error {
	return lerrors.InvalidState.New("cannot %s loan %d in status %s", action, loan.ID, loan.Status).
		WithMetadata("loan_id", loan.ID).
		WithMetadata("status", loan.Status.String())
}
