package core

import (
	lerrors "TaniLedger/internal/errors"
	"TaniLedger/internal/event"
	"TaniLedger/internal/ledger"
	fpmath "TaniLedger/internal/math"
)

// === Ledger Core ===

// handleIssueUnits sells units from the unissued pool; the payment settles to
// the asset owner.
func (c *DeterministicCore) handleIssueUnits(evt *event.IssueUnits, p *plan) error {
	buyer := ledger.NormalizeIdentity(evt.Buyer)

	asset := c.registry.GetAsset(evt.AssetID)
	if asset == nil {
		return assetNotFound(evt.AssetID)
	}
	if evt.Units <= 0 {
		return lerrors.InvalidArgument.New("units must be positive, got %d", evt.Units)
	}
	if buyer == "" {
		return lerrors.InvalidArgument.New("buyer is required")
	}
	if !asset.Verified {
		return lerrors.AssetNotVerified.New("asset %d is not verified", asset.ID).
			WithMetadata("asset_id", asset.ID)
	}
	if evt.Units > asset.RemainingUnits() {
		return lerrors.InsufficientSupply.
			New("asset %d has %d unsold units, requested %d", asset.ID, asset.RemainingUnits(), evt.Units).
			WithMetadata("asset_id", asset.ID).
			WithMetadata("available", asset.RemainingUnits()).
			WithMetadata("requested", evt.Units)
	}
	if cost, ok := fpmath.MulChecked(evt.Units, asset.UnitPrice); !ok || evt.Payment != cost {
		return lerrors.AmountMismatch.New("payment %d does not equal %d units x %d", evt.Payment, evt.Units, asset.UnitPrice).
			WithMetadata("expected", cost).
			WithMetadata("payment", evt.Payment)
	}

	if err := p.builder.IssueUnits(asset.ID, buyer, evt.Units); err != nil {
		return err
	}
	if err := p.builder.Pay(ledger.JournalTypeIssuePayment, asset.PaymentToken, asset.Owner, evt.Payment); err != nil {
		return err
	}

	p.onCommit(func() {
		asset.UnitsSold += evt.Units
		if c.metrics != nil {
			c.metrics.UnitsIssued.WithLabelValues(asset.AssetType.String()).Add(float64(evt.Units))
		}
	})
	p.touchAsset(asset.ID)
	p.participants(buyer, asset.Owner)
	p.record.Units = evt.Units
	p.record.Payment = evt.Payment
	p.record.PaymentToken = asset.PaymentToken

	p.receipt.AssetID = asset.ID
	p.receipt.Units = evt.Units
	p.receipt.Payment = evt.Payment
	p.receipt.Proceeds = evt.Payment
	p.receipt.PaymentToken = asset.PaymentToken
	return nil
}

func (c *DeterministicCore) handleTransferUnits(evt *event.TransferUnits, p *plan) error {
	from := ledger.NormalizeIdentity(evt.From)
	to := ledger.NormalizeIdentity(evt.To)

	asset := c.registry.GetAsset(evt.AssetID)
	if asset == nil {
		return assetNotFound(evt.AssetID)
	}
	switch {
	case evt.Units <= 0:
		return lerrors.InvalidArgument.New("units must be positive, got %d", evt.Units)
	case from == "" || to == "":
		return lerrors.InvalidArgument.New("from and to are required")
	case from == to:
		return lerrors.InvalidArgument.New("cannot transfer to self")
	}

	if err := p.builder.Transfer(asset.ID, from, to, evt.Units); err != nil {
		return err
	}

	p.participants(from, to)
	p.record.AssetID = asset.ID
	p.record.Units = evt.Units

	p.receipt.AssetID = asset.ID
	p.receipt.Units = evt.Units
	return nil
}

// handleWithdrawFunds pays settled cash out of the ledger
func (c *DeterministicCore) handleWithdrawFunds(evt *event.WithdrawFunds, p *plan) error {
	holder := ledger.NormalizeIdentity(evt.Holder)
	if holder == "" {
		return lerrors.InvalidArgument.New("holder is required")
	}
	if evt.Amount <= 0 {
		return lerrors.InvalidArgument.New("amount must be positive, got %d", evt.Amount)
	}
	token, err := c.acceptedToken(evt.Token)
	if err != nil {
		return err
	}

	if err := p.builder.Withdraw(token, holder, evt.Amount); err != nil {
		return err
	}

	p.participants(holder)
	p.record.Payment = evt.Amount
	p.record.PaymentToken = token

	p.receipt.Payment = evt.Amount
	p.receipt.PaymentToken = token
	return nil
}
