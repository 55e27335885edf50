package core

import (
	lerrors "TaniLedger/internal/errors"
	"TaniLedger/internal/event"
	"TaniLedger/internal/ledger"
	fpmath "TaniLedger/internal/math"
	"TaniLedger/internal/state"
)

// === Marketplace Engine ===

func (c *DeterministicCore) handleCreateListing(evt *event.CreateListing, p *plan) error {
	seller := ledger.NormalizeIdentity(evt.Seller)

	asset := c.registry.GetAsset(evt.AssetID)
	if asset == nil {
		return assetNotFound(evt.AssetID)
	}
	switch {
	case evt.UnitsOffered <= 0:
		return lerrors.InvalidArgument.New("units offered must be positive, got %d", evt.UnitsOffered)
	case evt.PricePerUnit <= 0:
		return lerrors.InvalidArgument.New("price per unit must be positive, got %d", evt.PricePerUnit)
	case seller == "":
		return lerrors.InvalidArgument.New("seller is required")
	}
	if _, ok := fpmath.MulChecked(evt.UnitsOffered, evt.PricePerUnit); !ok {
		return lerrors.InvalidArgument.New("%d units at %d overflows", evt.UnitsOffered, evt.PricePerUnit)
	}
	token, err := c.acceptedToken(evt.PaymentToken)
	if err != nil {
		return err
	}

	if err := p.builder.ListingLock(asset.ID, seller, evt.UnitsOffered); err != nil {
		return err
	}

	listing := &state.Listing{
		ID:           c.listings.NextID(),
		AssetID:      asset.ID,
		Seller:       seller,
		UnitsOffered: evt.UnitsOffered,
		InitialUnits: evt.UnitsOffered,
		PricePerUnit: evt.PricePerUnit,
		PaymentToken: token,
		Active:       true,
		CreatedAt:    p.ts,
	}
	p.onCommit(func() {
		c.listings.AddListing(listing)
	})
	p.touchListing(listing.ID)
	p.participants(seller)
	p.record.AssetID = asset.ID
	p.record.Units = evt.UnitsOffered
	p.record.PaymentToken = token

	p.receipt.AssetID = asset.ID
	p.receipt.ListingID = listing.ID
	p.receipt.Units = evt.UnitsOffered
	p.receipt.PaymentToken = token
	p.receipt.Status = "Active"
	return nil
}

// handlePurchaseListing settles units, fee and proceeds in one batch
func (c *DeterministicCore) handlePurchaseListing(evt *event.PurchaseListing, p *plan) error {
	buyer := ledger.NormalizeIdentity(evt.Buyer)

	listing := c.listings.GetListing(evt.ListingID)
	if listing == nil {
		return listingNotFound(evt.ListingID)
	}
	if !listing.Active {
		return lerrors.ListingInactive.New("listing %d is %s", listing.ID, listing.CloseReason).
			WithMetadata("listing_id", listing.ID)
	}
	switch {
	case evt.UnitsRequested <= 0:
		return lerrors.InvalidArgument.New("units requested must be positive, got %d", evt.UnitsRequested)
	case buyer == "":
		return lerrors.InvalidArgument.New("buyer is required")
	case buyer == listing.Seller:
		return lerrors.InvalidArgument.New("seller cannot purchase own listing %d", listing.ID)
	}
	if evt.UnitsRequested > listing.UnitsOffered {
		return lerrors.InsufficientListedUnits.
			New("listing %d offers %d units, requested %d", listing.ID, listing.UnitsOffered, evt.UnitsRequested).
			WithMetadata("listing_id", listing.ID).
			WithMetadata("offered", listing.UnitsOffered).
			WithMetadata("requested", evt.UnitsRequested)
	}
	cost, _ := fpmath.MulChecked(evt.UnitsRequested, listing.PricePerUnit)
	if evt.Payment != cost {
		return lerrors.AmountMismatch.New("payment %d does not equal %d units x %d", evt.Payment, evt.UnitsRequested, listing.PricePerUnit).
			WithMetadata("expected", cost).
			WithMetadata("payment", evt.Payment)
	}

	fee := fpmath.ComputeFee(evt.Payment, c.cfg.PlatformFeeBps)
	proceeds := evt.Payment - fee

	mustLeg(p.builder.SettleListed(listing.AssetID, listing.Seller, buyer, evt.UnitsRequested))
	if err := p.builder.Pay(ledger.JournalTypePlatformFee, listing.PaymentToken, c.cfg.FeeCollector, fee); err != nil {
		return err
	}
	if err := p.builder.Pay(ledger.JournalTypeSaleProceeds, listing.PaymentToken, listing.Seller, proceeds); err != nil {
		return err
	}

	remaining := listing.UnitsOffered - evt.UnitsRequested
	status := "Active"
	if remaining == 0 {
		status = state.CloseReasonSoldOut.String()
	}

	p.onCommit(func() {
		listing.UnitsOffered = remaining
		if remaining == 0 {
			listing.Close(state.CloseReasonSoldOut, p.ts)
		}
		if c.metrics != nil {
			c.metrics.ListingSettlements.WithLabelValues(status).Inc()
			if fee > 0 {
				c.metrics.PlatformFees.WithLabelValues(listing.PaymentToken).Add(float64(fee))
			}
		}
	})
	p.touchListing(listing.ID)
	p.participants(buyer, listing.Seller, c.cfg.FeeCollector)
	p.record.AssetID = listing.AssetID
	p.record.Units = evt.UnitsRequested
	p.record.Payment = evt.Payment
	p.record.Fee = fee
	p.record.PaymentToken = listing.PaymentToken

	p.receipt.AssetID = listing.AssetID
	p.receipt.ListingID = listing.ID
	p.receipt.Units = evt.UnitsRequested
	p.receipt.Payment = evt.Payment
	p.receipt.Fee = fee
	p.receipt.Proceeds = proceeds
	p.receipt.PaymentToken = listing.PaymentToken
	p.receipt.Status = status
	return nil
}

func (c *DeterministicCore) handleCancelListing(evt *event.CancelListing, p *plan) error {
	caller := ledger.NormalizeIdentity(evt.Caller)

	listing := c.listings.GetListing(evt.ListingID)
	if listing == nil {
		return listingNotFound(evt.ListingID)
	}
	if !listing.Active {
		return lerrors.ListingInactive.New("listing %d is %s", listing.ID, listing.CloseReason).
			WithMetadata("listing_id", listing.ID)
	}
	if caller != listing.Seller {
		return lerrors.Unauthorized.New("only the seller may cancel listing %d", listing.ID).
			WithMetadata("caller", caller)
	}

	released := listing.UnitsOffered
	mustLeg(p.builder.ListingRelease(listing.AssetID, listing.Seller, released))

	p.onCommit(func() {
		listing.UnitsReleased += released
		listing.UnitsOffered = 0
		listing.Close(state.CloseReasonCancelled, p.ts)
	})
	p.touchListing(listing.ID)
	p.participants(listing.Seller)
	p.record.AssetID = listing.AssetID
	p.record.Units = released

	p.receipt.AssetID = listing.AssetID
	p.receipt.ListingID = listing.ID
	p.receipt.Units = released
	p.receipt.Status = state.CloseReasonCancelled.String()
	return nil
}

func listingNotFound(id uint64) error {
	return lerrors.NotFound.New("listing %d not found", id).WithMetadata("listing_id", id)
}
