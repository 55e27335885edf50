package core_test

import (
	"testing"

	"TaniLedger/internal/core"
	lerrors "TaniLedger/internal/errors"
	"TaniLedger/internal/event"
	"TaniLedger/internal/ledger"
	"TaniLedger/internal/state"

	"github.com/stretchr/testify/require"
)

// sellerWithListing issues 100 units to buyer and lists 60 of them at 500.
func sellerWithListing(t *testing.T) (*harness, uint64, uint64) {
	t.Helper()
	h := newTestCore(t)
	assetID := h.verifiedAsset(1000, 100)
	h.issue(assetID, buyer, 100, 100)

	r := h.mustSubmit(&event.CreateListing{
		Header:       h.hdr(),
		AssetID:      assetID,
		Seller:       buyer,
		UnitsOffered: 60,
		PricePerUnit: 500,
	})
	return h, assetID, r.ListingID
}

// ============================================================================
// Test: Listing creation
// ============================================================================

func TestCreateListing_LocksUnits(t *testing.T) {
	h, assetID, listingID := sellerWithListing(t)

	require.Equal(t, ledger.Holding{AssetID: assetID, Holder: buyer, Free: 40, Listed: 60}, h.core.Holding(assetID, buyer))

	l, err := h.core.GetListing(listingID)
	require.NoError(t, err)
	require.True(t, l.Active)
	require.Equal(t, int64(60), l.UnitsOffered)
	require.Equal(t, "IDRX", l.PaymentToken)
	require.Len(t, h.core.ActiveListings(assetID), 1)
	require.Len(t, h.core.ListingsBySeller(buyer), 1)
}

func TestCreateListing_Errors(t *testing.T) {
	h, assetID, _ := sellerWithListing(t)

	_, err := h.submit(&event.CreateListing{Header: h.hdr(), AssetID: assetID, Seller: buyer, UnitsOffered: 41, PricePerUnit: 1})
	require.ErrorIs(t, err, lerrors.InsufficientFreeBalance)

	_, err = h.submit(&event.CreateListing{Header: h.hdr(), AssetID: assetID, Seller: buyer, UnitsOffered: 1, PricePerUnit: 0})
	require.ErrorIs(t, err, lerrors.InvalidArgument)

	_, err = h.submit(&event.CreateListing{Header: h.hdr(), AssetID: assetID, Seller: buyer, UnitsOffered: 1, PricePerUnit: 1, PaymentToken: "BTC"})
	require.ErrorIs(t, err, lerrors.InvalidArgument)

	_, err = h.submit(&event.CreateListing{Header: h.hdr(), AssetID: 77, Seller: buyer, UnitsOffered: 1, PricePerUnit: 1})
	require.ErrorIs(t, err, lerrors.NotFound)
}

func TestCreateListing_SecondaryToken(t *testing.T) {
	h, assetID, _ := sellerWithListing(t)

	r := h.mustSubmit(&event.CreateListing{Header: h.hdr(), AssetID: assetID, Seller: buyer, UnitsOffered: 10, PricePerUnit: 3, PaymentToken: "usdc"})
	require.Equal(t, "USDC", r.PaymentToken)

	h.mustSubmit(&event.PurchaseListing{Header: h.hdr(), ListingID: r.ListingID, Buyer: buyer2, UnitsRequested: 10, Payment: 30})
	require.Equal(t, []core.CashBalance{
		{Holder: buyer, Token: "USDC", Balance: 30},
	}, cash(h, buyer))
}

// ============================================================================
// Test: Purchase settlement
// ============================================================================

func TestPurchaseListing_FullSettlement(t *testing.T) {
	h, assetID, listingID := sellerWithListing(t)

	r := h.mustSubmit(&event.PurchaseListing{
		Header:         h.hdr(),
		ListingID:      listingID,
		Buyer:          buyer2,
		UnitsRequested: 60,
		Payment:        30_000,
	})
	require.Equal(t, int64(750), r.Fee)
	require.Equal(t, int64(29_250), r.Proceeds)
	require.Equal(t, "SoldOut", r.Status)

	require.Equal(t, int64(60), h.core.Holding(assetID, buyer2).Free)
	require.Equal(t, ledger.Holding{AssetID: assetID, Holder: buyer, Free: 40}, h.core.Holding(assetID, buyer))

	l, err := h.core.GetListing(listingID)
	require.NoError(t, err)
	require.False(t, l.Active)
	require.Equal(t, state.CloseReasonSoldOut, l.CloseReason)
	require.Equal(t, int64(60), l.UnitsSold())
	require.Empty(t, h.core.ActiveListings(assetID))

	require.Equal(t, []core.CashBalance{{Holder: collector, Token: "IDRX", Balance: 750}}, cash(h, collector))
	require.Equal(t, []core.CashBalance{{Holder: buyer, Token: "IDRX", Balance: 29_250}}, cash(h, buyer))
}

func TestPurchaseListing_PartialKeepsListingOpen(t *testing.T) {
	h, assetID, listingID := sellerWithListing(t)

	r := h.mustSubmit(&event.PurchaseListing{Header: h.hdr(), ListingID: listingID, Buyer: buyer2, UnitsRequested: 7, Payment: 3_500})
	require.Equal(t, int64(87), r.Fee) // 3500 * 250 / 10000 = 87.5, rounded down
	require.Equal(t, int64(3_413), r.Proceeds)
	require.Equal(t, "Active", r.Status)

	l, err := h.core.GetListing(listingID)
	require.NoError(t, err)
	require.True(t, l.Active)
	require.Equal(t, int64(53), l.UnitsOffered)
	require.Equal(t, int64(53), h.core.Holding(assetID, buyer).Listed)
}

func TestPurchaseListing_Boundary(t *testing.T) {
	h, _, listingID := sellerWithListing(t)

	_, err := h.submit(&event.PurchaseListing{Header: h.hdr(), ListingID: listingID, Buyer: buyer2, UnitsRequested: 61, Payment: 30_500})
	require.ErrorIs(t, err, lerrors.InsufficientListedUnits)

	h.mustSubmit(&event.PurchaseListing{Header: h.hdr(), ListingID: listingID, Buyer: buyer2, UnitsRequested: 60, Payment: 30_000})

	_, err = h.submit(&event.PurchaseListing{Header: h.hdr(), ListingID: listingID, Buyer: buyer2, UnitsRequested: 1, Payment: 500})
	require.ErrorIs(t, err, lerrors.ListingInactive)
}

func TestPurchaseListing_Errors(t *testing.T) {
	h, _, listingID := sellerWithListing(t)

	_, err := h.submit(&event.PurchaseListing{Header: h.hdr(), ListingID: listingID, Buyer: buyer2, UnitsRequested: 2, Payment: 999})
	require.ErrorIs(t, err, lerrors.AmountMismatch)

	_, err = h.submit(&event.PurchaseListing{Header: h.hdr(), ListingID: listingID, Buyer: buyer, UnitsRequested: 1, Payment: 500})
	require.ErrorIs(t, err, lerrors.InvalidArgument)

	_, err = h.submit(&event.PurchaseListing{Header: h.hdr(), ListingID: listingID, Buyer: buyer2, UnitsRequested: 0, Payment: 0})
	require.ErrorIs(t, err, lerrors.InvalidArgument)

	_, err = h.submit(&event.PurchaseListing{Header: h.hdr(), ListingID: 999, Buyer: buyer2, UnitsRequested: 1, Payment: 500})
	require.ErrorIs(t, err, lerrors.NotFound)
}

func TestPurchaseListing_ZeroFeeConfig(t *testing.T) {
	cfg := testConfig()
	cfg.PlatformFeeBps = 0
	c, err := core.NewDeterministicCore(cfg, 0, nil, nil, nil, nil)
	require.NoError(t, err)
	h := &harness{t: t, core: c, now: genesisTime}

	assetID := h.verifiedAsset(10, 1)
	h.issue(assetID, buyer, 10, 1)
	l := h.mustSubmit(&event.CreateListing{Header: h.hdr(), AssetID: assetID, Seller: buyer, UnitsOffered: 10, PricePerUnit: 7})
	r := h.mustSubmit(&event.PurchaseListing{Header: h.hdr(), ListingID: l.ListingID, Buyer: buyer2, UnitsRequested: 10, Payment: 70})

	require.Equal(t, int64(0), r.Fee)
	require.Equal(t, int64(70), r.Proceeds)
	require.Empty(t, cash(h, collector))
}

// ============================================================================
// Test: Cancellation
// ============================================================================

func TestCancelListing_ReleasesUnits(t *testing.T) {
	h, assetID, listingID := sellerWithListing(t)
	h.mustSubmit(&event.PurchaseListing{Header: h.hdr(), ListingID: listingID, Buyer: buyer2, UnitsRequested: 10, Payment: 5_000})

	_, err := h.submit(&event.CancelListing{Header: h.hdr(), ListingID: listingID, Caller: buyer2})
	require.ErrorIs(t, err, lerrors.Unauthorized)

	r := h.mustSubmit(&event.CancelListing{Header: h.hdr(), ListingID: listingID, Caller: buyer})
	require.Equal(t, int64(50), r.Units)

	require.Equal(t, ledger.Holding{AssetID: assetID, Holder: buyer, Free: 90}, h.core.Holding(assetID, buyer))

	l, err := h.core.GetListing(listingID)
	require.NoError(t, err)
	require.False(t, l.Active)
	require.Equal(t, state.CloseReasonCancelled, l.CloseReason)
	require.Equal(t, int64(10), l.UnitsSold())

	_, err = h.submit(&event.CancelListing{Header: h.hdr(), ListingID: listingID, Caller: buyer})
	require.ErrorIs(t, err, lerrors.ListingInactive)
}

// ============================================================================
// Test: Lock exclusivity
// ============================================================================

func TestListedUnitsCannotBePledged(t *testing.T) {
	h, assetID, _ := sellerWithListing(t)

	_, err := h.submit(&event.ProposeLoan{
		Header:            h.hdr(),
		Borrower:          buyer,
		CollateralAssetID: assetID,
		CollateralUnits:   41,
		Principal:         1_000,
		InterestRateBps:   100,
		DurationDays:      30,
	})
	require.ErrorIs(t, err, lerrors.InsufficientFreeBalance)

	h.mustSubmit(&event.ProposeLoan{
		Header:            h.hdr(),
		Borrower:          buyer,
		CollateralAssetID: assetID,
		CollateralUnits:   40,
		Principal:         1_000,
		InterestRateBps:   100,
		DurationDays:      30,
	})
	require.Equal(t, ledger.Holding{AssetID: assetID, Holder: buyer, LoanLocked: 40, Listed: 60}, h.core.Holding(assetID, buyer))

	_, err = h.submit(&event.CreateListing{Header: h.hdr(), AssetID: assetID, Seller: buyer, UnitsOffered: 1, PricePerUnit: 1})
	require.ErrorIs(t, err, lerrors.InsufficientFreeBalance)
}
