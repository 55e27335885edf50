package core_test

import (
	"testing"

	"TaniLedger/internal/core"
	lerrors "TaniLedger/internal/errors"
	"TaniLedger/internal/event"
	"TaniLedger/internal/ledger"

	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test: Primary issuance
// ============================================================================

func TestIssueUnits_SupplyCap(t *testing.T) {
	h := newTestCore(t)
	assetID := h.verifiedAsset(1000, 12_000)

	r := h.issue(assetID, buyer, 670, 12_000)
	require.Equal(t, int64(670), r.Units)
	require.Equal(t, int64(8_040_000), r.Payment)

	asset, err := h.core.GetAsset(assetID)
	require.NoError(t, err)
	require.Equal(t, int64(670), asset.UnitsSold)
	require.Equal(t, int64(330), h.core.UnissuedUnits(assetID))

	_, err = h.submit(&event.IssueUnits{Header: h.hdr(), AssetID: assetID, Buyer: buyer2, Units: 400, Payment: 400 * 12_000})
	require.ErrorIs(t, err, lerrors.InsufficientSupply)

	asset, err = h.core.GetAsset(assetID)
	require.NoError(t, err)
	require.Equal(t, int64(670), asset.UnitsSold)
	require.Equal(t, ledger.Holding{AssetID: assetID, Holder: buyer2}, h.core.Holding(assetID, buyer2))

	// The remainder still sells out exactly
	h.issue(assetID, buyer2, 330, 12_000)
	require.Equal(t, int64(0), h.core.UnissuedUnits(assetID))
}

func TestIssueUnits_PaymentSettlesToOwner(t *testing.T) {
	h := newTestCore(t)
	assetID := h.verifiedAsset(100, 250)
	h.issue(assetID, buyer, 4, 250)

	require.Equal(t, []core.CashBalance{{Holder: owner, Token: "IDRX", Balance: 1000}}, cash(h, owner))
}

func TestIssueUnits_Preconditions(t *testing.T) {
	h := newTestCore(t)
	r := h.mustSubmit(&event.RegisterAsset{Header: h.hdr(), Owner: owner, AssetType: event.AssetTypeEquipment, TotalSupply: 10, UnitPrice: 5})

	_, err := h.submit(&event.IssueUnits{Header: h.hdr(), AssetID: r.AssetID, Buyer: buyer, Units: 1, Payment: 5})
	require.ErrorIs(t, err, lerrors.AssetNotVerified)

	h.mustSubmit(&event.VerifyAsset{Header: h.hdr(), AssetID: r.AssetID, Verifier: verifier})

	_, err = h.submit(&event.IssueUnits{Header: h.hdr(), AssetID: 42, Buyer: buyer, Units: 1, Payment: 5})
	require.ErrorIs(t, err, lerrors.NotFound)

	_, err = h.submit(&event.IssueUnits{Header: h.hdr(), AssetID: r.AssetID, Buyer: buyer, Units: 0, Payment: 0})
	require.ErrorIs(t, err, lerrors.InvalidArgument)

	_, err = h.submit(&event.IssueUnits{Header: h.hdr(), AssetID: r.AssetID, Buyer: "", Units: 1, Payment: 5})
	require.ErrorIs(t, err, lerrors.InvalidArgument)

	_, err = h.submit(&event.IssueUnits{Header: h.hdr(), AssetID: r.AssetID, Buyer: buyer, Units: 2, Payment: 11})
	require.ErrorIs(t, err, lerrors.AmountMismatch)
	typed := lerrors.As(err)
	require.Equal(t, "10", typed.Metadata()["expected"])
}

// ============================================================================
// Test: Transfers
// ============================================================================

func TestTransferUnits_MovesFreeUnits(t *testing.T) {
	h := newTestCore(t)
	assetID := h.verifiedAsset(100, 1)
	h.issue(assetID, buyer, 40, 1)

	h.mustSubmit(&event.TransferUnits{Header: h.hdr(), AssetID: assetID, From: buyer, To: buyer2, Units: 15})

	require.Equal(t, int64(25), h.core.Holding(assetID, buyer).Free)
	require.Equal(t, int64(15), h.core.Holding(assetID, buyer2).Free)
	require.Len(t, h.core.HoldingsByAsset(assetID), 2)
}

func TestTransferUnits_LockedUnitsAreNotTransferable(t *testing.T) {
	h := newTestCore(t)
	assetID := h.verifiedAsset(100, 1)
	h.issue(assetID, buyer, 40, 1)
	h.mustSubmit(&event.CreateListing{Header: h.hdr(), AssetID: assetID, Seller: buyer, UnitsOffered: 30, PricePerUnit: 2})

	_, err := h.submit(&event.TransferUnits{Header: h.hdr(), AssetID: assetID, From: buyer, To: buyer2, Units: 11})
	require.ErrorIs(t, err, lerrors.InsufficientFreeBalance)

	h.mustSubmit(&event.TransferUnits{Header: h.hdr(), AssetID: assetID, From: buyer, To: buyer2, Units: 10})
}

func TestTransferUnits_ArgumentErrors(t *testing.T) {
	h := newTestCore(t)
	assetID := h.verifiedAsset(100, 1)
	h.issue(assetID, buyer, 10, 1)

	_, err := h.submit(&event.TransferUnits{Header: h.hdr(), AssetID: assetID, From: buyer, To: " 0xBUYER", Units: 1})
	require.ErrorIs(t, err, lerrors.InvalidArgument)

	_, err = h.submit(&event.TransferUnits{Header: h.hdr(), AssetID: assetID, From: buyer, To: buyer2, Units: -1})
	require.ErrorIs(t, err, lerrors.InvalidArgument)

	_, err = h.submit(&event.TransferUnits{Header: h.hdr(), AssetID: 7, From: buyer, To: buyer2, Units: 1})
	require.ErrorIs(t, err, lerrors.NotFound)
}

// ============================================================================
// Test: Withdrawals
// ============================================================================

func TestWithdrawFunds(t *testing.T) {
	h := newTestCore(t)
	assetID := h.verifiedAsset(100, 10)
	h.issue(assetID, buyer, 10, 10)

	_, err := h.submit(&event.WithdrawFunds{Header: h.hdr(), Holder: owner, Token: "IDRX", Amount: 101})
	require.ErrorIs(t, err, lerrors.InsufficientFunds)

	_, err = h.submit(&event.WithdrawFunds{Header: h.hdr(), Holder: owner, Token: "DOGE", Amount: 1})
	require.ErrorIs(t, err, lerrors.InvalidArgument)

	r := h.mustSubmit(&event.WithdrawFunds{Header: h.hdr(), Holder: owner, Amount: 60})
	require.Equal(t, "IDRX", r.PaymentToken)
	require.Equal(t, []core.CashBalance{{Holder: owner, Token: "IDRX", Balance: 40}}, cash(h, owner))
}

func TestVerifyIntegrity_AfterMixedActivity(t *testing.T) {
	h := newTestCore(t)
	assetID := h.verifiedAsset(500, 10)
	h.issue(assetID, buyer, 200, 10)
	h.mustSubmit(&event.TransferUnits{Header: h.hdr(), AssetID: assetID, From: buyer, To: buyer2, Units: 50})
	h.mustSubmit(&event.CreateListing{Header: h.hdr(), AssetID: assetID, Seller: buyer2, UnitsOffered: 20, PricePerUnit: 15})
	h.mustSubmit(&event.WithdrawFunds{Header: h.hdr(), Holder: owner, Amount: 500})

	require.NoError(t, h.core.VerifyIntegrity())
}
