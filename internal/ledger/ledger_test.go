package ledger_test

import (
	"math"
	"testing"

	lerrors "TaniLedger/internal/errors"
	"TaniLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	farmer = "0xfarmer"
	alice  = "0xalice"
	bob    = "0xbob"
)

// mustApply builds one batch with fn and applies it to the tracker.
func mustApply(t *testing.T, bt *ledger.BalanceTracker, seq int64, fn func(b *ledger.BatchBuilder) error) *ledger.Batch {
	t.Helper()
	b := ledger.NewJournalGenerator(bt).NewBatch(seq, uuid.NewString(), 0)
	require.NoError(t, fn(b))
	batch := b.Build()
	require.NoError(t, bt.ApplyBatch(batch))
	return batch
}

// newMintedTracker returns a tracker with asset 1 minted at supply and
// issued units handed to alice.
func newMintedTracker(t *testing.T, supply, issuedToAlice int64) *ledger.BalanceTracker {
	t.Helper()
	bt := ledger.NewBalanceTracker()
	mustApply(t, bt, 1, func(b *ledger.BatchBuilder) error { return b.Mint(1, supply) })
	if issuedToAlice > 0 {
		mustApply(t, bt, 2, func(b *ledger.BatchBuilder) error { return b.IssueUnits(1, alice, issuedToAlice) })
	}
	return bt
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	key := ledger.NewUserAccountKey("  0xABC ", ledger.SubTypeLoanLocked, ledger.Units(7))
	assert.Equal(t, "user:0xabc:loan_locked:units#7", key.AccountPath())
}

func TestAccountKey_SystemPath(t *testing.T) {
	key := ledger.NewSystemAccountKey(ledger.SubTypeSystemUnissued, ledger.Units(3))
	assert.Equal(t, "system:unissued:units#3", key.AccountPath())
}

func TestAccountKey_ExternalMoneyPath(t *testing.T) {
	key := ledger.NewExternalAccountKey(ledger.SubTypeExternalPaymentsIn, ledger.Money("idrx"))
	assert.Equal(t, "external:payments_in:IDRX", key.AccountPath())
}

func TestAccountKey_NormalizedHoldersCompareEqual(t *testing.T) {
	a := ledger.NewUserAccountKey("0xAbC", ledger.SubTypeFree, ledger.Units(1))
	b := ledger.NewUserAccountKey("0xabc", ledger.SubTypeFree, ledger.Units(1))
	assert.Equal(t, a, b)
}

// ============================================================================
// Test: Batch validation
// ============================================================================

func TestBatch_RejectsEmpty(t *testing.T) {
	batch := &ledger.Batch{BatchID: uuid.New()}
	assert.Error(t, batch.Validate())
}

func TestBatch_RejectsMixedInstruments(t *testing.T) {
	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  ledger.NewUserAccountKey(alice, ledger.SubTypeFree, ledger.Units(1)),
			CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalPaymentsIn, ledger.Money("IDRX")),
			Instrument:    ledger.Units(1),
			Amount:        10,
		}},
	}
	assert.Error(t, batch.Validate())
}

func TestBatch_RejectsNonPositiveAmount(t *testing.T) {
	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  ledger.NewUserAccountKey(alice, ledger.SubTypeFree, ledger.Units(1)),
			CreditAccount: ledger.NewUserAccountKey(bob, ledger.SubTypeFree, ledger.Units(1)),
			Instrument:    ledger.Units(1),
			Amount:        0,
		}},
	}
	assert.Error(t, batch.Validate())
}

func TestBatch_DeterministicIDs(t *testing.T) {
	build := func() *ledger.Batch {
		bt := ledger.NewBalanceTracker()
		b := ledger.NewJournalGenerator(bt).NewBatch(42, "req-1", 0)
		require.NoError(t, b.Mint(1, 100))
		return b.Build()
	}
	first, second := build(), build()
	assert.Equal(t, first.BatchID, second.BatchID)
	assert.Equal(t, first.Journals[0].JournalID, second.Journals[0].JournalID)
}

// ============================================================================
// Test: Primitives
// ============================================================================

func TestMint_CreatesUnissuedPool(t *testing.T) {
	bt := newMintedTracker(t, 1000, 0)
	assert.Equal(t, int64(1000), bt.GetUnissuedUnits(1))
	assert.Zero(t, bt.GetHeldUnits(1))
}

func TestMint_RejectsReuse(t *testing.T) {
	bt := newMintedTracker(t, 1000, 0)
	err := ledger.NewJournalGenerator(bt).NewBatch(9, "dup", 0).Mint(1, 50)
	require.ErrorIs(t, err, lerrors.AssetAlreadyExists)
}

func TestIssueUnits_RespectsUnissuedPool(t *testing.T) {
	bt := newMintedTracker(t, 1000, 670)
	assert.Equal(t, int64(670), bt.GetFreeUnits(1, alice))
	assert.Equal(t, int64(330), bt.GetUnissuedUnits(1))

	err := ledger.NewJournalGenerator(bt).NewBatch(3, "over", 0).IssueUnits(1, bob, 400)
	require.ErrorIs(t, err, lerrors.InsufficientSupply)
}

func TestTransfer_FreeOnly(t *testing.T) {
	bt := newMintedTracker(t, 1000, 100)
	mustApply(t, bt, 3, func(b *ledger.BatchBuilder) error { return b.Lock(1, alice, 60) })

	err := ledger.NewJournalGenerator(bt).NewBatch(4, "t", 0).Transfer(1, alice, bob, 41)
	require.ErrorIs(t, err, lerrors.InsufficientFreeBalance)

	mustApply(t, bt, 5, func(b *ledger.BatchBuilder) error { return b.Transfer(1, alice, bob, 40) })
	assert.Equal(t, ledger.Holding{AssetID: 1, Holder: alice, Free: 0, LoanLocked: 60}, bt.GetHolding(1, alice))
	assert.Equal(t, int64(40), bt.GetFreeUnits(1, bob))
}

func TestListingLock_ExclusiveWithCollateral(t *testing.T) {
	bt := newMintedTracker(t, 1000, 100)
	mustApply(t, bt, 3, func(b *ledger.BatchBuilder) error { return b.ListingLock(1, alice, 70) })

	err := ledger.NewJournalGenerator(bt).NewBatch(4, "lock", 0).Lock(1, alice, 31)
	require.ErrorIs(t, err, lerrors.InsufficientFreeBalance)

	h := bt.GetHolding(1, alice)
	assert.Equal(t, int64(30), h.Free)
	assert.Equal(t, int64(70), h.Listed)
	assert.Equal(t, int64(70), h.Locked())
	assert.Equal(t, int64(100), h.Total())
}

func TestBatchBuilder_SeesStagedLegs(t *testing.T) {
	bt := newMintedTracker(t, 1000, 100)
	b := ledger.NewJournalGenerator(bt).NewBatch(3, "two-legs", 0)
	require.NoError(t, b.Lock(1, alice, 80))

	// Only 20 free remain once the staged lock is counted
	require.ErrorIs(t, b.ListingLock(1, alice, 21), lerrors.InsufficientFreeBalance)
	require.NoError(t, b.ListingLock(1, alice, 20))
}

func TestSeizeCollateral_MovesLockedToLender(t *testing.T) {
	bt := newMintedTracker(t, 1000, 100)
	mustApply(t, bt, 3, func(b *ledger.BatchBuilder) error { return b.Lock(1, alice, 50) })
	mustApply(t, bt, 4, func(b *ledger.BatchBuilder) error { return b.SeizeCollateral(1, alice, bob, 50) })

	assert.Zero(t, bt.GetHolding(1, alice).LoanLocked)
	assert.Equal(t, int64(50), bt.GetHolding(1, alice).Free)
	assert.Equal(t, int64(50), bt.GetFreeUnits(1, bob))
	assert.Equal(t, int64(100), bt.GetHeldUnits(1))
}

func TestWithdraw_RequiresCash(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	mustApply(t, bt, 1, func(b *ledger.BatchBuilder) error {
		return b.Pay(ledger.JournalTypeSaleProceeds, "IDRX", farmer, 29_250)
	})

	err := ledger.NewJournalGenerator(bt).NewBatch(2, "w", 0).Withdraw("IDRX", farmer, 30_000)
	require.ErrorIs(t, err, lerrors.InsufficientFunds)

	mustApply(t, bt, 3, func(b *ledger.BatchBuilder) error { return b.Withdraw("IDRX", farmer, 29_000) })
	assert.Equal(t, int64(250), bt.GetCashBalance(farmer, "idrx"))
}

func TestPay_RejectsBalanceOverflow(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	mustApply(t, bt, 1, func(b *ledger.BatchBuilder) error {
		return b.Pay(ledger.JournalTypeLoanRepayment, "IDRX", farmer, math.MaxInt64/2)
	})

	b := ledger.NewJournalGenerator(bt).NewBatch(2, "overflow", 0)
	err := b.Pay(ledger.JournalTypeLoanRepayment, "IDRX", farmer, math.MaxInt64/2+2)
	require.ErrorIs(t, err, lerrors.InvalidArgument)
	assert.Empty(t, b.Build().Journals)
	assert.Equal(t, int64(math.MaxInt64/2), bt.GetCashBalance(farmer, "IDRX"))
}

// ============================================================================
// Test: Invariants
// ============================================================================

func TestValidator_SupplyConservation(t *testing.T) {
	bt := newMintedTracker(t, 1000, 670)
	v := ledger.NewInvariantValidator(bt)

	require.NoError(t, v.ValidateSupplyConservation(1, 1000, 670))
	assert.Error(t, v.ValidateSupplyConservation(1, 1000, 600))
	assert.Error(t, v.ValidateSupplyConservation(1, 500, 670))
}

func TestValidator_GlobalZeroSum(t *testing.T) {
	bt := newMintedTracker(t, 1000, 670)
	mustApply(t, bt, 3, func(b *ledger.BatchBuilder) error {
		return b.Pay(ledger.JournalTypeIssuePayment, "IDRX", farmer, 8_040_000)
	})
	require.NoError(t, ledger.NewInvariantValidator(bt).ValidateGlobalBalance())
}

func TestHoldingsByHolder_Ordered(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	for _, id := range []uint64{3, 1, 2} {
		id := id
		mustApply(t, bt, int64(id*10), func(b *ledger.BatchBuilder) error { return b.Mint(id, 10) })
		mustApply(t, bt, int64(id*10+1), func(b *ledger.BatchBuilder) error { return b.IssueUnits(id, alice, 5) })
	}
	holdings := bt.HoldingsByHolder(alice)
	require.Len(t, holdings, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{holdings[0].AssetID, holdings[1].AssetID, holdings[2].AssetID})
}
