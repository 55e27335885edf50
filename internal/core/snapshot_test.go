package core_test

import (
	"context"
	"io"
	"testing"
	"time"

	"TaniLedger/internal/core"
	lerrors "TaniLedger/internal/errors"
	"TaniLedger/internal/event"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test: Snapshot & restore
// ============================================================================

func TestSnapshot_RestoreReproducesState(t *testing.T) {
	h, assetID, loanID := fundedLoan(t)
	l := h.mustSubmit(&event.CreateListing{Header: h.hdr(), AssetID: assetID, Seller: buyer, UnitsOffered: 20, PricePerUnit: 9})

	snap := h.core.CreateSnapshotState()
	require.Equal(t, h.core.GetSequence(), snap.Sequence)
	require.Equal(t, h.core.GetStateHash(), snap.StateHash)

	restored, err := core.NewDeterministicCore(testConfig(), 0, nil, nil, nil, nil)
	require.NoError(t, err)
	restored.RestoreFromSnapshot(snap)
	require.NoError(t, restored.VerifyIntegrity())

	require.Equal(t, h.core.GetSequence(), restored.GetSequence())
	require.Equal(t, h.core.GetStateHash(), restored.GetStateHash())
	require.Equal(t, h.core.Holding(assetID, buyer), restored.Holding(assetID, buyer))
	require.Equal(t, h.core.CashBalances(buyer), restored.CashBalances(buyer))

	loan, err := restored.GetLoan(loanID)
	require.NoError(t, err)
	require.Equal(t, "0xlender", loan.Lender)

	// Both cores continue identically
	next := func(c *core.DeterministicCore) *core.Receipt {
		r, err := c.ProcessEvent(&event.PurchaseListing{
			Header:         event.Header{RequestID: "after-snapshot", Timestamp: h.now},
			ListingID:      l.ListingID,
			Buyer:          buyer2,
			UnitsRequested: 20,
			Payment:        180,
		})
		require.NoError(t, err)
		return r
	}
	a, b := next(h.core), next(restored)
	require.Equal(t, a.Sequence, b.Sequence)
	require.Equal(t, a.StateHash, b.StateHash)
}

func TestSnapshot_RestoredCoreRemembersRequestIDs(t *testing.T) {
	h := newTestCore(t)
	assetID := h.verifiedAsset(10, 1)
	issued := &event.IssueUnits{Header: h.hdr(), AssetID: assetID, Buyer: buyer, Units: 1, Payment: 1}
	h.mustSubmit(issued)

	restored, err := core.NewDeterministicCore(testConfig(), 0, nil, nil, nil, nil)
	require.NoError(t, err)
	restored.RestoreFromSnapshot(h.core.CreateSnapshotState())

	_, err = restored.ProcessEvent(issued)
	require.ErrorIs(t, err, lerrors.DuplicateRequest)
}

func TestSnapshot_NextIDsSurviveRestore(t *testing.T) {
	h := newTestCore(t)
	first := h.verifiedAsset(10, 1)

	restored, err := core.NewDeterministicCore(testConfig(), 0, nil, nil, nil, nil)
	require.NoError(t, err)
	restored.RestoreFromSnapshot(h.core.CreateSnapshotState())

	r, err := restored.ProcessEvent(&event.RegisterAsset{
		Header:      event.Header{RequestID: "fresh", Timestamp: genesisTime},
		Owner:       owner,
		AssetType:   event.AssetTypeEquipment,
		TotalSupply: 1,
		UnitPrice:   1,
	})
	require.NoError(t, err)
	require.Equal(t, first+1, r.AssetID)
}

// ============================================================================
// Test: Replay
// ============================================================================

func TestReplay_FromEnvelopesMatchesLiveCore(t *testing.T) {
	h, _, loanID := fundedLoan(t)
	h.advance(31 * 24 * time.Hour)
	h.mustSubmit(&event.MarkDefault{Header: h.hdr(), LoanID: loanID})
	h.mustSubmit(&event.Liquidate{Header: h.hdr(), LoanID: loanID})

	replica, err := core.NewDeterministicCore(testConfig(), 0, nil, nil, nil, nil)
	require.NoError(t, err)

	for _, out := range drainOutputs(h.persist) {
		cmd, err := event.DecodeCommand(out.Envelope.EventType, out.Envelope.Payload)
		require.NoError(t, err)
		r, err := replica.ProcessEvent(cmd)
		require.NoError(t, err)
		require.Equal(t, out.Envelope.Sequence, r.Sequence)
	}

	require.Equal(t, h.core.GetStateHash(), replica.GetStateHash())
}

// ============================================================================
// Test: Runner
// ============================================================================

func TestRunner_SubmitAndView(t *testing.T) {
	c, err := core.NewDeterministicCore(testConfig(), 0, nil, nil, nil, nil)
	require.NoError(t, err)
	runner := core.NewRunner(c, 8, zerolog.New(io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	r, err := runner.Submit(ctx, &event.RegisterAsset{
		Header:      event.Header{RequestID: "runner-1", Timestamp: genesisTime},
		Owner:       owner,
		AssetType:   event.AssetTypeEquipment,
		TotalSupply: 5,
		UnitPrice:   2,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), r.Sequence)

	_, err = runner.Submit(ctx, &event.VerifyAsset{
		Header:   event.Header{RequestID: "runner-2", Timestamp: genesisTime},
		AssetID:  r.AssetID,
		Verifier: owner,
	})
	require.ErrorIs(t, err, lerrors.Unauthorized)

	var seq int64
	require.NoError(t, runner.View(ctx, func(c *core.DeterministicCore) { seq = c.GetSequence() }))
	require.Equal(t, int64(1), seq)

	cancel()
	require.NoError(t, <-done)

	_, err = runner.Submit(context.Background(), &event.RegisterAsset{
		Header: event.Header{RequestID: "runner-3", Timestamp: genesisTime},
	})
	require.ErrorIs(t, err, core.ErrRunnerStopped)
}

func TestRunner_StampsMonotonicTimestamps(t *testing.T) {
	c, err := core.NewDeterministicCore(testConfig(), 0, nil, nil, nil, nil)
	require.NoError(t, err)

	// The wall clock steps back an hour between the two commands
	ticks := []time.Time{genesisTime, genesisTime.Add(-time.Hour)}
	runner := core.NewRunner(c, 8, zerolog.New(io.Discard)).WithClock(func() time.Time {
		next := ticks[0]
		ticks = ticks[1:]
		return next
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Run(ctx)

	first, err := runner.Submit(ctx, &event.RegisterAsset{
		Header:      event.Header{RequestID: "stamp-1", Timestamp: genesisTime.Add(-48 * time.Hour)},
		Owner:       owner,
		AssetType:   event.AssetTypeEquipment,
		TotalSupply: 5,
		UnitPrice:   2,
	})
	require.NoError(t, err)
	require.Equal(t, genesisTime, first.Timestamp)

	second, err := runner.Submit(ctx, &event.VerifyAsset{
		Header:   event.Header{RequestID: "stamp-2"},
		AssetID:  first.AssetID,
		Verifier: verifier,
	})
	require.NoError(t, err)
	require.Equal(t, genesisTime, second.Timestamp)
	require.Greater(t, second.Sequence, first.Sequence)
}
