package persistence_test

import (
	"context"
	"testing"
	"time"

	"TaniLedger/internal/core"
	"TaniLedger/internal/event"
	"TaniLedger/internal/persistence"
	"TaniLedger/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memLog serves event rows from memory.
type memLog []persistence.EventRow

func (m memLog) LoadEventsFrom(_ context.Context, from int64, limit int) ([]persistence.EventRow, error) {
	var out []persistence.EventRow
	for _, r := range m {
		if r.Sequence >= from && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func logFrom(t *testing.T, outs []core.CoreOutput) memLog {
	t.Helper()
	var log memLog
	for _, o := range outs {
		row, _, err := persistence.RowsFromOutput(o)
		require.NoError(t, err)
		log = append(log, row)
	}
	return log
}

func recoveryConfig() core.Config {
	return core.Config{
		PlatformFeeBps: 250,
		FeeCollector:   "0xplatform",
		Verifiers:      []string{"0xverifier"},
		PaymentTokens:  []string{"IDRX"},
	}
}

func TestReplayLog_FromGenesis(t *testing.T) {
	live, outs := runScenario(t)

	res, err := persistence.ReplayLog(context.Background(), logFrom(t, outs), recoveryConfig(), nil, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, int64(3), res.Replayed)
	assert.Zero(t, res.SnapshotSequence)
	assert.Equal(t, int64(3), res.State.Sequence)
	assert.Equal(t, live.GetStateHash(), res.State.StateHash)
	assert.Contains(t, res.State.IdempotencyKeys, "p-3")
}

func TestReplayLog_FromSnapshot(t *testing.T) {
	_, outs := runScenario(t)
	log := logFrom(t, outs)

	// Snapshot after the first two events, then replay only the third
	first, err := persistence.ReplayLog(context.Background(), log[:2], recoveryConfig(), nil, zerolog.Nop())
	require.NoError(t, err)

	res, err := persistence.ReplayLog(context.Background(), log, recoveryConfig(), first.State, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.SnapshotSequence)
	assert.Equal(t, int64(1), res.Replayed)
	assert.Equal(t, outs[2].Envelope.StateHash, res.State.StateHash)

	// The recovered state loads into a fresh core that continues the chain
	c, err := core.NewDeterministicCore(recoveryConfig(), 0, nil, nil, nil, nil)
	require.NoError(t, err)
	c.RestoreFromSnapshot(res.State)
	assert.Equal(t, int64(3), c.GetSequence())
	assert.Equal(t, outs[2].Envelope.StateHash, c.GetStateHash())

	next, err := c.ProcessEvent(&event.IssueUnits{
		Header:  event.Header{RequestID: "p-4", Timestamp: t0.Add(3 * time.Minute)},
		AssetID: outs[0].Envelope.AssetID,
		Buyer:   "0xbuyer2",
		Units:   10,
		Payment: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), next.Sequence)
	assert.Equal(t, int64(4), c.GetSequence())
}

func TestReplayLog_DetectsTampering(t *testing.T) {
	_, outs := runScenario(t)

	t.Run("gap", func(t *testing.T) {
		log := logFrom(t, outs)
		_, err := persistence.ReplayLog(context.Background(), memLog{log[0], log[2]}, recoveryConfig(), nil, zerolog.Nop())
		require.ErrorContains(t, err, "sequence gap")
	})

	t.Run("payload rewritten", func(t *testing.T) {
		log := logFrom(t, outs)
		log[2].Payload = []byte(`{"request_id":"p-3","timestamp":"2025-04-01T00:02:00Z","asset_id":1,"buyer":"0xbuyer","units":41,"payment":4100}`)
		_, err := persistence.ReplayLog(context.Background(), log, recoveryConfig(), nil, zerolog.Nop())
		require.ErrorContains(t, err, "diverged")
	})

	t.Run("truncated hash", func(t *testing.T) {
		log := logFrom(t, outs)
		log[1].StateHash = log[1].StateHash[:16]
		_, err := persistence.ReplayLog(context.Background(), log, recoveryConfig(), nil, zerolog.Nop())
		require.ErrorContains(t, err, "malformed hash")
	})
}

// --- Postgres integration ---

func TestRecover_WithSnapshotter(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	live, outs := runScenario(t)
	in := make(chan core.CoreOutput, len(outs))
	for _, o := range outs {
		in <- o
	}
	close(in)
	w := persistence.NewPersistenceWorker(db, in, 10, 50*time.Millisecond, nil, zerolog.Nop())
	require.NoError(t, w.Run(ctx))

	sm, err := persistence.NewSnapshotManager(db)
	require.NoError(t, err)
	defer sm.Close()

	snapper := persistence.NewSnapshotter(nil, sm, 1, testutil.TestMetrics(), zerolog.Nop())
	require.NoError(t, snapper.SaveState(ctx, live.CreateSnapshotState()))

	res, err := persistence.Recover(ctx, sm, recoveryConfig(), testutil.TestMetrics(), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.SnapshotSequence)
	assert.Zero(t, res.Replayed)
	assert.Equal(t, live.GetStateHash(), res.State.StateHash)
}
