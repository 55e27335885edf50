package persistence

import (
	"context"
	"fmt"
	"time"

	"TaniLedger/internal/core"
	"TaniLedger/internal/event"
	"TaniLedger/internal/observability"

	"github.com/rs/zerolog"
)

const replayBatchSize = 1000

// EventSource yields committed events in sequence order.
type EventSource interface {
	LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error)
}

// RecoveryResult is the recovered state ready to load into the live core.
type RecoveryResult struct {
	State            *core.SnapshotState
	SnapshotSequence int64 // 0 on a cold start
	Replayed         int64
}

// Recover loads the latest snapshot and replays the event log tail on top of
// it. The replay runs on a scratch core with no outputs and no tier-2 dedup,
// so nothing is re-emitted and logged request ids are not rejected.
func Recover(ctx context.Context, snapshots *SnapshotManager, cfg core.Config, metrics *observability.Metrics, logger zerolog.Logger) (*RecoveryResult, error) {
	start := time.Now()

	base, err := snapshots.LoadLatest(ctx, false)
	if err != nil {
		return nil, err
	}
	if base != nil {
		logger.Info().Int64("sequence", base.Sequence).Msg("loaded snapshot")
	} else {
		logger.Info().Msg("no snapshot found, cold start from sequence 1")
	}

	res, err := ReplayLog(ctx, snapshots, cfg, base, logger)
	if err != nil {
		return nil, err
	}

	// The tail chained onto the snapshot hash, so the snapshot is sound
	if base != nil {
		if err := snapshots.MarkVerified(ctx, base.Sequence); err != nil {
			logger.Warn().Err(err).Int64("sequence", base.Sequence).Msg("mark snapshot verified failed")
		}
	}

	if metrics != nil {
		metrics.ReplayEventsTotal.Add(float64(res.Replayed))
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	logger.Info().
		Int64("snapshot_sequence", res.SnapshotSequence).
		Int64("replayed", res.Replayed).
		Int64("sequence", res.State.Sequence).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return res, nil
}

// ReplayLog rebuilds state by re-admitting every logged command after base
// (nil for genesis). Each event must extend the hash chain and reproduce its
// recorded state hash; any divergence aborts recovery.
func ReplayLog(ctx context.Context, src EventSource, cfg core.Config, base *core.SnapshotState, logger zerolog.Logger) (*RecoveryResult, error) {
	replica, err := core.NewDeterministicCore(cfg, 0, nil, nil, nil, nil)
	if err != nil {
		return nil, err
	}

	chain := core.NewChainValidator()
	res := &RecoveryResult{}
	from := int64(1)
	if base != nil {
		replica.RestoreFromSnapshot(base)
		chain.ResumeFrom(base.Sequence, base.StateHash)
		res.SnapshotSequence = base.Sequence
		from = base.Sequence + 1
	}

	for {
		rows, err := src.LoadEventsFrom(ctx, from, replayBatchSize)
		if err != nil {
			return nil, fmt.Errorf("load events from seq %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			if err := replayRow(replica, chain, row); err != nil {
				return nil, err
			}
			res.Replayed++
		}
		from = rows[len(rows)-1].Sequence + 1

		logger.Debug().Int64("sequence", from-1).Int64("replayed", res.Replayed).Msg("replay progress")
	}

	if err := replica.VerifyIntegrity(); err != nil {
		return nil, fmt.Errorf("integrity after replay: %w", err)
	}

	res.State = replica.CreateSnapshotState()
	return res, nil
}

func replayRow(replica *core.DeterministicCore, chain *core.ChainValidator, row EventRow) error {
	link, err := ChainLinkFromRow(row)
	if err != nil {
		return err
	}
	if err := chain.Validate(link); err != nil {
		return fmt.Errorf("event log chain: %w", err)
	}

	et, ok := event.ParseEventType(row.EventType)
	if !ok {
		return fmt.Errorf("seq %d: unknown event type %q", row.Sequence, row.EventType)
	}
	cmd, err := event.DecodeCommand(et, row.Payload)
	if err != nil {
		return fmt.Errorf("seq %d: decode payload: %w", row.Sequence, err)
	}

	receipt, err := replica.ProcessEvent(cmd)
	if err != nil {
		return fmt.Errorf("replay seq %d (%s): %w", row.Sequence, row.EventType, err)
	}
	if receipt.Sequence != row.Sequence {
		return fmt.Errorf("replay assigned seq %d to logged seq %d", receipt.Sequence, row.Sequence)
	}
	if replica.GetStateHash() != link.StateHash {
		return fmt.Errorf("replay diverged at seq %d", row.Sequence)
	}
	return nil
}

// ChainLinkFromRow extracts the hash chain columns of a logged event.
func ChainLinkFromRow(row EventRow) (core.ChainLink, error) {
	link := core.ChainLink{Sequence: row.Sequence, StateDigest: row.StateDigest}
	if len(row.PrevHash) != 32 || len(row.StateHash) != 32 {
		return link, fmt.Errorf("seq %d: malformed hash columns", row.Sequence)
	}
	copy(link.PrevHash[:], row.PrevHash)
	copy(link.StateHash[:], row.StateHash)
	return link, nil
}
