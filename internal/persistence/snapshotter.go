package persistence

import (
	"context"
	"fmt"
	"time"

	"TaniLedger/internal/core"
	"TaniLedger/internal/observability"

	"github.com/rs/zerolog"
)

const snapshotCheckInterval = 10 * time.Second

// Snapshotter periodically captures the core state once every N committed
// events. A snapshot is only saved when the event log already holds its
// sequence, so recovery never starts ahead of the log.
type Snapshotter struct {
	runner    *core.Runner
	snapshots *SnapshotManager
	every     int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewSnapshotter(runner *core.Runner, snapshots *SnapshotManager, every int64, metrics *observability.Metrics, logger zerolog.Logger) *Snapshotter {
	return &Snapshotter{
		runner:    runner,
		snapshots: snapshots,
		every:     every,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run checks the sequence every few seconds until ctx is cancelled. A zero
// interval disables periodic snapshots.
func (s *Snapshotter) Run(ctx context.Context, startSeq int64) error {
	if s.every <= 0 {
		return nil
	}
	s.lastSeq = startSeq

	ticker := time.NewTicker(snapshotCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			var seq int64
			if err := s.runner.View(ctx, func(c *core.DeterministicCore) { seq = c.GetSequence() }); err != nil {
				return nil
			}
			if seq-s.lastSeq < s.every {
				continue
			}
			snap, err := s.TakeSnapshot(ctx)
			if err != nil {
				s.logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			if snap != nil {
				s.lastSeq = snap.Sequence
			}
		}
	}
}

// TakeSnapshot captures and saves the current state. It returns nil, nil when
// the persistence worker has not yet written the snapshot's sequence.
func (s *Snapshotter) TakeSnapshot(ctx context.Context) (*core.SnapshotState, error) {
	start := time.Now()

	var snap *core.SnapshotState
	if err := s.runner.View(ctx, func(c *core.DeterministicCore) { snap = c.CreateSnapshotState() }); err != nil {
		return nil, err
	}
	saved, err := s.save(ctx, snap, start)
	if err != nil || !saved {
		return nil, err
	}
	return snap, nil
}

// SaveState persists a state captured outside the runner, e.g. the final
// state after the runner stopped.
func (s *Snapshotter) SaveState(ctx context.Context, snap *core.SnapshotState) error {
	_, err := s.save(ctx, snap, time.Now())
	return err
}

func (s *Snapshotter) save(ctx context.Context, snap *core.SnapshotState, start time.Time) (bool, error) {
	if snap.Sequence == 0 {
		return false, nil
	}

	logged, err := s.snapshots.GetLatestSequence(ctx)
	if err != nil {
		return false, fmt.Errorf("read log head: %w", err)
	}
	if logged < snap.Sequence {
		s.logger.Debug().Int64("sequence", snap.Sequence).Int64("logged", logged).Msg("snapshot deferred, log behind")
		return false, nil
	}

	size, err := s.snapshots.Save(ctx, snap)
	if err != nil {
		return false, err
	}
	// Captured from live state under the runner, so it is consistent
	if err := s.snapshots.MarkVerified(ctx, snap.Sequence); err != nil {
		s.logger.Warn().Err(err).Int64("sequence", snap.Sequence).Msg("mark snapshot verified failed")
	}

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
		s.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	s.logger.Info().Int64("sequence", snap.Sequence).Int("bytes", size).Msg("snapshot saved")
	return true, nil
}
