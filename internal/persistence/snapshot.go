package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"TaniLedger/internal/core"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// v1: zstd-compressed JSON of core.SnapshotState
const snapshotFormatVersion = int32(1)

// SnapshotManager handles creating and loading state snapshots for recovery.
// Snapshots hold balances, assets, listings, loans, the idempotency LRU keys,
// the last sequence and the last state hash.
type SnapshotManager struct {
	db      *sql.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewSnapshotManager(db *sql.DB) (*SnapshotManager, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &SnapshotManager{db: db, encoder: encoder, decoder: decoder}, nil
}

// Close releases the codec resources. The database handle is not closed.
func (sm *SnapshotManager) Close() {
	sm.encoder.Close()
	sm.decoder.Close()
}

// Encode serializes a snapshot into the stored format.
func (sm *SnapshotManager) Encode(snap *core.SnapshotState) ([]byte, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return sm.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/4)), nil
}

// Decode reverses Encode.
func (sm *SnapshotManager) Decode(data []byte) (*core.SnapshotState, error) {
	raw, err := sm.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	var snap core.SnapshotState
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Save persists a snapshot. It starts unverified; call MarkVerified once a
// replay from it reproduced the recorded state hash.
func (sm *SnapshotManager) Save(ctx context.Context, snap *core.SnapshotState) (int, error) {
	data, err := sm.Encode(snap)
	if err != nil {
		return 0, err
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, data, snap.StateHash[:], snapshotFormatVersion, len(data), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("save snapshot seq %d: %w", snap.Sequence, err)
	}
	return len(data), nil
}

// LoadLatest loads the most recent snapshot. With verifiedOnly set,
// unverified snapshots are skipped. Returns nil, nil on a cold start.
func (sm *SnapshotManager) LoadLatest(ctx context.Context, verifiedOnly bool) (*core.SnapshotState, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM event_log.snapshots
		WHERE verified OR NOT $1
		ORDER BY sequence DESC
		LIMIT 1
	`, verifiedOnly)

	var (
		data    []byte
		version int32
	)
	if err := row.Scan(&data, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormatVersion {
		return nil, fmt.Errorf("unsupported snapshot format version %d", version)
	}
	return sm.Decode(data)
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	return LoadEventsFrom(ctx, sm.db, fromSequence, limit)
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty event log
	}
	return seq.Int64, nil
}
