package persistence

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// LoadEventsFrom loads events with sequence >= fromSequence, oldest first.
// Used for warm restart replay, the event tail and chain audits.
func LoadEventsFrom(ctx context.Context, db *sql.DB, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT sequence, event_type, request_id, asset_id, payload, record,
		       participants, state_digest, state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var (
			e       EventRow
			assetID sql.NullInt64
		)
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.RequestID, &assetID, &e.Payload, &e.Record,
			pq.Array(&e.Participants), &e.StateDigest, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		if assetID.Valid {
			id := assetID.Int64
			e.AssetID = &id
		}
		e.Timestamp = e.Timestamp.UTC()
		events = append(events, e)
	}

	return events, rows.Err()
}
