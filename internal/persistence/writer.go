package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"TaniLedger/internal/core"
	"TaniLedger/internal/event"

	"github.com/lib/pq"
)

// EventLogWriter writes events and journals to Postgres using multi-row INSERTs.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence     int64
	EventType    string
	RequestID    string
	AssetID      *int64
	Payload      []byte // JSON-encoded command, replayed on recovery
	Record       []byte // JSON-encoded ledger event
	Participants []string
	StateDigest  []byte
	StateHash    []byte
	PrevHash     []byte
	Timestamp    time.Time
}

// JournalRow represents a row in event_log.journals
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Instrument    string
	Amount        int64
	JournalType   string
	Timestamp     int64
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// RowsFromOutput flattens one committed core output into log rows.
func RowsFromOutput(out core.CoreOutput) (EventRow, []JournalRow, error) {
	env := out.Envelope
	record, err := event.EncodeRecord(env.Record)
	if err != nil {
		return EventRow{}, nil, fmt.Errorf("encode record seq %d: %w", env.Sequence, err)
	}

	row := EventRow{
		Sequence:     env.Sequence,
		EventType:    env.EventType.String(),
		RequestID:    env.IdempotencyKey,
		Payload:      env.Payload,
		Record:       record,
		Participants: env.Record.Participants,
		StateDigest:  out.StateDigest,
		StateHash:    env.StateHash[:],
		PrevHash:     env.PrevHash[:],
		Timestamp:    env.Timestamp,
	}
	if env.AssetID != 0 {
		id := int64(env.AssetID)
		row.AssetID = &id
	}

	var journals []JournalRow
	if out.Batch != nil {
		journals = make([]JournalRow, 0, len(out.Batch.Journals))
		for _, j := range out.Batch.Journals {
			journals = append(journals, JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				EventRef:      j.EventRef,
				Sequence:      j.Sequence,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				Instrument:    j.Instrument.String(),
				Amount:        j.Amount,
				JournalType:   j.JournalType.String(),
				Timestamp:     j.Timestamp,
			})
		}
	}
	return row, journals, nil
}

// WriteEventBatch writes a batch of events to event_log.events inside tx.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	const cols = 11
	query := `INSERT INTO event_log.events
		(sequence, event_type, request_id, asset_id, payload, record, participants,
		 state_digest, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*cols)

	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			e.Sequence, e.EventType, e.RequestID, e.AssetID, e.Payload, e.Record,
			pq.Array(e.Participants), e.StateDigest, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to event_log.journals inside tx.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, tx *sql.Tx, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	const cols = 10
	query := `INSERT INTO event_log.journals
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account,
		 instrument, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*cols)

	for i, j := range journals {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.Instrument, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($base+1, ..., $base+n)"
func placeholders(base, n int) string {
	var sb strings.Builder
	sb.WriteByte('(')
	for k := 1; k <= n; k++ {
		if k > 1 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "$%d", base+k)
	}
	sb.WriteByte(')')
	return sb.String()
}
