package ingestion

import (
	"context"
	"fmt"

	"TaniLedger/internal/core"
	"TaniLedger/internal/event"
	"TaniLedger/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const eventSubjectPrefix = "tani.ledger.events."

// OutboundPublisher publishes committed ledger events to NATS for downstream
// consumers. Events are handed over only after the persistence worker has
// written them, so subscribers never see an event the log could lose.
// Subjects follow the pattern: tani.ledger.events.{kind}
type OutboundPublisher struct {
	js      jetstream.JetStream
	queue   chan *event.LedgerEvent
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, queueSize int, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &OutboundPublisher{
		js:      js,
		queue:   make(chan *event.LedgerEvent, queueSize),
		metrics: metrics,
		logger:  logger,
	}
}

// EventSubjectFor returns the subject a ledger event is published on.
func EventSubjectFor(kind event.EventType) string {
	return eventSubjectPrefix + kind.String()
}

// Enqueue accepts a persisted batch. It never blocks the persistence worker:
// when the queue is full the record is dropped and counted, and consumers
// fall back to the event log.
func (op *OutboundPublisher) Enqueue(outputs []core.CoreOutput) {
	for _, out := range outputs {
		if out.Envelope == nil || out.Envelope.Record == nil {
			continue
		}
		select {
		case op.queue <- out.Envelope.Record:
		default:
			if op.metrics != nil {
				op.metrics.PublishDrops.Inc()
			}
			op.logger.Warn().
				Int64("sequence", out.Envelope.Sequence).
				Str("request_id", out.Envelope.IdempotencyKey).
				Msg("outbound queue full, event not published")
		}
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case rec := <-op.queue:
			if err := op.publish(ctx, rec); err != nil {
				// Non-fatal: downstream consumers can query the event log directly
				op.logger.Warn().Err(err).Int64("sequence", rec.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, rec *event.LedgerEvent) error {
	data, err := event.EncodeRecord(rec)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// The request id doubles as the JetStream message id so a republish after
	// restart is deduplicated by the stream.
	_, err = op.js.Publish(ctx, EventSubjectFor(rec.Kind), data, jetstream.WithMsgID(rec.RequestID))
	return err
}
