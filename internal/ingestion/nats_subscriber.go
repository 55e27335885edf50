package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"TaniLedger/internal/core"
	lerrors "TaniLedger/internal/errors"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	CommandStream  = "TANI_COMMANDS"
	CommandSubject = "tani.commands.>"
	EventStream    = "TANI_LEDGER_EVENTS"
	EventSubject   = "tani.ledger.events.>"

	resultSubjectPrefix = "tani.results."
	commandConsumer     = "tanild-commands"
)

// Result is published to tani.results.<request_id> for every command taken
// off the command stream.
type Result struct {
	RequestID string        `json:"request_id"`
	Receipt   *core.Receipt `json:"receipt,omitempty"`
	Error     *lerrors.Body `json:"error,omitempty"`
}

// ResultSubject returns the subject a command's result is published on.
// Characters NATS treats as wildcards or separators are replaced.
func ResultSubject(requestID string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r == '.' || r == '*' || r == '>' || r <= ' ' || r == 0x7f:
			return '_'
		}
		return r
	}, requestID)
	return resultSubjectPrefix + clean
}

// CommandSubscriber consumes wire commands from JetStream and feeds them to
// the Submitter.
type CommandSubscriber struct {
	nc        *nats.Conn
	js        jetstream.JetStream
	submitter *Submitter
	logger    zerolog.Logger
	consumer  jetstream.ConsumeContext
}

func NewCommandSubscriber(nc *nats.Conn, js jetstream.JetStream, submitter *Submitter, logger zerolog.Logger) *CommandSubscriber {
	return &CommandSubscriber{nc: nc, js: js, submitter: submitter, logger: logger}
}

// Subscribe creates the durable consumer and starts delivering messages.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (cs *CommandSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := cs.js.CreateOrUpdateConsumer(ctx, CommandStream, jetstream.ConsumerConfig{
		Durable:       commandConsumer,
		FilterSubject: CommandSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", commandConsumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		cs.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", commandConsumer, err)
	}
	cs.consumer = cc
	cs.logger.Info().Str("subject", CommandSubject).Str("consumer", commandConsumer).Msg("subscribed")
	return nil
}

// disposition is what happens to a JetStream message once processed
type disposition int

const (
	ack disposition = iota
	nak
	term
)

func (cs *CommandSubscriber) handle(ctx context.Context, msg jetstream.Msg) {
	res, d := cs.process(ctx, msg.Subject(), msg.Data())
	if d != nak && res.RequestID != "" {
		cs.publishResult(res)
	}

	var err error
	switch d {
	case nak:
		err = msg.Nak()
	case term:
		err = msg.Term()
	default:
		err = msg.Ack()
	}
	if err != nil {
		cs.logger.Warn().Err(err).Str("request_id", res.RequestID).Msg("jetstream acknowledgement failed")
	}
}

// process parses and submits one message. Malformed commands are terminated
// since redelivery cannot fix them; commands refused because the ledger is
// shutting down are redelivered.
func (cs *CommandSubscriber) process(ctx context.Context, subject string, data []byte) (Result, disposition) {
	var wc WireCommand
	if err := json.Unmarshal(data, &wc); err != nil {
		cs.logger.Warn().Str("subject", subject).Err(err).Msg("dropping malformed command")
		return Result{}, term
	}

	evt, err := BuildCommand(wc, cs.submitter.Now())
	if err != nil {
		body := lerrors.ToBody(err)
		cs.logger.Warn().Str("subject", subject).Str("request_id", wc.RequestID).Err(err).Msg("rejecting unparseable command")
		return Result{RequestID: strings.TrimSpace(wc.RequestID), Error: &body}, term
	}
	res := Result{RequestID: evt.IdempotencyKey()}

	receipt, err := cs.submitter.Submit(ctx, evt)
	if err != nil {
		if errors.Is(err, core.ErrRunnerStopped) || errors.Is(err, context.Canceled) {
			return res, nak
		}
		body := lerrors.ToBody(err)
		res.Error = &body
		return res, ack
	}
	res.Receipt = receipt
	return res, ack
}

func (cs *CommandSubscriber) publishResult(res Result) {
	data, err := json.Marshal(res)
	if err != nil {
		cs.logger.Error().Err(err).Str("request_id", res.RequestID).Msg("marshal result")
		return
	}
	if err := cs.nc.Publish(ResultSubject(res.RequestID), data); err != nil {
		cs.logger.Warn().Err(err).Str("request_id", res.RequestID).Msg("publish result failed")
	}
}

// Stop stops delivering messages.
func (cs *CommandSubscriber) Stop() {
	if cs.consumer != nil {
		cs.consumer.Stop()
	}
	cs.logger.Info().Msg("NATS command subscriber stopped")
}

// EnsureStreams creates the command and ledger-event streams if they don't
// exist. Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      CommandStream,
			Subjects:  []string{CommandSubject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:       EventStream,
			Subjects:   []string{EventSubject},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     72 * time.Hour,
			Replicas:   1,
			Duplicates: 10 * time.Minute,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("tanild"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
