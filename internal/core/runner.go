package core

import (
	"context"
	"errors"
	"time"

	lerrors "TaniLedger/internal/errors"
	"TaniLedger/internal/event"

	"github.com/rs/zerolog"
)

// ErrRunnerStopped is returned to callers after the runner's context ends.
var ErrRunnerStopped = errors.New("core runner stopped")

// Runner owns a DeterministicCore on a single goroutine. Commands and reads
// are totally ordered in the order they reach the request channel.
type Runner struct {
	core     *DeterministicCore
	requests chan request
	done     chan struct{}
	logger   zerolog.Logger

	now       func() time.Time
	lastStamp time.Time
}

type request struct {
	evt   event.Event
	view  func(*DeterministicCore)
	reply chan response
}

type response struct {
	receipt *Receipt
	err     error
}

func NewRunner(core *DeterministicCore, queueSize int, logger zerolog.Logger) *Runner {
	return &Runner{
		core:     core,
		requests: make(chan request, queueSize),
		done:     make(chan struct{}),
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the admission clock. Call before Run.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Now reads the admission clock.
func (r *Runner) Now() time.Time {
	return r.now()
}

// Run serves requests until ctx is cancelled. Invariant panics propagate: a
// core that broke an invariant must not keep admitting commands.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)

	r.logger.Info().Int64("sequence", r.core.GetSequence()).Msg("core runner started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Int64("sequence", r.core.GetSequence()).Msg("core runner stopped")
			return nil
		case req := <-r.requests:
			r.serve(req)
		}
	}
}

func (r *Runner) serve(req request) {
	if req.view != nil {
		req.view(r.core)
		req.reply <- response{}
		return
	}

	r.stamp(req.evt)
	receipt, err := r.core.ProcessEvent(req.evt)
	if err != nil {
		typed := lerrors.As(err)
		lvl := r.logger.Debug()
		if errors.Is(typed, lerrors.Internal) {
			lvl = r.logger.Error()
		}
		lvl.
			Str("event_type", req.evt.EventType().String()).
			Str("request_id", req.evt.IdempotencyKey()).
			Object("error", typed).
			Msg("command rejected")
	} else {
		r.logger.Debug().
			Str("event_type", req.evt.EventType().String()).
			Str("request_id", receipt.RequestID).
			Int64("sequence", receipt.Sequence).
			Msg("command committed")
	}
	req.reply <- response{receipt: receipt, err: err}
}

// stamp sets the admission timestamp in sequence order. Timestamps never step
// back along the sequence, even if the wall clock does.
func (r *Runner) stamp(evt event.Event) {
	h, ok := evt.(interface{ CommandHeader() *event.Header })
	if !ok {
		return
	}
	ts := r.now().UTC()
	if ts.Before(r.lastStamp) {
		ts = r.lastStamp
	}
	r.lastStamp = ts
	h.CommandHeader().Timestamp = ts
}

// Submit admits one command and waits for its receipt or typed error. If ctx
// ends after admission the command may still commit; resubmitting the same
// request id is safe.
func (r *Runner) Submit(ctx context.Context, evt event.Event) (*Receipt, error) {
	resp, err := r.do(ctx, request{evt: evt, reply: make(chan response, 1)})
	if err != nil {
		return nil, err
	}
	return resp.receipt, resp.err
}

// View runs fn on the core goroutine, ordered with commands.
func (r *Runner) View(ctx context.Context, fn func(*DeterministicCore)) error {
	_, err := r.do(ctx, request{view: fn, reply: make(chan response, 1)})
	return err
}

func (r *Runner) do(ctx context.Context, req request) (response, error) {
	select {
	case r.requests <- req:
	case <-r.done:
		return response{}, ErrRunnerStopped
	case <-ctx.Done():
		return response{}, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp, nil
	case <-r.done:
		return response{}, ErrRunnerStopped
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}
