package ingestion

import (
	"context"
	"errors"
	"time"

	"TaniLedger/internal/core"
	lerrors "TaniLedger/internal/errors"
	"TaniLedger/internal/event"
	"TaniLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Submitter is the single admission path shared by HTTP, gRPC, NATS and the
// keeper: fill the request id, hand to the runner, remember the receipt. The
// runner stamps the admission timestamp.
type Submitter struct {
	runner  *core.Runner
	cache   *ReceiptCache
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewSubmitter builds a Submitter. cache and metrics may be nil.
func NewSubmitter(runner *core.Runner, cache *ReceiptCache, metrics *observability.Metrics, logger zerolog.Logger) *Submitter {
	return &Submitter{
		runner:  runner,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
	}
}

// Now reads the runner's admission clock.
func (s *Submitter) Now() time.Time {
	return s.runner.Now()
}

// Submit commits evt. A retried request id is answered with the original
// receipt while it is still cached and the command type matches.
func (s *Submitter) Submit(ctx context.Context, evt event.Event) (*core.Receipt, error) {
	Stamp(evt, "", s.Now())
	receipt, err := s.runner.Submit(ctx, evt)
	if err == nil {
		s.remember(receipt)
		return receipt, nil
	}

	if errors.Is(err, lerrors.DuplicateRequest) && s.cache != nil {
		cached, cerr := s.cache.Get(evt.IdempotencyKey())
		if cerr != nil {
			s.logger.Warn().Err(cerr).Str("request_id", evt.IdempotencyKey()).Msg("receipt cache lookup failed")
		}
		if cached != nil && cached.EventType == evt.EventType() {
			s.countLookup("hit")
			return cached, nil
		}
		if cached != nil {
			s.countLookup("type_mismatch")
			return nil, lerrors.DuplicateRequest.
				New("request %s was already used for %s", evt.IdempotencyKey(), cached.EventType).
				WithMetadata("request_id", evt.IdempotencyKey()).
				WithMetadata("event_type", cached.EventType.String())
		}
		s.countLookup("miss")
	}
	return nil, err
}

// SubmitWire parses a wire command and submits it.
func (s *Submitter) SubmitWire(ctx context.Context, wc WireCommand) (*core.Receipt, error) {
	evt, err := BuildCommand(wc, s.Now())
	if err != nil {
		return nil, err
	}
	return s.Submit(ctx, evt)
}

func (s *Submitter) remember(r *core.Receipt) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(r); err != nil {
		s.logger.Warn().Err(err).Str("request_id", r.RequestID).Msg("receipt cache store failed")
	}
}

func (s *Submitter) countLookup(result string) {
	if s.metrics != nil {
		s.metrics.ReceiptCacheHits.WithLabelValues(result).Inc()
	}
}
