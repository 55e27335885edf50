// Package keeper submits markDefault for loans whose term has elapsed. The
// core never defaults a loan on its own; the keeper is an ordinary caller.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TaniLedger/internal/core"
	lerrors "TaniLedger/internal/errors"
	"TaniLedger/internal/event"
	"TaniLedger/internal/ingestion"
	"TaniLedger/internal/observability"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

const defaultInterval = time.Minute

// Keeper periodically scans for overdue active loans.
type Keeper struct {
	runner    *core.Runner
	submitter *ingestion.Submitter
	identity  string
	interval  time.Duration
	metrics   *observability.Metrics
	logger    zerolog.Logger
	sched     *gocron.Scheduler
}

func New(runner *core.Runner, submitter *ingestion.Submitter, identity string, interval time.Duration, metrics *observability.Metrics, logger zerolog.Logger) *Keeper {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Keeper{
		runner:    runner,
		submitter: submitter,
		identity:  identity,
		interval:  interval,
		metrics:   metrics,
		logger:    logger,
	}
}

// RequestID is the deterministic request id used for a loan, so two keepers
// racing on the same loan commit it once.
func RequestID(loanID uint64) string {
	return fmt.Sprintf("keeper:markDefault:%d", loanID)
}

// Start schedules RunOnce every interval. Overlapping runs are skipped.
func (k *Keeper) Start(ctx context.Context) error {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	_, err := s.Every(k.interval).Do(func() {
		if _, err := k.RunOnce(ctx); err != nil && ctx.Err() == nil {
			k.logger.Warn().Err(err).Msg("keeper run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule keeper: %w", err)
	}
	s.StartAsync()
	k.sched = s
	k.logger.Info().Dur("interval", k.interval).Str("identity", k.identity).Msg("keeper started")
	return nil
}

func (k *Keeper) Stop() {
	if k.sched != nil {
		k.sched.Stop()
	}
}

// RunOnce submits markDefault for every loan overdue at the admission clock.
// It returns how many loans were defaulted.
func (k *Keeper) RunOnce(ctx context.Context) (int, error) {
	now := k.submitter.Now()

	var overdue []uint64
	if err := k.runner.View(ctx, func(c *core.DeterministicCore) {
		for _, l := range c.OverdueLoans(now) {
			overdue = append(overdue, l.ID)
		}
	}); err != nil {
		k.countRun("error")
		return 0, err
	}

	defaulted := 0
	for _, id := range overdue {
		_, err := k.submitter.Submit(ctx, &event.MarkDefault{
			Header: event.Header{RequestID: RequestID(id)},
			LoanID: id,
			Caller: k.identity,
		})
		switch {
		case err == nil:
			defaulted++
			k.countSubmission("defaulted")
			k.logger.Info().Uint64("loan_id", id).Msg("loan marked defaulted")
		case errors.Is(err, core.ErrRunnerStopped) || ctx.Err() != nil:
			k.countRun("error")
			return defaulted, err
		case errors.Is(err, lerrors.DuplicateRequest):
			k.countSubmission("duplicate")
		default:
			k.countSubmission("rejected")
			k.logger.Warn().Uint64("loan_id", id).Object("error", lerrors.As(err)).Msg("markDefault rejected")
		}
	}

	k.countRun("ok")
	return defaulted, nil
}

func (k *Keeper) countRun(outcome string) {
	if k.metrics != nil {
		k.metrics.KeeperRuns.WithLabelValues(outcome).Inc()
	}
}

func (k *Keeper) countSubmission(result string) {
	if k.metrics != nil {
		k.metrics.KeeperSubmissions.WithLabelValues(result).Inc()
	}
}
