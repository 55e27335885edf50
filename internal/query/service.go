package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"TaniLedger/internal/core"
	lerrors "TaniLedger/internal/errors"
	"TaniLedger/internal/event"
	"TaniLedger/internal/ledger"
	"TaniLedger/internal/persistence"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// QueryService provides read-only access to the ledger. Views are served from
// the live core through Runner.View so they observe every committed command;
// history comes from the Postgres event log. db may be nil, in which case the
// history endpoints report Internal.
type QueryService struct {
	runner *core.Runner
	db     *sql.DB
}

func NewQueryService(runner *core.Runner, db *sql.DB) *QueryService {
	return &QueryService{runner: runner, db: db}
}

// view runs fn on the core goroutine
func (qs *QueryService) view(ctx context.Context, fn func(c *core.DeterministicCore) error) error {
	var inner error
	if err := qs.runner.View(ctx, func(c *core.DeterministicCore) {
		inner = fn(c)
	}); err != nil {
		return err
	}
	return inner
}

// GetAsset is getAssetParams
func (qs *QueryService) GetAsset(ctx context.Context, assetID uint64) (*AssetView, error) {
	var out AssetView
	err := qs.view(ctx, func(c *core.DeterministicCore) error {
		a, err := c.GetAsset(assetID)
		if err != nil {
			return err
		}
		out = assetView(a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetFarmland is getFarmlandDetails. Non-farmland assets report NotFound.
func (qs *QueryService) GetFarmland(ctx context.Context, assetID uint64) (*FarmlandView, error) {
	var out *FarmlandView
	err := qs.view(ctx, func(c *core.DeterministicCore) error {
		a, err := c.GetAsset(assetID)
		if err != nil {
			return err
		}
		if a.Farmland == nil {
			return lerrors.NotFound.New("asset %d is not farmland", assetID).WithMetadata("asset_id", assetID)
		}
		out = &FarmlandView{AssetID: a.ID, Owner: a.Owner, FarmlandRecord: a.Farmland}
		return nil
	})
	return out, err
}

// FarmlandsByOwner is getFarmlandsByOwner
func (qs *QueryService) FarmlandsByOwner(ctx context.Context, owner string) ([]AssetView, error) {
	farmland := event.AssetTypeFarmland
	return qs.assetsByOwner(ctx, owner, &farmland)
}

// AssetsByOwner returns every asset an owner registered
func (qs *QueryService) AssetsByOwner(ctx context.Context, owner string) ([]AssetView, error) {
	return qs.assetsByOwner(ctx, owner, nil)
}

func (qs *QueryService) assetsByOwner(ctx context.Context, owner string, t *event.AssetType) ([]AssetView, error) {
	owner = ledger.NormalizeIdentity(owner)
	out := []AssetView{}
	err := qs.view(ctx, func(c *core.DeterministicCore) error {
		for _, a := range c.AssetsByOwner(owner, t) {
			out = append(out, assetView(a))
		}
		return nil
	})
	return out, err
}

// ActiveListings is getActiveListings, for one asset or all (assetID 0)
func (qs *QueryService) ActiveListings(ctx context.Context, assetID uint64) ([]ListingView, error) {
	out := []ListingView{}
	err := qs.view(ctx, func(c *core.DeterministicCore) error {
		for _, l := range c.ActiveListings(assetID) {
			out = append(out, listingView(l))
		}
		return nil
	})
	return out, err
}

func (qs *QueryService) GetListing(ctx context.Context, listingID uint64) (*ListingView, error) {
	var out ListingView
	err := qs.view(ctx, func(c *core.DeterministicCore) error {
		l, err := c.GetListing(listingID)
		if err != nil {
			return err
		}
		out = listingView(l)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (qs *QueryService) ListingsBySeller(ctx context.Context, seller string) ([]ListingView, error) {
	seller = ledger.NormalizeIdentity(seller)
	out := []ListingView{}
	err := qs.view(ctx, func(c *core.DeterministicCore) error {
		for _, l := range c.ListingsBySeller(seller) {
			out = append(out, listingView(l))
		}
		return nil
	})
	return out, err
}

// GetLoan returns a loan with its required repayment
func (qs *QueryService) GetLoan(ctx context.Context, loanID uint64) (*LoanView, error) {
	var out LoanView
	err := qs.view(ctx, func(c *core.DeterministicCore) error {
		l, err := c.GetLoan(loanID)
		if err != nil {
			return err
		}
		out, err = loanView(l)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// BorrowerLoans is getBorrowerLoans
func (qs *QueryService) BorrowerLoans(ctx context.Context, borrower string) ([]LoanView, error) {
	borrower = ledger.NormalizeIdentity(borrower)
	var out []LoanView
	err := qs.view(ctx, func(c *core.DeterministicCore) (err error) {
		out, err = loanViews(c.LoansByBorrower(borrower))
		return err
	})
	return out, err
}

// LenderLoans is getLenderLoans
func (qs *QueryService) LenderLoans(ctx context.Context, lender string) ([]LoanView, error) {
	lender = ledger.NormalizeIdentity(lender)
	var out []LoanView
	err := qs.view(ctx, func(c *core.DeterministicCore) (err error) {
		out, err = loanViews(c.LoansByLender(lender))
		return err
	})
	return out, err
}

// OpenLoanProposals lists loans waiting for a lender
func (qs *QueryService) OpenLoanProposals(ctx context.Context) ([]LoanView, error) {
	var out []LoanView
	err := qs.view(ctx, func(c *core.DeterministicCore) (err error) {
		out, err = loanViews(c.OpenLoanProposals())
		return err
	})
	return out, err
}

// Holdings returns a holder's free/locked split per asset
func (qs *QueryService) Holdings(ctx context.Context, holder string) ([]HoldingView, error) {
	holder = ledger.NormalizeIdentity(holder)
	out := []HoldingView{}
	err := qs.view(ctx, func(c *core.DeterministicCore) error {
		for _, h := range c.HoldingsByHolder(holder) {
			out = append(out, holdingView(h))
		}
		return nil
	})
	return out, err
}

// CashBalances returns a holder's settled balance per payment token
func (qs *QueryService) CashBalances(ctx context.Context, holder string) ([]core.CashBalance, error) {
	var out []core.CashBalance
	err := qs.view(ctx, func(c *core.DeterministicCore) error {
		out = c.CashBalances(holder)
		return nil
	})
	return out, err
}

// --- event log ---

// TailEvents returns persisted events with sequence > after, oldest first.
func (qs *QueryService) TailEvents(ctx context.Context, after int64, limit int) ([]EventView, error) {
	if qs.db == nil {
		return nil, lerrors.Internal.New("event log is not configured")
	}
	rows, err := qs.loadEvents(ctx, after+1, clampLimit(limit))
	if err != nil {
		return nil, err
	}

	out := make([]EventView, 0, len(rows))
	for _, r := range rows {
		rec, err := event.DecodeRecord(r.Record)
		if err != nil {
			return nil, fmt.Errorf("decode record seq %d: %w", r.Sequence, err)
		}
		out = append(out, EventView{
			Sequence:  r.Sequence,
			EventType: r.EventType,
			RequestID: r.RequestID,
			Record:    rec,
			StateHash: fmt.Sprintf("%x", r.StateHash),
			PrevHash:  fmt.Sprintf("%x", r.PrevHash),
			Timestamp: r.Timestamp,
		})
	}
	return out, nil
}

// JournalHistory returns journal entries touching holder, newest first.
// Pass beforeSequence 0 for the first page.
func (qs *QueryService) JournalHistory(ctx context.Context, holder string, limit int, beforeSequence int64) ([]JournalHistoryEntry, error) {
	if qs.db == nil {
		return nil, lerrors.Internal.New("event log is not configured")
	}
	holder = ledger.NormalizeIdentity(holder)
	accountPrefix := "user:" + likeEscaper.Replace(holder) + ":%"

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, instrument, amount, journal_type, timestamp
		FROM event_log.journals
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if beforeSequence > 0 {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []JournalHistoryEntry{}
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Instrument, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity walks the persisted hash chain from genesis and re-derives
// every state hash from its stored digest, then runs the core's invariant
// sweep.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	if qs.db != nil {
		validator := core.NewChainValidator()
		from := int64(1)
		for {
			rows, err := qs.loadEvents(ctx, from, maxPageSize)
			if err != nil {
				return nil, err
			}
			for _, r := range rows {
				link, err := persistence.ChainLinkFromRow(r)
				if err == nil {
					err = validator.Validate(link)
				}
				if err != nil {
					report.FirstFailure = err.Error()
					break
				}
				report.LastSequence = r.Sequence
			}
			if report.FirstFailure != "" || len(rows) < maxPageSize {
				break
			}
			from = rows[len(rows)-1].Sequence + 1
		}
		report.EventsChecked = validator.Metrics().Verified()
	}

	err := qs.view(ctx, func(c *core.DeterministicCore) error {
		return c.VerifyIntegrity()
	})
	if err != nil {
		if errors.Is(err, core.ErrRunnerStopped) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		report.CoreInvariants = err.Error()
	}

	report.IsHealthy = report.FirstFailure == "" && report.CoreInvariants == ""
	return report, nil
}

// --- helpers ---

func (qs *QueryService) loadEvents(ctx context.Context, from int64, limit int) ([]persistence.EventRow, error) {
	return persistence.LoadEventsFrom(ctx, qs.db, from, limit)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
