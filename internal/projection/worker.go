package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"TaniLedger/internal/core"
	"TaniLedger/internal/ledger"
	"TaniLedger/internal/observability"
	"TaniLedger/internal/state"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

const watermarkName = "mirror"

// ProjectionWorker mirrors committed state deltas into the projections schema.
// The projection channel is non-blocking with drop: if this worker falls
// behind, the mirror is rebuilt from the core state with Rebuild.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// LastSequence returns the last sequence the worker applied
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if output.Envelope == nil || output.Delta == nil {
				continue
			}

			seq := output.Envelope.Sequence
			if seq > pw.lastSeq+1 && pw.lastSeq > 0 {
				pw.logger.Warn().Int64("expected", pw.lastSeq+1).Int64("got", seq).Msg("projection gap, mirror needs rebuild")
			}

			start := time.Now()
			if err := pw.Apply(ctx, seq, output.Delta); err != nil {
				// Projections are eventually consistent and can be rebuilt
				pw.logger.Warn().Err(err).Int64("sequence", seq).Msg("projection update failed")
				continue
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues(watermarkName).Observe(time.Since(start).Seconds())
				pw.metrics.ProjectionLastSequence.Set(float64(seq))
			}
			pw.lastSeq = seq
		}
	}
}

// Apply upserts one delta and advances the watermark in a single transaction.
// Rows already at a newer sequence are left alone.
func (pw *ProjectionWorker) Apply(ctx context.Context, seq int64, delta *core.StateDelta) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := applyDelta(ctx, tx, seq, delta); err != nil {
		return err
	}
	if err := setWatermark(ctx, tx, seq); err != nil {
		return err
	}
	return tx.Commit()
}

// Rebuild truncates the mirror and repopulates it from a full state copy
// taken at seq.
func (pw *ProjectionWorker) Rebuild(ctx context.Context, seq int64, full *core.StateDelta) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		TRUNCATE projections.farmlands, projections.assets, projections.holdings,
		         projections.listings, projections.loans, projections.cash_balances
	`); err != nil {
		return fmt.Errorf("truncate failed: %w", err)
	}
	if err := applyDelta(ctx, tx, seq, full); err != nil {
		return err
	}
	if err := setWatermark(ctx, tx, seq); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	pw.lastSeq = seq
	pw.logger.Info().Int64("sequence", seq).
		Int("assets", len(full.Assets)).
		Int("holdings", len(full.Holdings)).
		Msg("projection rebuild complete")
	return nil
}

// Watermark returns the last sequence recorded in the mirror
func Watermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE projection = $1`,
		watermarkName,
	).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func setWatermark(ctx context.Context, tx *sql.Tx, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, watermarkName, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}

func applyDelta(ctx context.Context, tx *sql.Tx, seq int64, delta *core.StateDelta) error {
	for _, a := range delta.Assets {
		if err := upsertAsset(ctx, tx, seq, a); err != nil {
			return fmt.Errorf("asset projection: %w", err)
		}
	}
	for _, h := range delta.Holdings {
		if err := upsertHolding(ctx, tx, seq, h); err != nil {
			return fmt.Errorf("holding projection: %w", err)
		}
	}
	for _, l := range delta.Listings {
		if err := upsertListing(ctx, tx, seq, l); err != nil {
			return fmt.Errorf("listing projection: %w", err)
		}
	}
	for _, l := range delta.Loans {
		if err := upsertLoan(ctx, tx, seq, l); err != nil {
			return fmt.Errorf("loan projection: %w", err)
		}
	}
	for _, c := range delta.Cash {
		if err := upsertCash(ctx, tx, seq, c); err != nil {
			return fmt.Errorf("cash projection: %w", err)
		}
	}
	return nil
}

func upsertAsset(ctx context.Context, tx *sql.Tx, seq int64, a *state.Asset) error {
	var stage *string
	if a.TracksSupplyChain() {
		s := a.Stage.String()
		stage = &s
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.assets
			(asset_id, asset_type, owner, name, metadata_uri, total_supply, units_sold,
			 unit_price, payment_token, expected_yield_bps, duration_days, verified,
			 verified_by, stage, created_at, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (asset_id) DO UPDATE SET
			units_sold = EXCLUDED.units_sold,
			verified = EXCLUDED.verified,
			verified_by = EXCLUDED.verified_by,
			stage = EXCLUDED.stage,
			last_sequence = EXCLUDED.last_sequence
		WHERE projections.assets.last_sequence <= EXCLUDED.last_sequence
	`, int64(a.ID), a.AssetType.String(), a.Owner, a.Name, a.MetadataURI, a.TotalSupply,
		a.UnitsSold, a.UnitPrice, a.PaymentToken, a.ExpectedYieldBps, a.DurationDays,
		a.Verified, a.VerifiedBy, stage, a.CreatedAt, seq); err != nil {
		return err
	}

	if a.Farmland == nil {
		return nil
	}
	f := a.Farmland
	crops := f.Crops
	if crops == nil {
		crops = []string{}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.farmlands
			(asset_id, certificate_id, area_m2, latitude, longitude, province,
			 district, sub_district, postal_code, soil_type, crops)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (asset_id) DO NOTHING
	`, int64(a.ID), f.NormalizedCertificate(), f.AreaM2, f.Latitude, f.Longitude, f.Province,
		f.District, f.SubDistrict, f.PostalCode, f.SoilType, pq.Array(crops))
	return err
}

func upsertHolding(ctx context.Context, tx *sql.Tx, seq int64, h ledger.Holding) error {
	if h.Total() == 0 {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM projections.holdings
			WHERE asset_id = $1 AND holder = $2 AND last_sequence <= $3
		`, int64(h.AssetID), h.Holder, seq)
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.holdings (asset_id, holder, free, loan_locked, listed, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (asset_id, holder) DO UPDATE SET
			free = EXCLUDED.free,
			loan_locked = EXCLUDED.loan_locked,
			listed = EXCLUDED.listed,
			last_sequence = EXCLUDED.last_sequence
		WHERE projections.holdings.last_sequence <= EXCLUDED.last_sequence
	`, int64(h.AssetID), h.Holder, h.Free, h.LoanLocked, h.Listed, seq)
	return err
}

func upsertListing(ctx context.Context, tx *sql.Tx, seq int64, l *state.Listing) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.listings
			(listing_id, asset_id, seller, units_offered, initial_units, price_per_unit,
			 payment_token, active, close_reason, created_at, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (listing_id) DO UPDATE SET
			units_offered = EXCLUDED.units_offered,
			active = EXCLUDED.active,
			close_reason = EXCLUDED.close_reason,
			last_sequence = EXCLUDED.last_sequence
		WHERE projections.listings.last_sequence <= EXCLUDED.last_sequence
	`, int64(l.ID), int64(l.AssetID), l.Seller, l.UnitsOffered, l.InitialUnits, l.PricePerUnit,
		l.PaymentToken, l.Active, l.CloseReason.String(), l.CreatedAt, seq)
	return err
}

func upsertLoan(ctx context.Context, tx *sql.Tx, seq int64, l *state.Loan) error {
	var dueAt *time.Time
	if !l.DueAt.IsZero() {
		d := l.DueAt
		dueAt = &d
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.loans
			(loan_id, borrower, lender, collateral_asset_id, collateral_units, principal,
			 interest_rate_bps, duration_days, payment_token, status, due_at, amount_repaid,
			 last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (loan_id) DO UPDATE SET
			lender = EXCLUDED.lender,
			status = EXCLUDED.status,
			due_at = EXCLUDED.due_at,
			amount_repaid = EXCLUDED.amount_repaid,
			last_sequence = EXCLUDED.last_sequence
		WHERE projections.loans.last_sequence <= EXCLUDED.last_sequence
	`, int64(l.ID), l.Borrower, l.Lender, int64(l.CollateralAssetID), l.CollateralUnits, l.Principal,
		l.InterestRateBps, l.DurationDays, l.PaymentToken, l.Status.String(), dueAt, l.AmountRepaid, seq)
	return err
}

func upsertCash(ctx context.Context, tx *sql.Tx, seq int64, c core.CashBalance) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.cash_balances (holder, token, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (holder, token) DO UPDATE SET
			balance = EXCLUDED.balance,
			last_sequence = EXCLUDED.last_sequence
		WHERE projections.cash_balances.last_sequence <= EXCLUDED.last_sequence
	`, c.Holder, c.Token, c.Balance, seq)
	return err
}
