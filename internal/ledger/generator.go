package ledger

import (
	"fmt"
	"math"

	lerrors "TaniLedger/internal/errors"

	"github.com/google/uuid"
)

// journalNamespace seeds deterministic journal and batch ids so a replayed
// command produces byte-identical journals.
var journalNamespace = uuid.MustParse("7b1f2c0e-5a43-4f0e-9a51-6c1d8e0b2f10")

// JournalGenerator creates balanced journal batches for ledger primitives.
// Every primitive checks its precondition against the tracker plus whatever
// the batch under construction has already staged, so multi-leg commands see
// their own earlier legs.
type JournalGenerator struct {
	balanceTracker *BalanceTracker
}

func NewJournalGenerator(tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		balanceTracker: tracker,
	}
}

// BatchBuilder accumulates the legs of one command. Nothing touches the
// tracker until the core applies the built batch.
type BatchBuilder struct {
	tracker *BalanceTracker
	batch   *Batch
	staged  map[AccountKey]int64
}

// NewBatch starts a batch for the command admitted at sequence.
func (jg *JournalGenerator) NewBatch(sequence int64, eventRef string, timestamp int64) *BatchBuilder {
	return &BatchBuilder{
		tracker: jg.balanceTracker,
		batch: &Batch{
			BatchID:   uuid.NewSHA1(journalNamespace, []byte(fmt.Sprintf("batch:%d", sequence))),
			EventRef:  eventRef,
			Sequence:  sequence,
			Timestamp: timestamp,
			Journals:  make([]Journal, 0, 3),
		},
		staged: make(map[AccountKey]int64),
	}
}

// Build returns the batch. A batch with no journals is valid for state-only
// commands (verification, default marking) and is not applied to balances.
func (b *BatchBuilder) Build() *Batch {
	return b.batch
}

// balance returns the tracker balance plus staged deltas.
func (b *BatchBuilder) balance(key AccountKey) int64 {
	return b.tracker.GetBalance(key) + b.staged[key]
}

// move stages one leg. The debit side gains amount and the credit side loses
// it; a leg that would overflow either balance is rejected before staging.
func (b *BatchBuilder) move(journalType JournalType, credit, debit AccountKey, amount int64) error {
	if amount > 0 {
		if bal := b.balance(debit); bal > math.MaxInt64-amount {
			return lerrors.InvalidArgument.New("%s balance %d cannot absorb %d without overflow", debit.AccountPath(), bal, amount).
				WithMetadata("account", debit.AccountPath()).
				WithMetadata("amount", amount)
		}
		if bal := b.balance(credit); bal < math.MinInt64+amount {
			return lerrors.InvalidArgument.New("%s balance %d cannot release %d without overflow", credit.AccountPath(), bal, amount).
				WithMetadata("account", credit.AccountPath()).
				WithMetadata("amount", amount)
		}
	}

	idx := len(b.batch.Journals)
	b.batch.Journals = append(b.batch.Journals, Journal{
		JournalID:     uuid.NewSHA1(journalNamespace, []byte(fmt.Sprintf("journal:%d:%d", b.batch.Sequence, idx))),
		BatchID:       b.batch.BatchID,
		EventRef:      b.batch.EventRef,
		Sequence:      b.batch.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Instrument:    debit.Instrument,
		Amount:        amount,
		JournalType:   journalType,
		Timestamp:     b.batch.Timestamp,
	})
	b.staged[debit] += amount
	b.staged[credit] -= amount
	return nil
}

func (b *BatchBuilder) requireFree(assetID uint64, holder string, units int64) error {
	free := b.balance(NewUserAccountKey(holder, SubTypeFree, Units(assetID)))
	if free < units {
		return lerrors.InsufficientFreeBalance.
			New("holder %s has %d free units of asset %d, need %d", NormalizeIdentity(holder), free, assetID, units).
			WithMetadata("asset_id", assetID).
			WithMetadata("free", free).
			WithMetadata("required", units)
	}
	return nil
}

// === Ledger Core primitives ===

// Mint creates the unissued pool for a new asset.
// Moves units: external:issuance → system:unissued
func (b *BatchBuilder) Mint(assetID uint64, supply int64) error {
	unissued := NewSystemAccountKey(SubTypeSystemUnissued, Units(assetID))
	if b.balance(unissued) != 0 || b.tracker.GetBalance(NewExternalAccountKey(SubTypeExternalIssuance, Units(assetID))) != 0 {
		return lerrors.AssetAlreadyExists.New("asset %d already minted", assetID).
			WithMetadata("asset_id", assetID)
	}
	if supply <= 0 {
		return lerrors.InvalidArgument.New("supply must be positive, got %d", supply)
	}
	return b.move(JournalTypeMint, NewExternalAccountKey(SubTypeExternalIssuance, Units(assetID)), unissued, supply)
}

// IssueUnits sells units from the unissued pool.
// Moves units: system:unissued → buyer:free
func (b *BatchBuilder) IssueUnits(assetID uint64, buyer string, units int64) error {
	unissued := NewSystemAccountKey(SubTypeSystemUnissued, Units(assetID))
	if available := b.balance(unissued); available < units {
		return lerrors.InsufficientSupply.
			New("asset %d has %d unsold units, requested %d", assetID, available, units).
			WithMetadata("asset_id", assetID).
			WithMetadata("available", available).
			WithMetadata("requested", units)
	}
	return b.move(JournalTypeIssueUnits, unissued, NewUserAccountKey(buyer, SubTypeFree, Units(assetID)), units)
}

// Transfer moves free units between holders.
// Moves units: from:free → to:free
func (b *BatchBuilder) Transfer(assetID uint64, from, to string, units int64) error {
	if err := b.requireFree(assetID, from, units); err != nil {
		return err
	}
	return b.move(JournalTypeTransfer,
		NewUserAccountKey(from, SubTypeFree, Units(assetID)),
		NewUserAccountKey(to, SubTypeFree, Units(assetID)),
		units)
}

// Lock pledges free units as loan collateral.
// Moves units: holder:free → holder:loan_locked
func (b *BatchBuilder) Lock(assetID uint64, holder string, units int64) error {
	if err := b.requireFree(assetID, holder, units); err != nil {
		return err
	}
	return b.move(JournalTypeCollateralLock,
		NewUserAccountKey(holder, SubTypeFree, Units(assetID)),
		NewUserAccountKey(holder, SubTypeLoanLocked, Units(assetID)),
		units)
}

// Unlock releases collateral back to free.
// Moves units: holder:loan_locked → holder:free
func (b *BatchBuilder) Unlock(assetID uint64, holder string, units int64) error {
	locked := NewUserAccountKey(holder, SubTypeLoanLocked, Units(assetID))
	if have := b.balance(locked); have < units {
		return fmt.Errorf("unlock %d units of asset %d for %s: only %d locked", units, assetID, holder, have)
	}
	return b.move(JournalTypeCollateralRelease, locked, NewUserAccountKey(holder, SubTypeFree, Units(assetID)), units)
}

// ListingLock reserves free units behind a marketplace listing.
// Moves units: holder:free → holder:listed
func (b *BatchBuilder) ListingLock(assetID uint64, holder string, units int64) error {
	if err := b.requireFree(assetID, holder, units); err != nil {
		return err
	}
	return b.move(JournalTypeListingLock,
		NewUserAccountKey(holder, SubTypeFree, Units(assetID)),
		NewUserAccountKey(holder, SubTypeListed, Units(assetID)),
		units)
}

// ListingRelease returns listed units to free on cancellation.
// Moves units: holder:listed → holder:free
func (b *BatchBuilder) ListingRelease(assetID uint64, holder string, units int64) error {
	listed := NewUserAccountKey(holder, SubTypeListed, Units(assetID))
	if have := b.balance(listed); have < units {
		return fmt.Errorf("release %d listed units of asset %d for %s: only %d listed", units, assetID, holder, have)
	}
	return b.move(JournalTypeListingRelease, listed, NewUserAccountKey(holder, SubTypeFree, Units(assetID)), units)
}

// SettleListed delivers listed units to a buyer.
// Moves units: seller:listed → buyer:free
func (b *BatchBuilder) SettleListed(assetID uint64, seller, buyer string, units int64) error {
	listed := NewUserAccountKey(seller, SubTypeListed, Units(assetID))
	if have := b.balance(listed); have < units {
		return fmt.Errorf("settle %d listed units of asset %d from %s: only %d listed", units, assetID, seller, have)
	}
	return b.move(JournalTypeListingSettle, listed, NewUserAccountKey(buyer, SubTypeFree, Units(assetID)), units)
}

// SeizeCollateral hands pledged units to a lender. This is a transfer of the
// locked units followed by their unlock, netted into one leg.
// Moves units: borrower:loan_locked → lender:free
func (b *BatchBuilder) SeizeCollateral(assetID uint64, borrower, lender string, units int64) error {
	locked := NewUserAccountKey(borrower, SubTypeLoanLocked, Units(assetID))
	if have := b.balance(locked); have < units {
		return fmt.Errorf("seize %d units of asset %d from %s: only %d locked", units, assetID, borrower, have)
	}
	return b.move(JournalTypeCollateralSeizure, locked, NewUserAccountKey(lender, SubTypeFree, Units(assetID)), units)
}

// Pay records an inbound payment settled to a payee's cash balance.
// Moves money: external:payments_in → payee:free
func (b *BatchBuilder) Pay(journalType JournalType, token, payee string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	return b.move(journalType,
		NewExternalAccountKey(SubTypeExternalPaymentsIn, Money(token)),
		NewUserAccountKey(payee, SubTypeFree, Money(token)),
		amount)
}

// Withdraw pays a holder's cash out of the ledger.
// Moves money: holder:free → external:payments_out
func (b *BatchBuilder) Withdraw(token, holder string, amount int64) error {
	cash := NewUserAccountKey(holder, SubTypeFree, Money(token))
	if have := b.balance(cash); have < amount {
		return lerrors.InsufficientFunds.
			New("holder %s has %d %s, requested %d", NormalizeIdentity(holder), have, NormalizeToken(token), amount).
			WithMetadata("available", have).
			WithMetadata("requested", amount)
	}
	return b.move(JournalTypeWithdrawal, cash, NewExternalAccountKey(SubTypeExternalPaymentsOut, Money(token)), amount)
}
