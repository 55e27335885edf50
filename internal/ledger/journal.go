package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeMint JournalType = iota
	JournalTypeIssueUnits
	JournalTypeIssuePayment
	JournalTypeTransfer
	JournalTypeCollateralLock
	JournalTypeCollateralRelease
	JournalTypeListingLock
	JournalTypeListingRelease
	JournalTypeListingSettle
	JournalTypeSaleProceeds
	JournalTypePlatformFee
	JournalTypeLoanDisbursement
	JournalTypeLoanRepayment
	JournalTypeCollateralSeizure
	JournalTypeWithdrawal
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeMint:
		return "mint"
	case JournalTypeIssueUnits:
		return "issue_units"
	case JournalTypeIssuePayment:
		return "issue_payment"
	case JournalTypeTransfer:
		return "transfer"
	case JournalTypeCollateralLock:
		return "collateral_lock"
	case JournalTypeCollateralRelease:
		return "collateral_release"
	case JournalTypeListingLock:
		return "listing_lock"
	case JournalTypeListingRelease:
		return "listing_release"
	case JournalTypeListingSettle:
		return "listing_settle"
	case JournalTypeSaleProceeds:
		return "sale_proceeds"
	case JournalTypePlatformFee:
		return "platform_fee"
	case JournalTypeLoanDisbursement:
		return "loan_disbursement"
	case JournalTypeLoanRepayment:
		return "loan_repayment"
	case JournalTypeCollateralSeizure:
		return "collateral_seizure"
	case JournalTypeWithdrawal:
		return "withdrawal"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Deterministic: derived from sequence and leg index
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Request id of the source command
	Sequence      int64       // Global event sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	Instrument    Instrument  // What is being moved
	Amount        int64       // ALWAYS positive
	JournalType   JournalType // Entry type
	Timestamp     int64       // Versioned input timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each journal moves one positive amount from credit to debit, so Σ debits == Σ
// credits holds per entry. Multi-leg settlements (units + payment + fee) are
// several entries under one batch_id.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		// Units never become money and vice versa
		if j.DebitAccount.Instrument != j.Instrument || j.CreditAccount.Instrument != j.Instrument {
			return fmt.Errorf("journal %s mixes instruments: %s -> %s",
				j.JournalID, j.CreditAccount.AccountPath(), j.DebitAccount.AccountPath())
		}
	}

	return nil
}

// Affected returns every account touched by the batch, without duplicates.
func (b *Batch) Affected() []AccountKey {
	seen := make(map[AccountKey]struct{}, len(b.Journals)*2)
	out := make([]AccountKey, 0, len(b.Journals)*2)
	for _, j := range b.Journals {
		for _, k := range []AccountKey{j.DebitAccount, j.CreditAccount} {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}
