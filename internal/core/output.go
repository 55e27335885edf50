package core

import (
	"encoding/hex"
	"sort"
	"time"

	"TaniLedger/internal/event"
	"TaniLedger/internal/ledger"
	"TaniLedger/internal/state"
)

// CoreOutput is everything downstream workers need from one committed command.
type CoreOutput struct {
	Envelope    *event.EventEnvelope
	Batch       *ledger.Batch
	StateDigest []byte
	Delta       *StateDelta
}

// StateDelta carries post-commit copies of every object a command touched, for
// the read-side mirror.
type StateDelta struct {
	Assets   []*state.Asset
	Listings []*state.Listing
	Loans    []*state.Loan
	Holdings []ledger.Holding
	Cash     []CashBalance
}

// CashBalance is one holder's balance in one payment token.
type CashBalance struct {
	Holder  string `json:"holder"`
	Token   string `json:"token"`
	Balance int64  `json:"balance"`
}

// Receipt is the committed confirmation returned to the caller.
type Receipt struct {
	Sequence     int64           `json:"sequence"`
	RequestID    string          `json:"request_id"`
	EventType    event.EventType `json:"event_type"`
	AssetID      uint64          `json:"asset_id,omitempty"`
	ListingID    uint64          `json:"listing_id,omitempty"`
	LoanID       uint64          `json:"loan_id,omitempty"`
	Units        int64           `json:"units,omitempty"`
	Payment      int64           `json:"payment,omitempty"`
	Fee          int64           `json:"fee,omitempty"`
	Proceeds     int64           `json:"proceeds,omitempty"`
	PaymentToken string          `json:"payment_token,omitempty"`
	Status       string          `json:"status,omitempty"`
	DueAt        *time.Time      `json:"due_at,omitempty"`
	StateHash    string          `json:"state_hash"`
	Timestamp    time.Time       `json:"timestamp"`
}

// plan is what a handler hands back to the pipeline: staged journals, the
// state mutation to run once they apply, and what to report.
type plan struct {
	seq     int64
	ts      time.Time
	builder *ledger.BatchBuilder
	record  *event.LedgerEvent
	receipt Receipt

	// Runs after the batch applies. Handlers must not mutate state before.
	commit func()

	assets   map[uint64]struct{}
	listings map[uint64]struct{}
	loans    map[uint64]struct{}
}

func (p *plan) touchAsset(id uint64) {
	p.assets[id] = struct{}{}
	if p.record.AssetID == 0 {
		p.record.AssetID = id
	}
}

func (p *plan) touchListing(id uint64) {
	p.listings[id] = struct{}{}
	p.record.ListingID = id
}

func (p *plan) touchLoan(id uint64) {
	p.loans[id] = struct{}{}
	p.record.LoanID = id
}

func (p *plan) participants(ids ...string) {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		p.record.Participants = append(p.record.Participants, id)
	}
}

func (p *plan) onCommit(fn func()) {
	prev := p.commit
	p.commit = func() {
		if prev != nil {
			prev()
		}
		fn()
	}
}

func sortedIDs(set map[uint64]struct{}) []uint64 {
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func hexHash(h [32]byte) string {
	return hex.EncodeToString(h[:])
}
