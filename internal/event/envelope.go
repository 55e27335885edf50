package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeAssetRegistered
	EventTypeAssetVerified
	EventTypeUnitsIssued
	EventTypeUnitsTransferred
	EventTypeSupplyChainStageRecorded
	EventTypeListingCreated
	EventTypeListingPurchased
	EventTypeListingCancelled
	EventTypeLoanProposed
	EventTypeLoanFunded
	EventTypeLoanRepaid
	EventTypeLoanDefaulted
	EventTypeLoanLiquidated
	EventTypeFundsWithdrawn
)

var eventTypeNames = map[EventType]string{
	EventTypeAssetRegistered:          "AssetRegistered",
	EventTypeAssetVerified:            "AssetVerified",
	EventTypeUnitsIssued:              "UnitsIssued",
	EventTypeUnitsTransferred:         "UnitsTransferred",
	EventTypeSupplyChainStageRecorded: "SupplyChainStageRecorded",
	EventTypeListingCreated:           "ListingCreated",
	EventTypeListingPurchased:         "ListingPurchased",
	EventTypeListingCancelled:         "ListingCancelled",
	EventTypeLoanProposed:             "LoanProposed",
	EventTypeLoanFunded:               "LoanFunded",
	EventTypeLoanRepaid:               "LoanRepaid",
	EventTypeLoanDefaulted:            "LoanDefaulted",
	EventTypeLoanLiquidated:           "LoanLiquidated",
	EventTypeFundsWithdrawn:           "FundsWithdrawn",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType resolves a discriminator from its name.
func ParseEventType(name string) (EventType, bool) {
	for et, n := range eventTypeNames {
		if n == name {
			return et, true
		}
	}
	return EventTypeUnknown, false
}

// AllEventTypes returns every known discriminator in declaration order.
func AllEventTypes() []EventType {
	out := make([]EventType, 0, len(eventTypeNames))
	for et := EventTypeAssetRegistered; et <= EventTypeFundsWithdrawn; et++ {
		out = append(out, et)
	}
	return out
}

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Caller-supplied request id, the dedup key
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Asset context (0 for events without one)
	AssetID uint64

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded command, replayed on recovery
	Payload []byte

	// What the command did, for auditors and the off-chain mirror
	Record *LedgerEvent

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface every command admitted by the core implements
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// OccurredAt returns the admission timestamp stamped by the caller
	OccurredAt() time.Time
}

// Header carries the fields shared by every command.
type Header struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"` // Versioned input timestamp (NOT read by the core from the clock)
}

func (h *Header) IdempotencyKey() string {
	return h.RequestID
}

func (h *Header) OccurredAt() time.Time {
	return h.Timestamp
}

// Stamp fills the request id and timestamp when the caller left them empty.
func (h *Header) Stamp(requestID string, now time.Time) {
	if h.RequestID == "" {
		h.RequestID = requestID
	}
	if h.Timestamp.IsZero() {
		h.Timestamp = now.UTC()
	}
}

// CommandHeader exposes the embedded header to admission shells.
func (h *Header) CommandHeader() *Header {
	return h
}
