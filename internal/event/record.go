// internal/event/record.go
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// LedgerEvent is the immutable audit record of one committed command. The
// off-chain mirror and presentation layer tail these.
type LedgerEvent struct {
	Sequence     int64     `json:"sequence"`
	Kind         EventType `json:"kind"`
	RequestID    string    `json:"request_id"`
	AssetID      uint64    `json:"asset_id,omitempty"`
	ListingID    uint64    `json:"listing_id,omitempty"`
	LoanID       uint64    `json:"loan_id,omitempty"`
	Participants []string  `json:"participants"`
	Units        int64     `json:"units,omitempty"`
	Payment      int64     `json:"payment,omitempty"`
	Fee          int64     `json:"fee,omitempty"`
	PaymentToken string    `json:"payment_token,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func (et EventType) MarshalText() ([]byte, error) {
	return []byte(et.String()), nil
}

func (et *EventType) UnmarshalText(b []byte) error {
	parsed, ok := ParseEventType(string(b))
	if !ok {
		return fmt.Errorf("unknown event type %q", string(b))
	}
	*et = parsed
	return nil
}

// EncodeRecord serialises a ledger event for the log and the wire.
func EncodeRecord(rec *LedgerEvent) ([]byte, error) {
	return json.Marshal(rec)
}

// DecodeRecord is the inverse of EncodeRecord.
func DecodeRecord(data []byte) (*LedgerEvent, error) {
	var rec LedgerEvent
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode ledger event: %w", err)
	}
	return &rec, nil
}
