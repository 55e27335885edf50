package ingestion

import (
	"encoding/json"
	"strings"
	"time"

	lerrors "TaniLedger/internal/errors"
	"TaniLedger/internal/event"

	"github.com/google/uuid"
)

// WireCommand is the envelope accepted by gRPC Submit and the NATS command
// subjects. Type is either the event name ("ListingPurchased") or the
// command name ("purchaseListing").
type WireCommand struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// commandAliases maps command names to the event they commit
var commandAliases = map[string]event.EventType{
	"registerasset":          event.EventTypeAssetRegistered,
	"verifyasset":            event.EventTypeAssetVerified,
	"issueunits":             event.EventTypeUnitsIssued,
	"transferunits":          event.EventTypeUnitsTransferred,
	"recordsupplychainstage": event.EventTypeSupplyChainStageRecorded,
	"createlisting":          event.EventTypeListingCreated,
	"purchaselisting":        event.EventTypeListingPurchased,
	"cancellisting":          event.EventTypeListingCancelled,
	"proposeloan":            event.EventTypeLoanProposed,
	"fundloan":               event.EventTypeLoanFunded,
	"repayloan":              event.EventTypeLoanRepaid,
	"markdefault":            event.EventTypeLoanDefaulted,
	"liquidate":              event.EventTypeLoanLiquidated,
	"withdrawfunds":          event.EventTypeFundsWithdrawn,
}

// headed is implemented by every command through its embedded Header
type headed interface {
	CommandHeader() *event.Header
}

// ResolveType maps a wire type name to its event type.
func ResolveType(name string) (event.EventType, bool) {
	name = strings.TrimSpace(name)
	if et, ok := event.ParseEventType(name); ok {
		return et, true
	}
	et, ok := commandAliases[strings.ToLower(name)]
	return et, ok
}

// ParseWireCommand decodes a serialized WireCommand into a typed command
// stamped with a request id and admission time.
func ParseWireCommand(data []byte, now time.Time) (event.Event, error) {
	var wc WireCommand
	if err := json.Unmarshal(data, &wc); err != nil {
		return nil, lerrors.InvalidArgument.New("malformed command envelope: %v", err)
	}
	return BuildCommand(wc, now)
}

// BuildCommand converts a WireCommand into a typed command. A request id in
// the envelope wins over one inside the payload; when neither is present a
// random one is generated.
func BuildCommand(wc WireCommand, now time.Time) (event.Event, error) {
	et, ok := ResolveType(wc.Type)
	if !ok {
		return nil, lerrors.InvalidArgument.New("unknown command type %q", wc.Type).WithMetadata("type", wc.Type)
	}

	payload := []byte(wc.Payload)
	if len(payload) == 0 || string(payload) == "null" {
		payload = []byte("{}")
	}
	evt, err := event.DecodeCommand(et, payload)
	if err != nil {
		return nil, lerrors.InvalidArgument.New("invalid %s payload: %v", et, err).WithMetadata("type", et.String())
	}

	Stamp(evt, wc.RequestID, now)
	return evt, nil
}

// Stamp fills in the request id and admission timestamp of a command. A
// non-empty requestID overrides the command's own; when neither is set a
// random id is generated. The timestamp is always the admission clock, so a
// caller cannot move a loan past its due date.
func Stamp(evt event.Event, requestID string, now time.Time) {
	h, ok := evt.(headed)
	if !ok {
		return
	}
	hdr := h.CommandHeader()
	if id := strings.TrimSpace(requestID); id != "" {
		hdr.RequestID = id
	}
	hdr.RequestID = strings.TrimSpace(hdr.RequestID)
	hdr.Timestamp = time.Time{}
	hdr.Stamp(uuid.NewString(), now)
}
