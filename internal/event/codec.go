// internal/event/codec.go
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NewCommand returns an empty command for the discriminator.
func NewCommand(et EventType) (Event, error) {
	switch et {
	case EventTypeAssetRegistered:
		return &RegisterAsset{}, nil
	case EventTypeAssetVerified:
		return &VerifyAsset{}, nil
	case EventTypeUnitsIssued:
		return &IssueUnits{}, nil
	case EventTypeUnitsTransferred:
		return &TransferUnits{}, nil
	case EventTypeSupplyChainStageRecorded:
		return &RecordSupplyChainStage{}, nil
	case EventTypeListingCreated:
		return &CreateListing{}, nil
	case EventTypeListingPurchased:
		return &PurchaseListing{}, nil
	case EventTypeListingCancelled:
		return &CancelListing{}, nil
	case EventTypeLoanProposed:
		return &ProposeLoan{}, nil
	case EventTypeLoanFunded:
		return &FundLoan{}, nil
	case EventTypeLoanRepaid:
		return &RepayLoan{}, nil
	case EventTypeLoanDefaulted:
		return &MarkDefault{}, nil
	case EventTypeLoanLiquidated:
		return &Liquidate{}, nil
	case EventTypeFundsWithdrawn:
		return &WithdrawFunds{}, nil
	default:
		return nil, fmt.Errorf("unknown event type: %d", et)
	}
}

// EncodeCommand serialises a command into the envelope payload.
func EncodeCommand(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

// DecodeCommand rebuilds a command from an envelope payload. Unknown fields
// are rejected so a payload written by a newer schema fails loudly on replay.
func DecodeCommand(et EventType, payload []byte) (Event, error) {
	evt, err := NewCommand(et)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(evt); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", et, err)
	}
	return evt, nil
}
