package event_test

import (
	"encoding/json"
	"testing"
	"time"

	"TaniLedger/internal/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventType_NamesRoundTrip(t *testing.T) {
	for _, et := range event.AllEventTypes() {
		parsed, ok := event.ParseEventType(et.String())
		require.True(t, ok, et.String())
		assert.Equal(t, et, parsed)

		cmd, err := event.NewCommand(et)
		require.NoError(t, err)
		assert.Equal(t, et, cmd.EventType())
	}

	_, ok := event.ParseEventType("Deposit")
	assert.False(t, ok)
	assert.Len(t, event.AllEventTypes(), 14)
}

func TestDecodeCommand_RestoresPayload(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	orig := &event.RegisterAsset{
		Header:      event.Header{RequestID: "r-1", Timestamp: ts},
		Owner:       "0xo",
		AssetType:   event.AssetTypeFarmland,
		TotalSupply: 10,
		UnitPrice:   3,
		Farmland:    &event.FarmlandRecord{CertificateID: "SHM-1", AreaM2: 100, Crops: []string{"padi"}},
	}
	payload, err := event.EncodeCommand(orig)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"asset_type":"Farmland"`)

	decoded, err := event.DecodeCommand(event.EventTypeAssetRegistered, payload)
	require.NoError(t, err)
	assert.Equal(t, orig, decoded)
	assert.Equal(t, "r-1", decoded.IdempotencyKey())
}

func TestDecodeCommand_RejectsUnknownFields(t *testing.T) {
	_, err := event.DecodeCommand(event.EventTypeUnitsIssued, []byte(`{"asset_id":1,"units":2,"leverage":10}`))
	require.Error(t, err)

	_, err = event.DecodeCommand(event.EventTypeUnknown, []byte(`{}`))
	require.Error(t, err)
}

func TestAssetType_Text(t *testing.T) {
	var at event.AssetType
	require.NoError(t, json.Unmarshal([]byte(`"equipment"`), &at))
	assert.Equal(t, event.AssetTypeEquipment, at)

	require.Error(t, json.Unmarshal([]byte(`"orchard"`), &at))

	_, err := json.Marshal(event.AssetType(7))
	require.Error(t, err)
}

func TestSupplyChainStage_Parse(t *testing.T) {
	s, ok := event.ParseSupplyChainStage(" Distribution ")
	require.True(t, ok)
	assert.Equal(t, event.StageDistribution, s)
	assert.True(t, event.StageCompleted > event.StageProcessing)
}

func TestFarmlandRecord_NormalizedCertificate(t *testing.T) {
	f := &event.FarmlandRecord{CertificateID: "  shm-001/batu "}
	assert.Equal(t, "SHM-001/BATU", f.NormalizedCertificate())
}

func TestHeader_StampKeepsCallerValues(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.FixedZone("WIB", 7*3600))

	var h event.Header
	h.Stamp("generated", now)
	assert.Equal(t, "generated", h.RequestID)
	assert.Equal(t, time.UTC, h.Timestamp.Location())

	h2 := event.Header{RequestID: "mine", Timestamp: now}
	h2.Stamp("generated", now.Add(time.Hour))
	assert.Equal(t, "mine", h2.RequestID)
	assert.Equal(t, now, h2.Timestamp)
}

func TestLedgerEvent_Codec(t *testing.T) {
	rec := &event.LedgerEvent{
		Sequence:     7,
		Kind:         event.EventTypeListingPurchased,
		RequestID:    "r-7",
		ListingID:    3,
		Participants: []string{"0xb", "0xs"},
		Fee:          750,
		Timestamp:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	data, err := event.EncodeRecord(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"ListingPurchased"`)

	back, err := event.DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, rec, back)
}
