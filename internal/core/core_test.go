package core_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"TaniLedger/internal/core"
	lerrors "TaniLedger/internal/errors"
	"TaniLedger/internal/event"
	"TaniLedger/internal/ledger"

	"github.com/stretchr/testify/require"
)

const (
	owner     = "0xowner"
	buyer     = "0xbuyer"
	buyer2    = "0xbuyer2"
	lender    = "0xlender"
	verifier  = "0xverifier"
	collector = "0xplatform"
	keeper    = "0xkeeper"
)

var genesisTime = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

// --- Test helpers ---

type harness struct {
	t       *testing.T
	core    *core.DeterministicCore
	persist chan core.CoreOutput
	proj    chan core.CoreOutput
	n       int
	now     time.Time
}

func testConfig() core.Config {
	return core.Config{
		PlatformFeeBps: 250,
		FeeCollector:   collector,
		Verifiers:      []string{verifier},
		PaymentTokens:  []string{"IDRX", "usdc"},
	}
}

// newTestCore creates a DeterministicCore with buffered channels and no DB checker.
func newTestCore(t *testing.T) *harness {
	t.Helper()
	persist := make(chan core.CoreOutput, 1024)
	proj := make(chan core.CoreOutput, 1024)
	c, err := core.NewDeterministicCore(testConfig(), 0, persist, proj, nil, nil)
	require.NoError(t, err)
	return &harness{t: t, core: c, persist: persist, proj: proj, now: genesisTime}
}

// hdr stamps the next request id and the harness clock.
func (h *harness) hdr() event.Header {
	h.n++
	return event.Header{RequestID: fmt.Sprintf("req-%04d", h.n), Timestamp: h.now}
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

func (h *harness) submit(evt event.Event) (*core.Receipt, error) {
	return h.core.ProcessEvent(evt)
}

func (h *harness) mustSubmit(evt event.Event) *core.Receipt {
	h.t.Helper()
	r, err := h.core.ProcessEvent(evt)
	require.NoError(h.t, err)
	require.NotNil(h.t, r)
	return r
}

// verifiedAsset registers and verifies an Equipment asset.
func (h *harness) verifiedAsset(supply, price int64) uint64 {
	h.t.Helper()
	r := h.mustSubmit(&event.RegisterAsset{
		Header:      h.hdr(),
		Owner:       owner,
		AssetType:   event.AssetTypeEquipment,
		Name:        "Hand tractor",
		TotalSupply: supply,
		UnitPrice:   price,
	})
	h.mustSubmit(&event.VerifyAsset{Header: h.hdr(), AssetID: r.AssetID, Verifier: verifier})
	return r.AssetID
}

func (h *harness) issue(assetID uint64, to string, units, price int64) *core.Receipt {
	h.t.Helper()
	return h.mustSubmit(&event.IssueUnits{
		Header:  h.hdr(),
		AssetID: assetID,
		Buyer:   to,
		Units:   units,
		Payment: units * price,
	})
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

func cash(h *harness, holder string) []core.CashBalance {
	return h.core.CashBalances(holder)
}

func farmland(cert string) *event.FarmlandRecord {
	return &event.FarmlandRecord{
		CertificateID: cert,
		AreaM2:        25_000,
		Latitude:      "-7.2575",
		Longitude:     "112.7521",
		Province:      "Jawa Timur",
		District:      "Malang",
		SubDistrict:   "Batu",
		PostalCode:    "65311",
		SoilType:      "Andosol",
		Crops:         []string{"padi", "jagung"},
	}
}

// ============================================================================
// Test: Config
// ============================================================================

func TestNewDeterministicCore_RejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.PlatformFeeBps = 10_001
	_, err := core.NewDeterministicCore(cfg, 0, nil, nil, nil, nil)
	require.Error(t, err)

	cfg = testConfig()
	cfg.FeeCollector = "  "
	_, err = core.NewDeterministicCore(cfg, 0, nil, nil, nil, nil)
	require.Error(t, err)

	cfg = testConfig()
	cfg.PaymentTokens = nil
	_, err = core.NewDeterministicCore(cfg, 0, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestConfig_NormalizesTokensAndIdentities(t *testing.T) {
	cfg := testConfig()
	cfg.FeeCollector = " 0xPLATFORM "
	cfg.PaymentTokens = []string{" idrx", "IDRX", "usdc"}

	got, err := cfg.Validate()
	require.NoError(t, err)
	require.Equal(t, collector, got.FeeCollector)
	require.Equal(t, []string{"IDRX", "USDC"}, got.PaymentTokens)
	require.Equal(t, "IDRX", got.PrimaryToken())
}

// ============================================================================
// Test: Envelope & hash chain
// ============================================================================

func TestSequence_StartsAtOneAndIncrements(t *testing.T) {
	h := newTestCore(t)
	h.verifiedAsset(100, 10)

	outputs := drainOutputs(h.persist)
	require.Len(t, outputs, 2)
	require.Equal(t, int64(1), outputs[0].Envelope.Sequence)
	require.Equal(t, int64(2), outputs[1].Envelope.Sequence)
	require.Equal(t, int64(2), h.core.GetSequence())
}

func TestStateHashChain_LinksEnvelopes(t *testing.T) {
	h := newTestCore(t)
	assetID := h.verifiedAsset(100, 10)
	h.issue(assetID, buyer, 10, 10)

	outputs := drainOutputs(h.persist)
	require.Len(t, outputs, 3)

	require.Equal(t, core.GenesisHash(), outputs[0].Envelope.PrevHash)
	for i := 1; i < len(outputs); i++ {
		require.Equal(t, outputs[i-1].Envelope.StateHash, outputs[i].Envelope.PrevHash,
			"envelope %d must chain to its predecessor", i)
		require.NotEqual(t, outputs[i].Envelope.PrevHash, outputs[i].Envelope.StateHash)
	}
	for _, o := range outputs {
		require.True(t, core.VerifyLink(o.Envelope.PrevHash, o.Envelope.Sequence, o.StateDigest, o.Envelope.StateHash))
	}
	require.Equal(t, outputs[2].Envelope.StateHash, h.core.GetStateHash())
}

func TestStateHashChain_Deterministic(t *testing.T) {
	run := func() [32]byte {
		h := newTestCore(t)
		assetID := h.verifiedAsset(1000, 12_000)
		h.issue(assetID, buyer, 100, 12_000)
		h.mustSubmit(&event.CreateListing{Header: h.hdr(), AssetID: assetID, Seller: buyer, UnitsOffered: 40, PricePerUnit: 500})
		return h.core.GetStateHash()
	}
	require.Equal(t, run(), run())
}

func TestEnvelope_CarriesPayloadAndRecord(t *testing.T) {
	h := newTestCore(t)
	assetID := h.verifiedAsset(100, 10)
	drainOutputs(h.persist)

	h.issue(assetID, " 0xBUYER ", 5, 10)
	out := drainOutputs(h.persist)[0]

	require.Equal(t, event.EventTypeUnitsIssued, out.Envelope.EventType)
	require.Equal(t, assetID, out.Envelope.AssetID)
	require.Equal(t, genesisTime, out.Envelope.Timestamp)

	decoded, err := event.DecodeCommand(out.Envelope.EventType, out.Envelope.Payload)
	require.NoError(t, err)
	require.Equal(t, int64(5), decoded.(*event.IssueUnits).Units)

	rec := out.Envelope.Record
	require.Equal(t, out.Envelope.Sequence, rec.Sequence)
	require.Equal(t, []string{buyer, owner}, rec.Participants)
	require.Equal(t, int64(50), rec.Payment)
	require.Equal(t, "IDRX", rec.PaymentToken)

	require.Len(t, out.Batch.Journals, 2)
	require.Equal(t, ledger.JournalTypeIssueUnits, out.Batch.Journals[0].JournalType)
	require.Equal(t, ledger.JournalTypeIssuePayment, out.Batch.Journals[1].JournalType)
}

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	persist := make(chan core.CoreOutput, 16)
	proj := make(chan core.CoreOutput, 1)
	c, err := core.NewDeterministicCore(testConfig(), 0, persist, proj, nil, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := c.ProcessEvent(&event.RegisterAsset{
			Header:      event.Header{RequestID: fmt.Sprintf("r%d", i), Timestamp: genesisTime},
			Owner:       owner,
			AssetType:   event.AssetTypeEquipment,
			TotalSupply: 10,
			UnitPrice:   1,
		})
		require.NoError(t, err)
	}

	require.Len(t, drainOutputs(persist), 3)
	require.Len(t, drainOutputs(proj), 1)
}

func TestStateDelta_CarriesTouchedObjects(t *testing.T) {
	h := newTestCore(t)
	assetID := h.verifiedAsset(100, 10)
	h.issue(assetID, buyer, 30, 10)
	drainOutputs(h.proj)

	h.mustSubmit(&event.CreateListing{Header: h.hdr(), AssetID: assetID, Seller: buyer, UnitsOffered: 10, PricePerUnit: 20})
	delta := drainOutputs(h.proj)[0].Delta

	require.Len(t, delta.Listings, 1)
	require.Len(t, delta.Holdings, 1)
	require.Equal(t, ledger.Holding{AssetID: assetID, Holder: buyer, Free: 20, Listed: 10}, delta.Holdings[0])
	require.Empty(t, delta.Cash)
}

// ============================================================================
// Test: Idempotency
// ============================================================================

func TestIdempotency_DuplicateRequestRejected(t *testing.T) {
	h := newTestCore(t)
	assetID := h.verifiedAsset(100, 10)

	evt := &event.IssueUnits{Header: h.hdr(), AssetID: assetID, Buyer: buyer, Units: 5, Payment: 50}
	h.mustSubmit(evt)
	hash := h.core.GetStateHash()

	_, err := h.submit(evt)
	require.ErrorIs(t, err, lerrors.DuplicateRequest)
	require.Equal(t, hash, h.core.GetStateHash())
	require.Equal(t, int64(5), h.core.Holding(assetID, buyer).Free)
}

func TestIdempotency_RequestIDIsGlobalAcrossTypes(t *testing.T) {
	h := newTestCore(t)
	assetID := h.verifiedAsset(100, 10)

	hdr := h.hdr()
	h.mustSubmit(&event.IssueUnits{Header: hdr, AssetID: assetID, Buyer: buyer, Units: 5, Payment: 50})
	_, err := h.submit(&event.TransferUnits{Header: hdr, AssetID: assetID, From: buyer, To: buyer2, Units: 1})
	require.ErrorIs(t, err, lerrors.DuplicateRequest)
}

func TestIdempotency_RejectedCommandCanBeRetried(t *testing.T) {
	h := newTestCore(t)
	assetID := h.verifiedAsset(100, 10)

	hdr := h.hdr()
	_, err := h.submit(&event.IssueUnits{Header: hdr, AssetID: assetID, Buyer: buyer, Units: 5, Payment: 49})
	require.ErrorIs(t, err, lerrors.AmountMismatch)

	h.mustSubmit(&event.IssueUnits{Header: hdr, AssetID: assetID, Buyer: buyer, Units: 5, Payment: 50})
}

// stubDedup answers tier-2 lookups from a fixed set, or fails every lookup.
type stubDedup struct {
	seen map[string]bool
	err  error
}

func (s *stubDedup) IsDuplicate(requestID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.seen[requestID], nil
}

func TestIdempotency_Tier2LookupFailureRejects(t *testing.T) {
	dedup := &stubDedup{}
	c, err := core.NewDeterministicCore(testConfig(), 0, nil, nil, dedup, nil)
	require.NoError(t, err)

	reg := &event.RegisterAsset{
		Header:      event.Header{RequestID: "db-down", Timestamp: genesisTime},
		Owner:       owner,
		AssetType:   event.AssetTypeEquipment,
		TotalSupply: 10,
		UnitPrice:   1,
	}

	dedup.err = errors.New("connection refused")
	_, err = c.ProcessEvent(reg)
	require.ErrorIs(t, err, lerrors.Internal)
	require.Contains(t, err.Error(), "connection refused")
	require.Equal(t, int64(0), c.GetSequence())

	// Once the store answers again the same request id is admitted
	dedup.err = nil
	r, err := c.ProcessEvent(reg)
	require.NoError(t, err)
	require.Equal(t, int64(1), r.Sequence)
}

func TestIdempotency_Tier2DuplicateRejected(t *testing.T) {
	dedup := &stubDedup{seen: map[string]bool{"evicted-1": true}}
	c, err := core.NewDeterministicCore(testConfig(), 0, nil, nil, dedup, nil)
	require.NoError(t, err)

	_, err = c.ProcessEvent(&event.RegisterAsset{
		Header:      event.Header{RequestID: "evicted-1", Timestamp: genesisTime},
		Owner:       owner,
		AssetType:   event.AssetTypeEquipment,
		TotalSupply: 10,
		UnitPrice:   1,
	})
	require.ErrorIs(t, err, lerrors.DuplicateRequest)
}

func TestAdmission_RequiresRequestIDAndTimestamp(t *testing.T) {
	h := newTestCore(t)

	_, err := h.submit(&event.RegisterAsset{Header: event.Header{Timestamp: genesisTime}, Owner: owner, TotalSupply: 1, UnitPrice: 1})
	require.ErrorIs(t, err, lerrors.InvalidArgument)

	_, err = h.submit(&event.RegisterAsset{Header: event.Header{RequestID: "x"}, Owner: owner, TotalSupply: 1, UnitPrice: 1})
	require.ErrorIs(t, err, lerrors.InvalidArgument)
}
