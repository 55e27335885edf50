// internal/state/asset.go
package state

import (
	"sort"
	"time"

	"TaniLedger/internal/event"
	"TaniLedger/internal/ledger"
)

// Asset is a fractionalizable real-world asset record
type Asset struct {
	ID               uint64
	AssetType        event.AssetType
	Owner            string
	Name             string
	MetadataURI      string
	TotalSupply      int64 // Fixed at creation
	UnitsSold        int64 // 0 <= UnitsSold <= TotalSupply
	UnitPrice        int64 // Smallest unit of PaymentToken
	PaymentToken     string
	ExpectedYieldBps int64
	DurationDays     int64
	Verified         bool // false -> true only
	VerifiedBy       string
	VerifiedAt       time.Time
	CreatedAt        time.Time

	Farmland *event.FarmlandRecord // Farmland assets only

	Stage        event.SupplyChainStage // Crop assets only
	StageHistory []StageEntry
}

// StageEntry is one recorded supply-chain checkpoint
type StageEntry struct {
	Stage      event.SupplyChainStage
	Location   string
	Note       string
	RecordedAt time.Time
	Sequence   int64
}

// RemainingUnits returns units still available from primary issuance
func (a *Asset) RemainingUnits() int64 {
	return a.TotalSupply - a.UnitsSold
}

// TracksSupplyChain reports whether stage updates apply to this asset
func (a *Asset) TracksSupplyChain() bool {
	return a.AssetType == event.AssetTypeCrop
}

// Clone returns a deep copy safe to hand out of the core goroutine
func (a *Asset) Clone() *Asset {
	cp := *a
	if a.Farmland != nil {
		f := *a.Farmland
		f.Crops = append([]string(nil), a.Farmland.Crops...)
		cp.Farmland = &f
	}
	cp.StageHistory = append([]StageEntry(nil), a.StageHistory...)
	return &cp
}

// CanonicalBytes returns deterministic serialization for hashing
func (a *Asset) CanonicalBytes() []byte {
	buf := make([]byte, 0, 96)
	buf = appendUint64LE(buf, a.ID)
	buf = append(buf, byte(a.AssetType))
	buf = appendString(buf, a.Owner)
	buf = appendInt64LE(buf, a.TotalSupply)
	buf = appendInt64LE(buf, a.UnitsSold)
	buf = appendInt64LE(buf, a.UnitPrice)
	buf = appendBool(buf, a.Verified)
	buf = append(buf, byte(a.Stage))
	if a.Farmland != nil {
		buf = appendString(buf, a.Farmland.NormalizedCertificate())
	}
	return buf
}

// AssetRegistry owns every asset and the farmland certificate index
type AssetRegistry struct {
	assets       map[uint64]*Asset
	certificates map[string]uint64 // normalized certificate id -> asset id
	lastID       uint64
}

func NewAssetRegistry() *AssetRegistry {
	return &AssetRegistry{
		assets:       make(map[uint64]*Asset),
		certificates: make(map[string]uint64),
	}
}

// NextID returns the id the next registered asset will receive
func (r *AssetRegistry) NextID() uint64 {
	return r.lastID + 1
}

// GetAsset returns the asset or nil
func (r *AssetRegistry) GetAsset(id uint64) *Asset {
	return r.assets[id]
}

// CertificateHolder returns the asset already registered under a certificate
func (r *AssetRegistry) CertificateHolder(rec *event.FarmlandRecord) (uint64, bool) {
	id, ok := r.certificates[rec.NormalizedCertificate()]
	return id, ok
}

// AddAsset stores a new asset. Callers validate uniqueness first.
func (r *AssetRegistry) AddAsset(a *Asset) {
	r.assets[a.ID] = a
	if a.ID > r.lastID {
		r.lastID = a.ID
	}
	if a.Farmland != nil {
		r.certificates[a.Farmland.NormalizedCertificate()] = a.ID
	}
}

// AssetsByOwner returns the owner's assets, optionally filtered by type, ordered by id
func (r *AssetRegistry) AssetsByOwner(owner string, assetType *event.AssetType) []*Asset {
	owner = ledger.NormalizeIdentity(owner)
	out := make([]*Asset, 0)
	for _, a := range r.assets {
		if a.Owner != owner {
			continue
		}
		if assetType != nil && a.AssetType != *assetType {
			continue
		}
		out = append(out, a)
	}
	sortAssets(out)
	return out
}

// GetAllAssets returns every asset ordered by id
func (r *AssetRegistry) GetAllAssets() []*Asset {
	out := make([]*Asset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a)
	}
	sortAssets(out)
	return out
}

// Restore replaces registry contents from a snapshot
func (r *AssetRegistry) Restore(assets []*Asset) {
	r.assets = make(map[uint64]*Asset, len(assets))
	r.certificates = make(map[string]uint64)
	r.lastID = 0
	for _, a := range assets {
		r.AddAsset(a)
	}
}

func sortAssets(assets []*Asset) {
	sort.Slice(assets, func(i, j int) bool { return assets[i].ID < assets[j].ID })
}
