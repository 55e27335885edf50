// internal/event/asset.go
package event

import (
	"fmt"
	"strings"
)

// AssetType classifies the real-world item behind an asset
type AssetType int32

const (
	AssetTypeFarmland AssetType = iota
	AssetTypeCrop
	AssetTypeEquipment
)

func (t AssetType) String() string {
	switch t {
	case AssetTypeFarmland:
		return "Farmland"
	case AssetTypeCrop:
		return "Crop"
	case AssetTypeEquipment:
		return "Equipment"
	default:
		return "Unknown"
	}
}

// Valid reports whether t is one of the known asset types.
func (t AssetType) Valid() bool {
	return t >= AssetTypeFarmland && t <= AssetTypeEquipment
}

// ParseAssetType accepts the type name in any case.
func ParseAssetType(s string) (AssetType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "farmland":
		return AssetTypeFarmland, true
	case "crop":
		return AssetTypeCrop, true
	case "equipment":
		return AssetTypeEquipment, true
	}
	return 0, false
}

// SupplyChainStage tracks a crop from field to market. Stages only move forward.
type SupplyChainStage int32

const (
	StageProduction SupplyChainStage = iota
	StageProcessing
	StageDistribution
	StageCompleted
)

func (s SupplyChainStage) String() string {
	switch s {
	case StageProduction:
		return "Production"
	case StageProcessing:
		return "Processing"
	case StageDistribution:
		return "Distribution"
	case StageCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

// Valid reports whether s is one of the known stages.
func (s SupplyChainStage) Valid() bool {
	return s >= StageProduction && s <= StageCompleted
}

// ParseSupplyChainStage accepts the stage name in any case.
func ParseSupplyChainStage(s string) (SupplyChainStage, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "production":
		return StageProduction, true
	case "processing":
		return StageProcessing, true
	case "distribution":
		return StageDistribution, true
	case "completed":
		return StageCompleted, true
	}
	return 0, false
}

// FarmlandRecord is the land-registry data attached to a Farmland asset.
type FarmlandRecord struct {
	CertificateID string   `json:"certificate_id"`
	AreaM2        int64    `json:"area_m2"`
	Latitude      string   `json:"latitude"`
	Longitude     string   `json:"longitude"`
	Province      string   `json:"province"`
	District      string   `json:"district"`
	SubDistrict   string   `json:"sub_district"`
	PostalCode    string   `json:"postal_code"`
	SoilType      string   `json:"soil_type"`
	Crops         []string `json:"crops"`
}

// NormalizedCertificate is the form used for uniqueness checks.
func (f *FarmlandRecord) NormalizedCertificate() string {
	return strings.ToUpper(strings.TrimSpace(f.CertificateID))
}

// RegisterAsset tokenizes a real-world asset. The new asset starts unverified.
type RegisterAsset struct {
	Header
	Owner            string          `json:"owner"`
	AssetType        AssetType       `json:"asset_type"`
	Name             string          `json:"name"`
	TotalSupply      int64           `json:"total_supply"`
	UnitPrice        int64           `json:"unit_price"`
	ExpectedYieldBps int64           `json:"expected_yield_bps"`
	DurationDays     int64           `json:"duration_days"`
	MetadataURI      string          `json:"metadata_uri"`
	Farmland         *FarmlandRecord `json:"farmland,omitempty"`
}

func (r *RegisterAsset) EventType() EventType {
	return EventTypeAssetRegistered
}

// VerifyAsset marks an asset as verified by an authorized verifier.
type VerifyAsset struct {
	Header
	AssetID  uint64 `json:"asset_id"`
	Verifier string `json:"verifier"`
}

func (v *VerifyAsset) EventType() EventType {
	return EventTypeAssetVerified
}

// IssueUnits is a primary-market purchase from the unsold pool.
type IssueUnits struct {
	Header
	AssetID uint64 `json:"asset_id"`
	Buyer   string `json:"buyer"`
	Units   int64  `json:"units"`
	Payment int64  `json:"payment"`
}

func (i *IssueUnits) EventType() EventType {
	return EventTypeUnitsIssued
}

// TransferUnits moves free units between holders.
type TransferUnits struct {
	Header
	AssetID uint64 `json:"asset_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Units   int64  `json:"units"`
}

func (t *TransferUnits) EventType() EventType {
	return EventTypeUnitsTransferred
}

// RecordSupplyChainStage advances a crop asset along its supply chain.
type RecordSupplyChainStage struct {
	Header
	AssetID  uint64           `json:"asset_id"`
	Caller   string           `json:"caller"`
	Stage    SupplyChainStage `json:"stage"`
	Location string           `json:"location"`
	Note     string           `json:"note"`
}

func (r *RecordSupplyChainStage) EventType() EventType {
	return EventTypeSupplyChainStageRecorded
}

func (t AssetType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown asset type %d", int32(t))
	}
	return []byte(t.String()), nil
}

func (t *AssetType) UnmarshalText(b []byte) error {
	parsed, ok := ParseAssetType(string(b))
	if !ok {
		return fmt.Errorf("unknown asset type %q", string(b))
	}
	*t = parsed
	return nil
}

func (s SupplyChainStage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown supply chain stage %d", int32(s))
	}
	return []byte(s.String()), nil
}

func (s *SupplyChainStage) UnmarshalText(b []byte) error {
	parsed, ok := ParseSupplyChainStage(string(b))
	if !ok {
		return fmt.Errorf("unknown supply chain stage %q", string(b))
	}
	*s = parsed
	return nil
}
