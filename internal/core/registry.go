package core

import (
	lerrors "TaniLedger/internal/errors"
	"TaniLedger/internal/event"
	"TaniLedger/internal/ledger"
	fpmath "TaniLedger/internal/math"
	"TaniLedger/internal/state"
)

// === Asset Registry ===

func (c *DeterministicCore) handleRegisterAsset(evt *event.RegisterAsset, p *plan) error {
	owner := ledger.NormalizeIdentity(evt.Owner)

	switch {
	case owner == "":
		return lerrors.InvalidArgument.New("owner is required")
	case !evt.AssetType.Valid():
		return lerrors.InvalidArgument.New("unknown asset type %d", int32(evt.AssetType))
	case evt.TotalSupply <= 0:
		return lerrors.InvalidArgument.New("total supply must be positive, got %d", evt.TotalSupply)
	case evt.UnitPrice <= 0:
		return lerrors.InvalidArgument.New("unit price must be positive, got %d", evt.UnitPrice)
	case evt.ExpectedYieldBps < 0:
		return lerrors.InvalidArgument.New("expected yield bps must be non-negative, got %d", evt.ExpectedYieldBps)
	case evt.DurationDays < 0:
		return lerrors.InvalidArgument.New("duration days must be non-negative, got %d", evt.DurationDays)
	}

	// Full-supply cost must fit so issuance payment checks cannot overflow
	if _, ok := fpmath.MulChecked(evt.TotalSupply, evt.UnitPrice); !ok {
		return lerrors.InvalidArgument.New("total supply %d at unit price %d overflows", evt.TotalSupply, evt.UnitPrice)
	}

	var farmland *event.FarmlandRecord
	if evt.AssetType == event.AssetTypeFarmland {
		if evt.Farmland == nil {
			return lerrors.InvalidArgument.New("farmland record is required for Farmland assets")
		}
		cert := evt.Farmland.NormalizedCertificate()
		if cert == "" {
			return lerrors.InvalidArgument.New("certificate id is required")
		}
		if evt.Farmland.AreaM2 <= 0 {
			return lerrors.InvalidArgument.New("area must be positive, got %d", evt.Farmland.AreaM2)
		}
		if existing, taken := c.registry.CertificateHolder(evt.Farmland); taken {
			return lerrors.AssetAlreadyExists.New("certificate %s already registered to asset %d", cert, existing).
				WithMetadata("certificate_id", cert).
				WithMetadata("asset_id", existing)
		}

		rec := *evt.Farmland
		rec.CertificateID = cert
		rec.Crops = append([]string(nil), evt.Farmland.Crops...)
		farmland = &rec
	} else if evt.Farmland != nil {
		return lerrors.InvalidArgument.New("farmland record only applies to Farmland assets")
	}

	assetID := c.registry.NextID()
	if err := p.builder.Mint(assetID, evt.TotalSupply); err != nil {
		return err
	}

	asset := &state.Asset{
		ID:               assetID,
		AssetType:        evt.AssetType,
		Owner:            owner,
		Name:             evt.Name,
		MetadataURI:      evt.MetadataURI,
		TotalSupply:      evt.TotalSupply,
		UnitPrice:        evt.UnitPrice,
		PaymentToken:     c.cfg.PrimaryToken(),
		ExpectedYieldBps: evt.ExpectedYieldBps,
		DurationDays:     evt.DurationDays,
		CreatedAt:        p.ts,
		Farmland:         farmland,
	}
	if asset.TracksSupplyChain() {
		asset.Stage = event.StageProduction
		asset.StageHistory = []state.StageEntry{{
			Stage:      event.StageProduction,
			RecordedAt: p.ts,
			Sequence:   p.seq,
		}}
	}

	p.onCommit(func() {
		c.registry.AddAsset(asset)
		if c.metrics != nil {
			c.metrics.AssetsRegistered.WithLabelValues(asset.AssetType.String()).Inc()
		}
	})
	p.touchAsset(assetID)
	p.participants(owner)
	p.record.Units = evt.TotalSupply
	p.record.PaymentToken = asset.PaymentToken
	p.record.Detail = asset.AssetType.String()

	p.receipt.AssetID = assetID
	p.receipt.Units = evt.TotalSupply
	p.receipt.PaymentToken = asset.PaymentToken
	p.receipt.Status = "Unverified"
	return nil
}

func (c *DeterministicCore) handleVerifyAsset(evt *event.VerifyAsset, p *plan) error {
	verifier := ledger.NormalizeIdentity(evt.Verifier)
	if !c.isVerifier(verifier) {
		return lerrors.Unauthorized.New("%q is not an authorized verifier", verifier).
			WithMetadata("caller", verifier)
	}

	asset := c.registry.GetAsset(evt.AssetID)
	if asset == nil {
		return assetNotFound(evt.AssetID)
	}
	if asset.Verified {
		return lerrors.AlreadyVerified.New("asset %d already verified by %s", asset.ID, asset.VerifiedBy).
			WithMetadata("asset_id", asset.ID)
	}

	p.onCommit(func() {
		asset.Verified = true
		asset.VerifiedBy = verifier
		asset.VerifiedAt = p.ts
	})
	p.touchAsset(asset.ID)
	p.participants(verifier, asset.Owner)

	p.receipt.AssetID = asset.ID
	p.receipt.Status = "Verified"
	return nil
}

func (c *DeterministicCore) handleRecordSupplyChainStage(evt *event.RecordSupplyChainStage, p *plan) error {
	caller := ledger.NormalizeIdentity(evt.Caller)

	asset := c.registry.GetAsset(evt.AssetID)
	if asset == nil {
		return assetNotFound(evt.AssetID)
	}
	if !asset.TracksSupplyChain() {
		return lerrors.InvalidArgument.New("asset %d is %s; only Crop assets track supply-chain stages", asset.ID, asset.AssetType)
	}
	if caller != asset.Owner {
		return lerrors.Unauthorized.New("only the owner may record stages for asset %d", asset.ID).
			WithMetadata("caller", caller)
	}
	if !evt.Stage.Valid() {
		return lerrors.InvalidArgument.New("unknown supply chain stage %d", int32(evt.Stage))
	}
	if evt.Stage <= asset.Stage {
		return lerrors.InvalidState.New("asset %d is at %s; cannot record %s", asset.ID, asset.Stage, evt.Stage).
			WithMetadata("current", asset.Stage.String()).
			WithMetadata("requested", evt.Stage.String())
	}

	entry := state.StageEntry{
		Stage:      evt.Stage,
		Location:   evt.Location,
		Note:       evt.Note,
		RecordedAt: p.ts,
		Sequence:   p.seq,
	}
	p.onCommit(func() {
		asset.Stage = entry.Stage
		asset.StageHistory = append(asset.StageHistory, entry)
	})
	p.touchAsset(asset.ID)
	p.participants(caller)
	p.record.Detail = evt.Stage.String()

	p.receipt.AssetID = asset.ID
	p.receipt.Status = evt.Stage.String()
	return nil
}

func assetNotFound(id uint64) error {
	return lerrors.NotFound.New("asset %d not found", id).WithMetadata("asset_id", id)
}
