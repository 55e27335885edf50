// internal/state/listing.go
package state

import (
	"sort"
	"time"

	"TaniLedger/internal/ledger"
)

// CloseReason records why a listing stopped being active
type CloseReason int32

const (
	CloseReasonNone CloseReason = iota
	CloseReasonSoldOut
	CloseReasonCancelled
)

func (r CloseReason) String() string {
	switch r {
	case CloseReasonSoldOut:
		return "SoldOut"
	case CloseReasonCancelled:
		return "Cancelled"
	default:
		return ""
	}
}

// Listing is a marketplace offer backed by listing-locked units
type Listing struct {
	ID            uint64
	AssetID       uint64
	Seller        string
	UnitsOffered  int64 // Remaining, still listing-locked
	InitialUnits  int64
	UnitsReleased int64 // Returned to the seller on cancellation
	PricePerUnit  int64
	PaymentToken  string
	Active        bool // Becomes false exactly once
	CreatedAt     time.Time
	ClosedAt      time.Time
	CloseReason   CloseReason
}

// UnitsSold returns units already delivered to buyers
func (l *Listing) UnitsSold() int64 {
	return l.InitialUnits - l.UnitsOffered - l.UnitsReleased
}

// Close deactivates the listing. Returns false if it was already closed.
func (l *Listing) Close(reason CloseReason, at time.Time) bool {
	if !l.Active {
		return false
	}
	l.Active = false
	l.CloseReason = reason
	l.ClosedAt = at
	return true
}

// Clone returns a copy safe to hand out of the core goroutine
func (l *Listing) Clone() *Listing {
	cp := *l
	return &cp
}

// CanonicalBytes returns deterministic serialization for hashing
func (l *Listing) CanonicalBytes() []byte {
	buf := make([]byte, 0, 64)
	buf = appendUint64LE(buf, l.ID)
	buf = appendUint64LE(buf, l.AssetID)
	buf = appendString(buf, l.Seller)
	buf = appendInt64LE(buf, l.UnitsOffered)
	buf = appendInt64LE(buf, l.PricePerUnit)
	buf = appendString(buf, l.PaymentToken)
	buf = appendBool(buf, l.Active)
	buf = append(buf, byte(l.CloseReason))
	return buf
}

// ListingBook owns every marketplace listing
type ListingBook struct {
	listings map[uint64]*Listing
	lastID   uint64

	// open listing ids per (seller, asset); closed ids are pruned on read
	open map[holderAsset]map[uint64]struct{}
}

// holderAsset keys the per-holding indexes of the listing and loan books.
type holderAsset struct {
	holder  string
	assetID uint64
}

func NewListingBook() *ListingBook {
	return &ListingBook{
		listings: make(map[uint64]*Listing),
		open:     make(map[holderAsset]map[uint64]struct{}),
	}
}

// NextID returns the id the next listing will receive
func (b *ListingBook) NextID() uint64 {
	return b.lastID + 1
}

// GetListing returns the listing or nil
func (b *ListingBook) GetListing(id uint64) *Listing {
	return b.listings[id]
}

// AddListing stores a new listing
func (b *ListingBook) AddListing(l *Listing) {
	b.listings[l.ID] = l
	if l.ID > b.lastID {
		b.lastID = l.ID
	}
	if l.Active {
		key := holderAsset{holder: l.Seller, assetID: l.AssetID}
		ids := b.open[key]
		if ids == nil {
			ids = make(map[uint64]struct{})
			b.open[key] = ids
		}
		ids[l.ID] = struct{}{}
	}
}

// ActiveListings returns open listings, optionally for one asset (0 = all), ordered by id
func (b *ListingBook) ActiveListings(assetID uint64) []*Listing {
	return b.filter(func(l *Listing) bool {
		return l.Active && (assetID == 0 || l.AssetID == assetID)
	})
}

// ListingsBySeller returns every listing a seller created, ordered by id
func (b *ListingBook) ListingsBySeller(seller string) []*Listing {
	seller = ledger.NormalizeIdentity(seller)
	return b.filter(func(l *Listing) bool { return l.Seller == seller })
}

// ListedUnits sums units a seller still has on active listings for an asset
func (b *ListingBook) ListedUnits(seller string, assetID uint64) int64 {
	key := holderAsset{holder: ledger.NormalizeIdentity(seller), assetID: assetID}
	var total int64
	for id := range b.open[key] {
		l := b.listings[id]
		if l == nil || !l.Active {
			// Deactivation is final
			delete(b.open[key], id)
			continue
		}
		total += l.UnitsOffered
	}
	if len(b.open[key]) == 0 {
		delete(b.open, key)
	}
	return total
}

// GetAllListings returns every listing ordered by id
func (b *ListingBook) GetAllListings() []*Listing {
	return b.filter(func(*Listing) bool { return true })
}

// Restore replaces book contents from a snapshot
func (b *ListingBook) Restore(listings []*Listing) {
	b.listings = make(map[uint64]*Listing, len(listings))
	b.open = make(map[holderAsset]map[uint64]struct{})
	b.lastID = 0
	for _, l := range listings {
		b.AddListing(l)
	}
}

func (b *ListingBook) filter(keep func(*Listing) bool) []*Listing {
	out := make([]*Listing, 0)
	for _, l := range b.listings {
		if keep(l) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
