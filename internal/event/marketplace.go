// internal/event/marketplace.go
package event

// CreateListing offers free units for sale. Offered units are listing-locked
// until sold or cancelled.
type CreateListing struct {
	Header
	AssetID      uint64 `json:"asset_id"`
	Seller       string `json:"seller"`
	UnitsOffered int64  `json:"units_offered"`
	PricePerUnit int64  `json:"price_per_unit"`
	PaymentToken string `json:"payment_token"`
}

func (c *CreateListing) EventType() EventType {
	return EventTypeListingCreated
}

// PurchaseListing buys some or all of a listing's remaining units.
type PurchaseListing struct {
	Header
	ListingID      uint64 `json:"listing_id"`
	Buyer          string `json:"buyer"`
	UnitsRequested int64  `json:"units_requested"`
	Payment        int64  `json:"payment"`
}

func (p *PurchaseListing) EventType() EventType {
	return EventTypeListingPurchased
}

// CancelListing withdraws an active listing. Only the seller may cancel.
type CancelListing struct {
	Header
	ListingID uint64 `json:"listing_id"`
	Caller    string `json:"caller"`
}

func (c *CancelListing) EventType() EventType {
	return EventTypeListingCancelled
}
