package market

import "time"

type Listing struct {
	ID        string        `json:"id"`
	OwnerID   string        `json:"owner_id"`
	Category  Category      `json:"category"`
	Quantity  int64         `json:"quantity"` // kg
	Status    ListingStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// PurchaseDetails is collection metadata, opaque to reservation and
// reconciliation.
type PurchaseDetails struct {
	CollectionDate string `json:"collection_date,omitempty"`
	CollectionTime string `json:"collection_time,omitempty"`
	PickupAgent    string `json:"pickup_agent,omitempty"`
}

type Purchase struct {
	ID                string          `json:"id"`
	ListingID         string          `json:"listing_id"`
	BuyerID           string          `json:"buyer_id"`
	TotalCents        int64           `json:"total_cents"` // frozen at reservation
	PlatformFeeCents  int64           `json:"platform_fee_cents"`
	SellerAmountCents int64           `json:"seller_amount_cents"`
	Currency          string          `json:"currency"`
	PaymentStatus     PaymentStatus   `json:"payment_status"`
	ProcessorRef      string          `json:"processor_ref,omitempty"`
	Folio             string          `json:"folio,omitempty"`
	Details           PurchaseDetails `json:"details"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

type PayoutAccount struct {
	SellerID          string
	ExternalRef       string
	CanAcceptCharges  bool
	CanReceivePayouts bool
	DetailsSubmitted  bool
}

func (a PayoutAccount) Ready() bool {
	return a.ExternalRef != "" && a.CanAcceptCharges && a.CanReceivePayouts
}

// AuditEntry records one administrative override.
type AuditEntry struct {
	ID          string        `json:"id"`
	PurchaseID  string        `json:"purchase_id"`
	Actor       string        `json:"actor"`
	FromListing ListingStatus `json:"from_listing"`
	ToListing   ListingStatus `json:"to_listing"`
	FromPayment PaymentStatus `json:"from_payment"`
	ToPayment   PaymentStatus `json:"to_payment"`
	Reason      string        `json:"reason,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Mismatch is a processor outcome that could not be applied.
type Mismatch struct {
	ID           string    `json:"id"`
	ProcessorRef string    `json:"processor_ref"`
	Outcome      Outcome   `json:"outcome"`
	PurchaseID   string    `json:"purchase_id,omitempty"`
	Reason       string    `json:"reason"`
	DetectedAt   time.Time `json:"detected_at"`
}

// StatePair is a listing together with its most recent purchase, if any.
type StatePair struct {
	ListingID     string
	ListingStatus ListingStatus
	PurchaseID    string
	PaymentStatus PaymentStatus
}

type Anomaly struct {
	ListingID     string        `json:"listing_id"`
	PurchaseID    string        `json:"purchase_id,omitempty"`
	ListingStatus ListingStatus `json:"listing_status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	DetectedAt    time.Time     `json:"detected_at"`
}
