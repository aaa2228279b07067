package market

import (
	"encoding/json"
	"time"
)

const (
	EventPaymentOutcome    = "PaymentOutcome"
	EventPurchaseFinalized = "PurchaseFinalized"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "market-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // processor_ref atau purchase_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload tipe per event ----

type PaymentOutcomePayload struct {
	ProcessorRef     string  `json:"processor_ref"`
	Outcome          Outcome `json:"outcome"`
	ProcessorEventID string  `json:"processor_event_id"`
}

type PurchaseFinalizedPayload struct {
	PurchaseID        string        `json:"purchase_id"`
	ListingID         string        `json:"listing_id"`
	BuyerID           string        `json:"buyer_id"`
	PaymentStatus     PaymentStatus `json:"payment_status"`
	Folio             string        `json:"folio,omitempty"`
	TotalCents        int64         `json:"total_cents"`
	PlatformFeeCents  int64         `json:"platform_fee_cents"`
	SellerAmountCents int64         `json:"seller_amount_cents"`
	Currency          string        `json:"currency"`
}
