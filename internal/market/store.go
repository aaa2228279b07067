package market

import (
	"context"
	"time"
)

type ReserveParams struct {
	ListingID string
	BuyerID   string
	Details   PurchaseDetails
	Prices    PriceTable
	Currency  string
	Now       time.Time
}

// PurchaseRef selects a purchase by id or, when ID is empty, by the
// processor's payment reference.
type PurchaseRef struct {
	ID           string
	ProcessorRef string
}

// Override is an administrative correction. Nil targets keep the current
// value; non-nil Expect* fields make the write conditional on the state the
// administrator looked at.
type Override struct {
	PurchaseID    string
	Actor         string
	Reason        string
	Listing       *ListingStatus
	Payment       *PaymentStatus
	ExpectListing *ListingStatus
	ExpectPayment *PaymentStatus
	Now           time.Time
}

// Store persists listings and purchases. Reserve, Apply and Override are
// atomic across the (purchase, listing) pair.
type Store interface {
	// Reserve moves an AVAILABLE listing to PENDING and creates its purchase.
	Reserve(ctx context.Context, p ReserveParams) (Purchase, error)
	// AttachAuthorization records the processor reference and the fee split
	// on a PENDING purchase.
	AttachAuthorization(ctx context.Context, purchaseID, processorRef string, split FeeSplit) (Purchase, error)
	// Apply runs t against the referenced purchase. Only DecisionApply
	// writes anything; other decisions return the purchase unchanged.
	Apply(ctx context.Context, ref PurchaseRef, t Transition, now time.Time) (Purchase, Decision, error)

	GetPurchase(ctx context.Context, id string) (Purchase, error)
	FindByProcessorRef(ctx context.Context, processorRef string) (Purchase, error)
	GetListing(ctx context.Context, id string) (Listing, error)

	Override(ctx context.Context, o Override) (Purchase, AuditEntry, error)
	DeleteAttempt(ctx context.Context, purchaseID string) error
	AuditTrail(ctx context.Context, purchaseID string) ([]AuditEntry, error)

	RecordMismatch(ctx context.Context, m Mismatch) error
	Mismatches(ctx context.Context, limit int) ([]Mismatch, error)

	StalePending(ctx context.Context, createdBefore time.Time, limit int) ([]Purchase, error)
	StatePairs(ctx context.Context) ([]StatePair, error)
	ReplaceAnomalies(ctx context.Context, as []Anomaly) error
	Anomalies(ctx context.Context) ([]Anomaly, error)
}
