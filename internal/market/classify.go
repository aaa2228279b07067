package market

type Classification int

const (
	Consistent Classification = iota
	Anomalous
)

func (c Classification) String() string {
	if c == Consistent {
		return "consistent"
	}
	return "anomalous"
}

var consistentPairs = map[ListingStatus]map[PaymentStatus]bool{
	ListingAvailable: {PaymentNone: true, PaymentFailed: true, PaymentRefunded: true},
	ListingPending:   {PaymentPending: true},
	ListingPurchased: {PaymentCompleted: true},
}

// Classify a listing status against the payment status of its most recent
// purchase (PaymentNone when it never had one).
func Classify(l ListingStatus, p PaymentStatus) Classification {
	if consistentPairs[l][p] {
		return Consistent
	}
	return Anomalous
}
