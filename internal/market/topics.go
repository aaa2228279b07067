package market

const (
	TopicPaymentOutcome    = "payment.outcome"
	TopicPurchaseFinalized = "purchase.finalized"
)

// Partition key = processor_ref untuk outcome, purchase_id untuk lifecycle,
// supaya event satu purchase tetap berurutan di satu partisi.
func PartitionKey(id string) []byte { return []byte(id) }
