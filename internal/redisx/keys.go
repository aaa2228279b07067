package redisx

import "time"

const (
	// Idempotency create purchase: idem:purchase:create:{buyer_id}:{idempotency_key} -> intent JSON
	KeyIdemPurchaseCreate = "idem:purchase:create:%s:%s"

	// Cache purchase: purchase:{purchase_id} -> purchase JSON
	KeyPurchase = "purchase:%s"

	// Dedup event processing: dedup:{scope}:{id} (id = event_id processor atau envelope)
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLInFlight    = 30 * time.Second
)
