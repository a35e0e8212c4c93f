package redisx

import "time"

const (
	// Idempotent checkout: idem:order:create:{idempotency_key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Cache status order: order_status:{order_id} -> {"status": "...", "payment_status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup notification delivery: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Resolved price: price:{customer_id|guest}:{product_id}:{qty} -> pricing.Result JSON
	KeyPrice = "price:%s:%s:%d"

	// Invalidation indexes, sets of price keys
	KeyPriceByCustomer = "price_idx:customer:%s"
	KeyPriceByProduct  = "price_idx:product:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLPrice       = 5 * time.Minute
)
