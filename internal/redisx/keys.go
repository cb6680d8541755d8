package redisx

import "time"

const (
	// Order-create idempotency shortcut: idem:order:create:{client_ref} -> order_no.
	// Advisory only; the orders table is the source of truth.
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Cached order status: order_status:{order_no} -> {"status": ..., "status_name": ...}
	KeyOrderStatus = "order_status:%s"

	// Event dedup during consumption: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
