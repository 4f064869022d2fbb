package redisx

import "time"

const (
	// Idempotency fast path for order creation: idem:order:create:{key} -> order_number
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Cache of a committed order, serialized: order:{order_number} -> order JSON
	KeyOrder = "order:%s"

	// Cached stock count per product: stock:{product_id} -> int (hint only, DB is truth)
	KeyStock = "stock:%s"

	// Dedup for consumed events: dedup:{service}:{id} (id = event_id or order_number:phase)
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLOrderCache  = 5 * time.Minute
	TTLStockCache  = 1 * time.Minute
	TTLDedup       = 48 * time.Hour
)
