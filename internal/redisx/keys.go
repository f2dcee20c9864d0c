package redisx

import "time"

const (
	// Idempotency order create: idem:order:create:{user_id}:{idempotency_key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

// IdemPending marks an Idempotency-Key whose request is still running.
const IdemPending = "pending"

var (
	TTLIdempotency = 24 * time.Hour
	// a crashed request must not block its key for a whole day
	TTLIdemPending = time.Minute
	TTLDedup       = 48 * time.Hour
)
