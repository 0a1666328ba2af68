package redisx

import "time"

const (
	// Cached order lists: hash orders:list, field = limit -> JSON []Order.
	// One key so a mutation can drop every cached limit with a single DEL.
	KeyOrderList = "orders:list"

	// Cached aggregate: orders:summary -> JSON Summary
	KeyOrderSummary = "orders:summary"

	// Cache generation counter, bumped by every invalidation. Never expires.
	KeyCacheGen = "orders:gen"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLListCache = 10 * time.Second
	TTLSummary   = 10 * time.Second
	TTLDedup     = 48 * time.Hour
)
