package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderPlaced     = "OrderPlaced"
	EventQuantityChanged = "QuantityChanged"
	EventOrderDeleted    = "OrderDeleted"
	EventBatchApplied    = "BatchApplied"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"` // e.g. "book-orders"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually the order id
	Payload       json.RawMessage `json:"payload"`
}

type OrderPlacedPayload struct {
	OrderID  int64  `json:"order_id"`
	Name     string `json:"name"`
	Category string `json:"book_category"`
	Title    string `json:"book_title"`
	Quantity int    `json:"quantity"`
}

type QuantityChangedPayload struct {
	OrderID  int64 `json:"order_id"`
	Quantity int   `json:"quantity"`
}

type OrderDeletedPayload struct {
	OrderID int64 `json:"order_id"`
}

type BatchAppliedPayload struct {
	Updates []QuantityUpdate `json:"updates,omitempty"`
	Deletes []int64          `json:"deletes,omitempty"`
}
