package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated          = "OrderCreated"
	EventOrderStatusChanged    = "OrderStatusChanged"
	EventOrderRefunded         = "OrderRefunded"
	EventConfirmationRequested = "ConfirmationRequested"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order number
	Payload       json.RawMessage `json:"payload"`
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderNumber   string    `json:"order_id"`
	CustomerEmail string    `json:"customer_email"`
	Items         []ItemQty `json:"items"`
	TotalCents    int       `json:"total_cents"`
}

type StatusChangedPayload struct {
	OrderNumber string `json:"order_id"`
	From        Status `json:"from"`
	To          Status `json:"to"`
}

type RefundedPayload struct {
	OrderNumber   string    `json:"order_id"`
	CustomerEmail string    `json:"customer_email"`
	Restocked     []ItemQty `json:"restocked"`
	TotalCents    int       `json:"total_cents"`
}

type ConfirmationPayload struct {
	OrderNumber   string `json:"order_id"`
	CustomerEmail string `json:"customer_email"`
}
