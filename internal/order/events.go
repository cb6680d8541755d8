package order

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderPaid          = "OrderPaid"
	EventOrderCancelled     = "OrderCancelled"
	EventReservationExpired = "ReservationExpired"
	EventRefundRequested    = "RefundRequested"
	EventOrderRefunded      = "OrderRefunded"
)

// Envelope wraps every published event. Payload is one of the typed
// structs below, keyed by EventType.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_no
	Payload       json.RawMessage `json:"payload"`
}

type EventLine struct {
	SKUID     string `json:"sku_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderNo     string      `json:"order_no"`
	UserID      int64       `json:"user_id"`
	Items       []EventLine `json:"items"`
	TotalAmount string      `json:"total_amount"`
}

type OrderPaidPayload struct {
	OrderNo   string `json:"order_no"`
	PaymentNo string `json:"payment_no"`
	Amount    string `json:"amount"`
}

type OrderCancelledPayload struct {
	OrderNo string `json:"order_no"`
	ActorID int64  `json:"actor_id"`
	Reason  string `json:"reason"`
}

type ReservationExpiredPayload struct {
	OrderNo  string `json:"order_no"`
	Released int    `json:"released"` // reservation rows reclaimed
}

type RefundRequestedPayload struct {
	OrderNo string `json:"order_no"`
	Reason  string `json:"reason"`
}

type OrderRefundedPayload struct {
	OrderNo  string `json:"order_no"`
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}
