package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusSuccess  Status = "SUCCESS"
	StatusFailed   Status = "FAILED"
	StatusRefunded Status = "REFUNDED"
)

// Record is one payment attempt. A failed attempt is never reused: retrying
// creates a fresh payment no. At most one Success record may ever exist per
// order.
type Record struct {
	PaymentNo             string          `json:"payment_no"`
	OrderNo               string          `json:"order_no"`
	UserID                int64           `json:"user_id"`
	Channel               Channel         `json:"channel"`
	Amount                decimal.Decimal `json:"amount"`
	Status                Status          `json:"status"`
	ExternalTransactionID string          `json:"external_transaction_id,omitempty"`
	FailureReason         string          `json:"failure_reason,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	CallbackAt            *time.Time      `json:"callback_at,omitempty"`
}
