package order

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	OrderNo     string          `json:"order_no"`
	UserID      int64           `json:"user_id"`
	AddressID   int64           `json:"address_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	Status      Status          `json:"status"`
	Items       []Line          `json:"items,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type Line struct {
	SKUID     string          `json:"sku_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// StatusLogEntry is the append-only audit row written once per transition.
type StatusLogEntry struct {
	ID         int64     `json:"id"`
	OrderNo    string    `json:"order_no"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	Reason     string    `json:"reason"`
	OperatorID int64     `json:"operator_id"`
	CreatedAt  time.Time `json:"created_at"`
}
