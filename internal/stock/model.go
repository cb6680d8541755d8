package stock

import "time"

// StockItem is the per-SKU ledger row. Available and Locked never go
// negative; version guards every mutation.
type StockItem struct {
	SKUID     string    `json:"sku_id"`
	Available int       `json:"available"`
	Locked    int       `json:"locked"`
	Version   int64     `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Op is the kind of ledger mutation recorded in the operation log.
type Op int

const (
	OpReserve  Op = 1 // available -> locked
	OpCommit   Op = 2 // locked consumed (sold)
	OpRollback Op = 3 // locked -> available
	OpRestock  Op = 4 // sold stock returned after refund
)

func (o Op) String() string {
	switch o {
	case OpReserve:
		return "reserve"
	case OpCommit:
		return "commit"
	case OpRollback:
		return "rollback"
	case OpRestock:
		return "restock"
	}
	return "unknown"
}

// OperationLog is append-only and never drives control decisions.
type OperationLog struct {
	ID        int64     `json:"id"`
	OrderNo   string    `json:"order_no"`
	SKUID     string    `json:"sku_id"`
	Operation Op        `json:"operation"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}
