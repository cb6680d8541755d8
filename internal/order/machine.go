package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-engine/internal/database"
)

// Machine enforces the transition table over the orders row and writes the
// status audit log. It owns the orders and order_status_logs tables.
type Machine struct {
	DB  *pgxpool.Pool
	Log *zap.Logger
}

func NewMachine(db *pgxpool.Pool, log *zap.Logger) *Machine {
	return &Machine{DB: db, Log: log}
}

// InsertTx persists a new order and its lines inside the caller's
// transaction. The initial status is whatever o.Status says; no log entry
// is written because nothing transitioned yet.
func (m *Machine) InsertTx(ctx context.Context, q database.DBTX, o *Order) error {
	_, err := q.Exec(ctx,
		`INSERT INTO orders (order_no, user_id, address_id, total_amount, paid_amount, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		o.OrderNo, o.UserID, o.AddressID, o.TotalAmount, o.PaidAmount, int(o.Status))
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	for _, it := range o.Items {
		_, err := q.Exec(ctx,
			`INSERT INTO order_items (order_no, sku_id, quantity, unit_price, subtotal)
			 VALUES ($1, $2, $3, $4, $5)`,
			o.OrderNo, it.SKUID, it.Quantity, it.UnitPrice, it.Subtotal)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

// ChangeStatusTx validates and applies one transition inside the caller's
// transaction. The FOR UPDATE read serializes all mutators of the same
// order, so concurrent signals resolve to exactly one winner; the loser
// sees the new state and gets ErrIllegalTransition to handle as it sees fit.
func (m *Machine) ChangeStatusTx(ctx context.Context, q database.DBTX, orderNo string, target Status, reason string, operatorID int64) error {
	if !target.Valid() {
		return fmt.Errorf("invalid target status %d", int(target))
	}

	var cur int
	err := q.QueryRow(ctx,
		`SELECT status FROM orders WHERE order_no = $1 FOR UPDATE`,
		orderNo).Scan(&cur)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("order %s: %w", orderNo, ErrOrderNotFound)
		}
		return fmt.Errorf("load order %s: %w", orderNo, err)
	}

	from := Status(cur)
	if !CanTransition(from, target) {
		return &IllegalTransitionError{OrderNo: orderNo, From: from, To: target}
	}

	if _, err := q.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE order_no = $1`,
		orderNo, int(target)); err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if _, err := q.Exec(ctx,
		`INSERT INTO order_status_logs (order_no, from_status, to_status, reason, operator_id)
		 VALUES ($1, $2, $3, $4, $5)`,
		orderNo, int(from), int(target), reason, operatorID); err != nil {
		return fmt.Errorf("append status log: %w", err)
	}

	m.Log.Info("order status changed",
		zap.String("order_no", orderNo),
		zap.Stringer("from", from),
		zap.Stringer("to", target),
		zap.String("reason", reason))
	return nil
}

func (m *Machine) ChangeStatus(ctx context.Context, orderNo string, target Status, reason string, operatorID int64) error {
	return database.WithTx(ctx, m.DB, func(tx pgx.Tx) error {
		return m.ChangeStatusTx(ctx, tx, orderNo, target, reason, operatorID)
	})
}

// BatchResult reports one order's outcome in a batch transition. Orders are
// independent: one failure never rolls back the others.
type BatchResult struct {
	OrderNo string `json:"order_no"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

func (m *Machine) BatchChangeStatus(ctx context.Context, orderNos []string, target Status, reason string, operatorID int64) []BatchResult {
	out := make([]BatchResult, 0, len(orderNos))
	for _, no := range orderNos {
		res := BatchResult{OrderNo: no, OK: true}
		if err := m.ChangeStatus(ctx, no, target, reason, operatorID); err != nil {
			res.OK = false
			res.Error = err.Error()
		}
		out = append(out, res)
	}
	return out
}

// SetPaidAmountTx records the externally-confirmed paid amount. Only the
// payment reconciler calls this, inside its callback transaction.
func (m *Machine) SetPaidAmountTx(ctx context.Context, q database.DBTX, orderNo string, amount decimal.Decimal) error {
	tag, err := q.Exec(ctx,
		`UPDATE orders SET paid_amount = $2, updated_at = now() WHERE order_no = $1`,
		orderNo, amount)
	if err != nil {
		return fmt.Errorf("set paid amount: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("order %s: %w", orderNo, ErrOrderNotFound)
	}
	return nil
}

func (m *Machine) Get(ctx context.Context, orderNo string) (*Order, error) {
	return m.GetTx(ctx, m.DB, orderNo)
}

func (m *Machine) GetTx(ctx context.Context, q database.DBTX, orderNo string) (*Order, error) {
	var o Order
	var st int
	err := q.QueryRow(ctx,
		`SELECT order_no, user_id, address_id, total_amount, paid_amount, status, created_at, updated_at
		   FROM orders WHERE order_no = $1`,
		orderNo).Scan(&o.OrderNo, &o.UserID, &o.AddressID, &o.TotalAmount, &o.PaidAmount, &st, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", orderNo, ErrOrderNotFound)
		}
		return nil, err
	}
	o.Status = Status(st)

	rows, err := q.Query(ctx,
		`SELECT sku_id, quantity, unit_price, subtotal FROM order_items WHERE order_no = $1 ORDER BY sku_id`,
		orderNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Line
		if err := rows.Scan(&it.SKUID, &it.Quantity, &it.UnitPrice, &it.Subtotal); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

// History returns the transition audit trail, oldest first.
func (m *Machine) History(ctx context.Context, orderNo string) ([]StatusLogEntry, error) {
	rows, err := m.DB.Query(ctx,
		`SELECT id, order_no, from_status, to_status, reason, operator_id, created_at
		   FROM order_status_logs WHERE order_no = $1 ORDER BY id`,
		orderNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusLogEntry
	for rows.Next() {
		var e StatusLogEntry
		var from, to int
		if err := rows.Scan(&e.ID, &e.OrderNo, &from, &to, &e.Reason, &e.OperatorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.FromStatus, e.ToStatus = Status(from), Status(to)
		out = append(out, e)
	}
	return out, rows.Err()
}

// NextStatuses reports the order's current status and the legal targets.
func (m *Machine) NextStatuses(ctx context.Context, orderNo string) (Status, []Status, error) {
	var cur int
	err := m.DB.QueryRow(ctx, `SELECT status FROM orders WHERE order_no = $1`, orderNo).Scan(&cur)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, fmt.Errorf("order %s: %w", orderNo, ErrOrderNotFound)
		}
		return 0, nil, err
	}
	s := Status(cur)
	return s, Next(s), nil
}
