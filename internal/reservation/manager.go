package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-engine/internal/database"
	"github.com/ariefcatur/go-order-engine/internal/stock"
)

// errLockFailed aborts the Lock transaction so partial ledger reserves are
// rolled back; it never leaves the package.
var errLockFailed = errors.New("lock failed")

// InsufficientError aggregates the per-item shortfalls of a failed Lock.
type InsufficientError struct {
	OrderNo string
	Failed  []FailedItem
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("order %s: %d item(s) lack stock", e.OrderNo, len(e.Failed))
}

func (e *InsufficientError) Is(target error) bool {
	return target == stock.ErrInsufficientStock
}

// Manager owns the reservations table. All stock movement goes through the
// ledger; the manager only decides when.
type Manager struct {
	DB     *pgxpool.Pool
	Ledger *stock.Ledger
	TTL    time.Duration
	Log    *zap.Logger
}

func NewManager(db *pgxpool.Pool, ledger *stock.Ledger, ttl time.Duration, log *zap.Logger) *Manager {
	return &Manager{DB: db, Ledger: ledger, TTL: ttl, Log: log}
}

// Lock reserves stock for every item or for none. A duplicate call for an
// order that still has live reservations short-circuits to the existing
// rows, so order-creation retries cannot double-reserve.
func (m *Manager) Lock(ctx context.Context, orderNo string, items []LockItem) (*LockResult, error) {
	var res *LockResult
	err := database.WithTx(ctx, m.DB, func(tx pgx.Tx) error {
		var err error
		res, err = m.LockTx(ctx, tx, orderNo, items)
		if err != nil {
			return err
		}
		if !res.OK {
			return errLockFailed
		}
		return nil
	})
	if errors.Is(err, errLockFailed) {
		return res, &InsufficientError{OrderNo: orderNo, Failed: res.Failed}
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// LockTx is Lock inside a caller-owned transaction (the orchestrator uses
// it so reservations and the order row commit or vanish together). When it
// returns an all-or-nothing failure the caller must roll the tx back.
func (m *Manager) LockTx(ctx context.Context, q database.DBTX, orderNo string, items []LockItem) (*LockResult, error) {
	existing, err := m.byOrder(ctx, q, orderNo, StateLocked)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		m.Log.Warn("duplicate lock call, returning existing reservations",
			zap.String("order_no", orderNo), zap.Int("count", len(existing)))
		return &LockResult{OK: true, AlreadyLocked: true, Reservations: existing}, nil
	}

	res := &LockResult{OK: true}
	for _, it := range items {
		if it.Quantity <= 0 {
			res.OK = false
			res.Failed = append(res.Failed, FailedItem{
				SKUID: it.SKUID, Requested: it.Quantity, Reason: "invalid quantity",
			})
			continue
		}
		err := m.Ledger.Reserve(ctx, q, orderNo, it.SKUID, it.Quantity)
		if err == nil {
			continue
		}
		var insufficient *stock.InsufficientStockError
		switch {
		case errors.As(err, &insufficient):
			res.OK = false
			res.Failed = append(res.Failed, FailedItem{
				SKUID:     insufficient.SKUID,
				Requested: insufficient.Requested,
				Available: insufficient.Available,
				Reason:    "insufficient stock",
			})
		case errors.Is(err, stock.ErrSKUNotFound):
			res.OK = false
			res.Failed = append(res.Failed, FailedItem{
				SKUID: it.SKUID, Requested: it.Quantity, Reason: "unknown sku",
			})
		default:
			return nil, err
		}
	}
	if !res.OK {
		// Caller rolls the tx back; already-reserved items are undone with it.
		return res, nil
	}

	expires := time.Now().UTC().Add(m.TTL)
	for _, it := range items {
		r := Reservation{
			ID:        uuid.NewString(),
			OrderNo:   orderNo,
			SKUID:     it.SKUID,
			Quantity:  it.Quantity,
			State:     StateLocked,
			ExpiresAt: expires,
		}
		if _, err := q.Exec(ctx,
			`INSERT INTO reservations (id, order_no, sku_id, quantity, state, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			r.ID, r.OrderNo, r.SKUID, r.Quantity, string(r.State), r.ExpiresAt); err != nil {
			return nil, fmt.Errorf("insert reservation: %w", err)
		}
		res.Reservations = append(res.Reservations, r)
	}
	return res, nil
}

// Confirm moves every Locked reservation of the order to Confirmed and
// commits the ledger deduction. No Locked rows is a no-op success: the
// confirmation already happened or the stock was already reclaimed.
func (m *Manager) Confirm(ctx context.Context, orderNo string) error {
	return database.WithTx(ctx, m.DB, func(tx pgx.Tx) error {
		return m.ConfirmTx(ctx, tx, orderNo)
	})
}

func (m *Manager) ConfirmTx(ctx context.Context, q database.DBTX, orderNo string) error {
	return m.settleLocked(ctx, q, orderNo, StateConfirmed)
}

// Release returns every Locked reservation's stock to available
// (cancellation path). Idempotent the same way Confirm is.
func (m *Manager) Release(ctx context.Context, orderNo string) error {
	return database.WithTx(ctx, m.DB, func(tx pgx.Tx) error {
		return m.ReleaseTx(ctx, tx, orderNo)
	})
}

func (m *Manager) ReleaseTx(ctx context.Context, q database.DBTX, orderNo string) error {
	return m.settleLocked(ctx, q, orderNo, StateReleased)
}

// settleLocked drives Locked reservations to a terminal state under a row
// lock. The FOR UPDATE select is what serializes Confirm, Release and the
// expiry sweep on the same order: whoever runs first wins, the rest find
// nothing Locked and no-op.
func (m *Manager) settleLocked(ctx context.Context, q database.DBTX, orderNo string, target State) error {
	rows, err := q.Query(ctx,
		`SELECT id, sku_id, quantity FROM reservations
		  WHERE order_no = $1 AND state = $2 FOR UPDATE`,
		orderNo, string(StateLocked))
	if err != nil {
		return fmt.Errorf("load reservations: %w", err)
	}
	locked, err := scanIDQty(rows)
	if err != nil {
		return err
	}
	if len(locked) == 0 {
		m.Log.Warn("no active reservation, treating as no-op",
			zap.String("order_no", orderNo), zap.String("target", string(target)))
		return nil
	}

	for _, r := range locked {
		switch target {
		case StateConfirmed:
			err = m.Ledger.Commit(ctx, q, orderNo, r.sku, r.qty)
		case StateReleased, StateExpired:
			err = m.Ledger.Rollback(ctx, q, orderNo, r.sku, r.qty)
		default:
			err = fmt.Errorf("unsupported target state %s", target)
		}
		if err != nil {
			return err
		}
	}

	if _, err := q.Exec(ctx,
		`UPDATE reservations SET state = $3 WHERE order_no = $1 AND state = $2`,
		orderNo, string(StateLocked), string(target)); err != nil {
		return fmt.Errorf("settle reservations: %w", err)
	}
	return nil
}

// RestockTx returns refunded (already committed) stock to available:
// Confirmed -> Released plus a ledger restock. Used only by the refund
// path, inside the reconciler's transaction.
func (m *Manager) RestockTx(ctx context.Context, q database.DBTX, orderNo string) error {
	rows, err := q.Query(ctx,
		`SELECT id, sku_id, quantity FROM reservations
		  WHERE order_no = $1 AND state = $2 FOR UPDATE`,
		orderNo, string(StateConfirmed))
	if err != nil {
		return fmt.Errorf("load reservations: %w", err)
	}
	confirmed, err := scanIDQty(rows)
	if err != nil {
		return err
	}
	if len(confirmed) == 0 {
		m.Log.Warn("no confirmed reservation to restock", zap.String("order_no", orderNo))
		return nil
	}

	for _, r := range confirmed {
		if err := m.Ledger.Restock(ctx, q, orderNo, r.sku, r.qty); err != nil {
			return err
		}
	}
	if _, err := q.Exec(ctx,
		`UPDATE reservations SET state = $3 WHERE order_no = $1 AND state = $2`,
		orderNo, string(StateConfirmed), string(StateReleased)); err != nil {
		return fmt.Errorf("restock reservations: %w", err)
	}
	return nil
}

// CheckAvailability is advisory. It can race concurrent reservations;
// the authoritative check happens at Lock time.
func (m *Manager) CheckAvailability(ctx context.Context, items []LockItem) ([]Availability, error) {
	out := make([]Availability, 0, len(items))
	for _, it := range items {
		a := Availability{SKUID: it.SKUID, Requested: it.Quantity}
		item, err := m.Ledger.Item(ctx, m.DB, it.SKUID)
		switch {
		case errors.Is(err, stock.ErrSKUNotFound):
			// reported as unavailable, not an error
		case err != nil:
			return nil, err
		default:
			a.Available = item.Available
			a.Sufficient = item.Available >= it.Quantity
		}
		out = append(out, a)
	}
	return out, nil
}

// ByOrder lists an order's reservations regardless of state.
func (m *Manager) ByOrder(ctx context.Context, orderNo string) ([]Reservation, error) {
	return m.byOrder(ctx, m.DB, orderNo, "")
}

func (m *Manager) byOrder(ctx context.Context, q database.DBTX, orderNo string, state State) ([]Reservation, error) {
	query := `SELECT id, order_no, sku_id, quantity, state, created_at, expires_at
	            FROM reservations WHERE order_no = $1`
	args := []any{orderNo}
	if state != "" {
		query += ` AND state = $2`
		args = append(args, string(state))
	}
	query += ` ORDER BY sku_id`

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var r Reservation
		var st string
		if err := rows.Scan(&r.ID, &r.OrderNo, &r.SKUID, &r.Quantity, &st, &r.CreatedAt, &r.ExpiresAt); err != nil {
			return nil, err
		}
		r.State = State(st)
		out = append(out, r)
	}
	return out, rows.Err()
}

type idQty struct {
	id  string
	sku string
	qty int
}

func scanIDQty(rows pgx.Rows) ([]idQty, error) {
	defer rows.Close()
	var out []idQty
	for rows.Next() {
		var r idQty
		if err := rows.Scan(&r.id, &r.sku, &r.qty); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
