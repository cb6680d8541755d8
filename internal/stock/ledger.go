package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-order-engine/internal/database"
)

const (
	reserveAttempts = 3
	reserveBackoff  = 20 * time.Millisecond
)

// Ledger owns all mutation of stock_items. No other component writes
// available/locked directly.
type Ledger struct{}

func NewLedger() *Ledger { return &Ledger{} }

// Reserve moves qty from available to locked in one version-guarded update.
// A version conflict means another order won the race on this SKU; the
// ledger re-reads and retries up to reserveAttempts before giving up with
// ErrConcurrentModification.
func (l *Ledger) Reserve(ctx context.Context, q database.DBTX, orderNo, skuID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("invalid quantity %d for sku %s", qty, skuID)
	}

	for attempt := 0; attempt < reserveAttempts; attempt++ {
		var available int
		var version int64
		err := q.QueryRow(ctx,
			`SELECT available, version FROM stock_items WHERE sku_id = $1`,
			skuID).Scan(&available, &version)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("sku %s: %w", skuID, ErrSKUNotFound)
			}
			return fmt.Errorf("read stock %s: %w", skuID, err)
		}
		if available < qty {
			return &InsufficientStockError{SKUID: skuID, Requested: qty, Available: available}
		}

		tag, err := q.Exec(ctx,
			`UPDATE stock_items
			    SET available = available - $3,
			        locked    = locked + $3,
			        version   = version + 1,
			        updated_at = now()
			  WHERE sku_id = $1 AND version = $2 AND available >= $3`,
			skuID, version, qty)
		if err != nil {
			return fmt.Errorf("reserve stock %s: %w", skuID, err)
		}
		if tag.RowsAffected() == 1 {
			return l.logOp(ctx, q, orderNo, skuID, OpReserve, qty)
		}

		select {
		case <-time.After(reserveBackoff * time.Duration(attempt+1)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("reserve stock %s: %w", skuID, ErrConcurrentModification)
}

// Commit consumes previously locked stock on payment success. Available is
// untouched; the units are permanently sold.
func (l *Ledger) Commit(ctx context.Context, q database.DBTX, orderNo, skuID string, qty int) error {
	tag, err := q.Exec(ctx,
		`UPDATE stock_items
		    SET locked = locked - $2, version = version + 1, updated_at = now()
		  WHERE sku_id = $1 AND locked >= $2`,
		skuID, qty)
	if err != nil {
		return fmt.Errorf("commit stock %s: %w", skuID, err)
	}
	if tag.RowsAffected() != 1 {
		// Locked underflow would corrupt the ledger; refuse.
		return fmt.Errorf("commit stock %s: locked counter below %d", skuID, qty)
	}
	return l.logOp(ctx, q, orderNo, skuID, OpCommit, qty)
}

// Rollback returns locked stock to available (cancellation, expiry, or a
// failed multi-item lock).
func (l *Ledger) Rollback(ctx context.Context, q database.DBTX, orderNo, skuID string, qty int) error {
	tag, err := q.Exec(ctx,
		`UPDATE stock_items
		    SET available = available + $2, locked = locked - $2,
		        version = version + 1, updated_at = now()
		  WHERE sku_id = $1 AND locked >= $2`,
		skuID, qty)
	if err != nil {
		return fmt.Errorf("rollback stock %s: %w", skuID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("rollback stock %s: locked counter below %d", skuID, qty)
	}
	return l.logOp(ctx, q, orderNo, skuID, OpRollback, qty)
}

// Restock credits available after an approved refund of already-committed
// stock. Locked is untouched: the units left the locked pool at commit time.
func (l *Ledger) Restock(ctx context.Context, q database.DBTX, orderNo, skuID string, qty int) error {
	tag, err := q.Exec(ctx,
		`UPDATE stock_items
		    SET available = available + $2, version = version + 1, updated_at = now()
		  WHERE sku_id = $1`,
		skuID, qty)
	if err != nil {
		return fmt.Errorf("restock %s: %w", skuID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("restock %s: %w", skuID, ErrSKUNotFound)
	}
	return l.logOp(ctx, q, orderNo, skuID, OpRestock, qty)
}

// Item returns the current ledger row for one SKU.
func (l *Ledger) Item(ctx context.Context, q database.DBTX, skuID string) (*StockItem, error) {
	var it StockItem
	err := q.QueryRow(ctx,
		`SELECT sku_id, available, locked, version, updated_at FROM stock_items WHERE sku_id = $1`,
		skuID).Scan(&it.SKUID, &it.Available, &it.Locked, &it.Version, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("sku %s: %w", skuID, ErrSKUNotFound)
		}
		return nil, err
	}
	return &it, nil
}

// History returns the append-only operation log for an order, oldest first.
func (l *Ledger) History(ctx context.Context, q database.DBTX, orderNo string) ([]OperationLog, error) {
	rows, err := q.Query(ctx,
		`SELECT id, order_no, sku_id, operation, quantity, created_at
		   FROM stock_operation_logs WHERE order_no = $1 ORDER BY id`,
		orderNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OperationLog
	for rows.Next() {
		var lg OperationLog
		if err := rows.Scan(&lg.ID, &lg.OrderNo, &lg.SKUID, &lg.Operation, &lg.Quantity, &lg.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, lg)
	}
	return out, rows.Err()
}

func (l *Ledger) logOp(ctx context.Context, q database.DBTX, orderNo, skuID string, op Op, qty int) error {
	_, err := q.Exec(ctx,
		`INSERT INTO stock_operation_logs (order_no, sku_id, operation, quantity)
		 VALUES ($1, $2, $3, $4)`,
		orderNo, skuID, int(op), qty)
	if err != nil {
		return fmt.Errorf("log stock op: %w", err)
	}
	return nil
}
