package payment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-engine/internal/database"
	"github.com/ariefcatur/go-order-engine/internal/order"
	"github.com/ariefcatur/go-order-engine/internal/reservation"
)

// Reconciler owns payment_records and applies external callbacks
// idempotently, driving reservations and order status as one transaction.
type Reconciler struct {
	DB           *pgxpool.Pool
	Reservations *reservation.Manager
	Machine      *order.Machine
	Log          *zap.Logger
}

func NewReconciler(db *pgxpool.Pool, res *reservation.Manager, machine *order.Machine, log *zap.Logger) *Reconciler {
	return &Reconciler{DB: db, Reservations: res, Machine: machine, Log: log}
}

func newPaymentNo() string {
	return fmt.Sprintf("PAY%d%04d", time.Now().UnixMilli(), rand.Intn(10000))
}

// CreatePayment opens a Pending record for an order awaiting payment. It
// never touches order status or reservations. A previous Failed attempt
// does not block a retry; a Success record does.
func (r *Reconciler) CreatePayment(ctx context.Context, orderNo string, ch Channel, userID int64) (*Record, error) {
	if !ValidChannel(ch) {
		return nil, fmt.Errorf("unsupported payment channel %q", ch)
	}

	var rec *Record
	err := database.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		o, err := r.Machine.GetTx(ctx, tx, orderNo)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return fmt.Errorf("order %s: %w", orderNo, ErrNotOwner)
		}
		if o.Status != order.StatusPendingPayment {
			return fmt.Errorf("order %s in status %s: %w", orderNo, o.Status, ErrNotPayable)
		}

		var succeeded int
		if err := tx.QueryRow(ctx,
			`SELECT count(*) FROM payment_records WHERE order_no = $1 AND status = $2`,
			orderNo, string(StatusSuccess)).Scan(&succeeded); err != nil {
			return err
		}
		if succeeded > 0 {
			return fmt.Errorf("order %s: %w", orderNo, ErrAlreadyPaid)
		}

		rec = &Record{
			PaymentNo: newPaymentNo(),
			OrderNo:   orderNo,
			UserID:    userID,
			Channel:   ch,
			Amount:    o.TotalAmount,
			Status:    StatusPending,
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO payment_records (payment_no, order_no, user_id, channel, amount, status)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			rec.PaymentNo, rec.OrderNo, rec.UserID, string(rec.Channel), rec.Amount, string(rec.Status))
		return err
	})
	if err != nil {
		return nil, err
	}

	r.Log.Info("payment created",
		zap.String("payment_no", rec.PaymentNo),
		zap.String("order_no", orderNo),
		zap.String("channel", string(ch)))
	return rec, nil
}

// Outcome reports what a callback actually did.
type Outcome struct {
	PaymentNo string
	OrderNo   string
	Amount    decimal.Decimal
	Paid      bool // this call flipped the order to Paid
	Failed    bool // this call recorded a failed attempt
	Duplicate bool // terminal-state replay, nothing changed
}

// HandleCallback applies one external notification. Callbacks are
// at-least-once, possibly duplicated and out of order:
//   - a replay against a terminal record acks success with no side effects;
//   - a success callback verifies the declared amount before anything moves;
//   - record update, reservation confirm and order transition share one
//     transaction so a crash cannot leave paid-but-unreserved state.
func (r *Reconciler) HandleCallback(ctx context.Context, ch Channel, payload []byte) (*Outcome, error) {
	cb, err := ParseCallback(ch, payload)
	if err != nil {
		return nil, err
	}

	// The FOR UPDATE on the record plus the reservation and order rows can
	// deadlock against the expiry sweep; retrying the whole transaction is
	// safe because a replayed callback is a no-op.
	out := &Outcome{PaymentNo: cb.PaymentNo}
	err = database.WithRetry(ctx, r.DB, database.DefaultRetryOptions(), func(tx pgx.Tx) error {
		*out = Outcome{PaymentNo: cb.PaymentNo}
		rec, err := r.getForUpdate(ctx, tx, cb.PaymentNo)
		if err != nil {
			return err
		}
		out.OrderNo = rec.OrderNo
		out.Amount = rec.Amount

		switch rec.Status {
		case StatusSuccess, StatusRefunded:
			out.Duplicate = true
			r.Log.Warn("duplicate payment callback ignored",
				zap.String("payment_no", rec.PaymentNo),
				zap.String("status", string(rec.Status)))
			return nil
		case StatusFailed:
			if !cb.Succeeded {
				out.Duplicate = true
				return nil
			}
			// Success after a locally recorded failure: the external channel
			// is authoritative, proceed as a normal success.
		}

		if !cb.Succeeded {
			// Stock stays locked: the user may retry until the TTL sweep.
			out.Failed = true
			_, err := tx.Exec(ctx,
				`UPDATE payment_records
				    SET status = $2, failure_reason = $3, callback_at = now()
				  WHERE payment_no = $1`,
				rec.PaymentNo, string(StatusFailed), cb.FailureReason)
			return err
		}

		if !cb.Amount.Equal(rec.Amount) {
			return &AmountMismatchError{
				PaymentNo: rec.PaymentNo,
				Declared:  cb.Amount,
				Expected:  rec.Amount,
			}
		}

		if _, err := tx.Exec(ctx,
			`UPDATE payment_records
			    SET status = $2, external_transaction_id = $3, callback_at = now()
			  WHERE payment_no = $1`,
			rec.PaymentNo, string(StatusSuccess), cb.ExternalTransactionID); err != nil {
			return err
		}
		if err := r.Machine.SetPaidAmountTx(ctx, tx, rec.OrderNo, rec.Amount); err != nil {
			return err
		}
		if err := r.Reservations.ConfirmTx(ctx, tx, rec.OrderNo); err != nil {
			return err
		}
		if err := r.Machine.ChangeStatusTx(ctx, tx, rec.OrderNo, order.StatusPaid,
			"payment confirmed: "+rec.PaymentNo, 0); err != nil {
			// e.g. the order was cancelled before the callback landed; the
			// whole transaction rolls back and the callback is refused.
			return err
		}
		out.Paid = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyRefund opens a refund request; stock and funds move only on approval.
func (r *Reconciler) ApplyRefund(ctx context.Context, orderNo, reason string, operatorID int64) error {
	return r.Machine.ChangeStatus(ctx, orderNo, order.StatusRefundRequested, reason, operatorID)
}

// ResolveRefund closes a refund request. Approval marks the Success record
// Refunded, moves the order to Refunded and returns the committed stock to
// available; denial reverts the order to Completed, untouched otherwise.
func (r *Reconciler) ResolveRefund(ctx context.Context, orderNo string, approve bool, reason string, operatorID int64) error {
	return database.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		if !approve {
			return r.Machine.ChangeStatusTx(ctx, tx, orderNo, order.StatusCompleted,
				"refund denied: "+reason, operatorID)
		}

		if err := r.Machine.ChangeStatusTx(ctx, tx, orderNo, order.StatusRefunded, reason, operatorID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE payment_records SET status = $2
			  WHERE order_no = $1 AND status = $3`,
			orderNo, string(StatusRefunded), string(StatusSuccess))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("order %s has no successful payment: %w", orderNo, ErrPaymentNotFound)
		}
		return r.Reservations.RestockTx(ctx, tx, orderNo)
	})
}

// Get returns a record, owner-checked for user-facing queries.
func (r *Reconciler) Get(ctx context.Context, paymentNo string, userID int64) (*Record, error) {
	rec, err := r.get(ctx, r.DB, paymentNo, "")
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, fmt.Errorf("payment %s: %w", paymentNo, ErrNotOwner)
	}
	return rec, nil
}

// ListByOrder returns every attempt for an order, oldest first.
func (r *Reconciler) ListByOrder(ctx context.Context, orderNo string) ([]Record, error) {
	rows, err := r.DB.Query(ctx,
		`SELECT payment_no, order_no, user_id, channel, amount, status,
		        coalesce(external_transaction_id, ''), coalesce(failure_reason, ''),
		        created_at, callback_at
		   FROM payment_records WHERE order_no = $1 ORDER BY created_at`,
		orderNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *Reconciler) getForUpdate(ctx context.Context, q database.DBTX, paymentNo string) (*Record, error) {
	return r.get(ctx, q, paymentNo, " FOR UPDATE")
}

func (r *Reconciler) get(ctx context.Context, q database.DBTX, paymentNo, suffix string) (*Record, error) {
	row := q.QueryRow(ctx,
		`SELECT payment_no, order_no, user_id, channel, amount, status,
		        coalesce(external_transaction_id, ''), coalesce(failure_reason, ''),
		        created_at, callback_at
		   FROM payment_records WHERE payment_no = $1`+suffix,
		paymentNo)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("payment %s: %w", paymentNo, ErrPaymentNotFound)
		}
		return nil, err
	}
	return rec, nil
}

type scannable interface{ Scan(dest ...any) error }

func scanRecord(row scannable) (*Record, error) {
	var rec Record
	var ch, st string
	var amount decimal.Decimal
	if err := row.Scan(&rec.PaymentNo, &rec.OrderNo, &rec.UserID, &ch, &amount, &st,
		&rec.ExternalTransactionID, &rec.FailureReason, &rec.CreatedAt, &rec.CallbackAt); err != nil {
		return nil, err
	}
	rec.Channel, rec.Status, rec.Amount = Channel(ch), Status(st), amount
	return &rec, nil
}
