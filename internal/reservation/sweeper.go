package reservation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-engine/internal/database"
	kafkax "github.com/ariefcatur/go-order-engine/internal/kafka"
	"github.com/ariefcatur/go-order-engine/internal/order"
)

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Sweeper reclaims stock from abandoned unpaid orders: Locked reservations
// past expires_at become Expired and their quantity returns to available.
// It shares the per-order FOR UPDATE path with Confirm/Release, so running
// concurrently with a late payment confirmation is safe: exactly one of
// them settles the rows, the other no-ops.
type Sweeper struct {
	Manager  *Manager
	Interval time.Duration
	Producer Publisher
	Service  string
	Log      *zap.Logger
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				s.Log.Error("reservation sweep failed", zap.Error(err))
			} else if n > 0 {
				s.Log.Info("reservation sweep reclaimed stock", zap.Int("orders", n))
			}
		}
	}
}

// SweepOnce expires every overdue order's reservations, one transaction
// per order, and reports how many orders were reclaimed. Re-running on an
// already-expired reservation is a no-op.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	rows, err := s.Manager.DB.Query(ctx,
		`SELECT DISTINCT order_no FROM reservations
		  WHERE state = $1 AND expires_at <= now()`,
		string(StateLocked))
	if err != nil {
		return 0, err
	}
	var orderNos []string
	for rows.Next() {
		var no string
		if err := rows.Scan(&no); err != nil {
			rows.Close()
			return 0, err
		}
		orderNos = append(orderNos, no)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	swept := 0
	for _, no := range orderNos {
		released := 0
		err := database.WithRetry(ctx, s.Manager.DB, database.DefaultRetryOptions(), func(tx pgx.Tx) error {
			var err error
			released, err = s.expireOrder(ctx, tx, no)
			return err
		})
		if err != nil {
			s.Log.Error("expire reservations failed", zap.String("order_no", no), zap.Error(err))
			continue
		}
		if released == 0 {
			continue // settled by a payment or cancel between the scan and the lock
		}
		swept++
		s.publishExpired(no, released)
	}
	return swept, nil
}

func (s *Sweeper) expireOrder(ctx context.Context, q database.DBTX, orderNo string) (int, error) {
	rows, err := q.Query(ctx,
		`SELECT id, sku_id, quantity FROM reservations
		  WHERE order_no = $1 AND state = $2 AND expires_at <= now() FOR UPDATE`,
		orderNo, string(StateLocked))
	if err != nil {
		return 0, err
	}
	overdue, err := scanIDQty(rows)
	if err != nil {
		return 0, err
	}
	for _, r := range overdue {
		if err := s.Manager.Ledger.Rollback(ctx, q, orderNo, r.sku, r.qty); err != nil {
			return 0, err
		}
		if _, err := q.Exec(ctx,
			`UPDATE reservations SET state = $2 WHERE id = $1`,
			r.id, string(StateExpired)); err != nil {
			return 0, err
		}
	}
	return len(overdue), nil
}

func (s *Sweeper) publishExpired(orderNo string, released int) {
	if s.Producer == nil {
		return
	}
	ev := order.Envelope{
		EventID:       uuid.NewString(),
		EventType:     order.EventReservationExpired,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.Service,
		CorrelationID: orderNo,
		Payload: kafkax.MustMarshal(order.ReservationExpiredPayload{
			OrderNo:  orderNo,
			Released: released,
		}),
	}
	s.Producer.Publish(order.PartitionKey(orderNo), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(order.EventReservationExpired)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
