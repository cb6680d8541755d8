package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-engine/internal/database"
	kafkax "github.com/ariefcatur/go-order-engine/internal/kafka"
	"github.com/ariefcatur/go-order-engine/internal/order"
	"github.com/ariefcatur/go-order-engine/internal/payment"
	"github.com/ariefcatur/go-order-engine/internal/redisx"
	"github.com/ariefcatur/go-order-engine/internal/reservation"
)

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Producers groups the lifecycle topics the orchestrator publishes to.
type Producers struct {
	OrderCreated    Publisher
	OrderPaid       Publisher
	OrderCancelled  Publisher
	RefundRequested Publisher
	OrderRefunded   Publisher
}

// Service sequences reservations, the state machine and the payment
// reconciler for the order use cases, and owns the transaction boundary
// of each one.
type Service struct {
	DB           *pgxpool.Pool
	Reservations *reservation.Manager
	Machine      *order.Machine
	Payments     *payment.Reconciler
	Producers    Producers
	Redis        *redis.Client
	Name         string
	Log          *zap.Logger
}

type LineInput struct {
	SKUID     string          `json:"sku_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type CreateOrderInput struct {
	UserID    int64       `json:"user_id"`
	AddressID int64       `json:"address_id"`
	ClientRef string      `json:"client_ref"` // client-side idempotency token
	Items     []LineInput `json:"items"`
}

func newOrderNo() string {
	return fmt.Sprintf("ORD%d%04d", time.Now().UnixMilli(), rand.Intn(10000))
}

// CreateOrder reserves stock and persists the order in one transaction.
// When the lock fails, no order row exists and the per-item shortfalls come
// back inside a reservation.InsufficientError.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*order.Order, error) {
	if len(in.Items) == 0 {
		return nil, errors.New("order has no items")
	}
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("invalid quantity %d for sku %s", it.Quantity, it.SKUID)
		}
		if it.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("invalid unit price for sku %s", it.SKUID)
		}
	}

	// Fast-path idempotency: a retried create with the same client ref
	// returns the already-created order. The orders table stays the truth.
	if in.ClientRef != "" && s.Redis != nil {
		idemKey := fmt.Sprintf(redisx.KeyIdemOrderCreate, in.ClientRef)
		if no, err := s.Redis.Get(ctx, idemKey).Result(); err == nil && no != "" {
			if existing, err := s.Machine.Get(ctx, no); err == nil {
				s.Log.Info("duplicate create-order call", zap.String("order_no", no))
				return existing, nil
			}
		}
	}

	o := &order.Order{
		OrderNo:    newOrderNo(),
		UserID:     in.UserID,
		AddressID:  in.AddressID,
		Status:     order.StatusPendingPayment,
		PaidAmount: decimal.Zero,
	}
	lockItems := make([]reservation.LockItem, 0, len(in.Items))
	total := decimal.Zero
	for _, it := range in.Items {
		sub := it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		o.Items = append(o.Items, order.Line{
			SKUID: it.SKUID, Quantity: it.Quantity, UnitPrice: it.UnitPrice, Subtotal: sub,
		})
		total = total.Add(sub)
		lockItems = append(lockItems, reservation.LockItem{SKUID: it.SKUID, Quantity: it.Quantity})
	}
	o.TotalAmount = total

	var lockRes *reservation.LockResult
	err := database.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		var err error
		lockRes, err = s.Reservations.LockTx(ctx, tx, o.OrderNo, lockItems)
		if err != nil {
			return err
		}
		if !lockRes.OK {
			return &reservation.InsufficientError{OrderNo: o.OrderNo, Failed: lockRes.Failed}
		}
		return s.Machine.InsertTx(ctx, tx, o)
	})
	if err != nil {
		return nil, err
	}

	if in.ClientRef != "" && s.Redis != nil {
		idemKey := fmt.Sprintf(redisx.KeyIdemOrderCreate, in.ClientRef)
		_ = s.Redis.Set(ctx, idemKey, o.OrderNo, redisx.TTLIdempotency).Err()
	}
	s.cacheStatus(ctx, o.OrderNo, o.Status)

	lines := make([]order.EventLine, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, order.EventLine{
			SKUID: it.SKUID, Quantity: it.Quantity, UnitPrice: it.UnitPrice.String(),
		})
	}
	s.publish(s.Producers.OrderCreated, order.EventOrderCreated, o.OrderNo, order.OrderCreatedPayload{
		OrderNo:     o.OrderNo,
		UserID:      o.UserID,
		Items:       lines,
		TotalAmount: o.TotalAmount.String(),
	})
	return o, nil
}

// CancelOrder flips the order to Cancelled and releases its locked stock in
// one transaction. Only the order's owner may cancel; illegal from any state
// other than PendingPayment.
func (s *Service) CancelOrder(ctx context.Context, orderNo string, actorID int64, reason string) error {
	err := database.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		o, err := s.Machine.GetTx(ctx, tx, orderNo)
		if err != nil {
			return err
		}
		if o.UserID != actorID {
			return fmt.Errorf("order %s: %w", orderNo, payment.ErrNotOwner)
		}
		if err := s.Machine.ChangeStatusTx(ctx, tx, orderNo, order.StatusCancelled, reason, actorID); err != nil {
			return err
		}
		return s.Reservations.ReleaseTx(ctx, tx, orderNo)
	})
	if err != nil {
		return err
	}

	s.cacheStatus(ctx, orderNo, order.StatusCancelled)
	s.publish(s.Producers.OrderCancelled, order.EventOrderCancelled, orderNo, order.OrderCancelledPayload{
		OrderNo: orderNo, ActorID: actorID, Reason: reason,
	})
	return nil
}

// HandleCallback feeds an external payment notification through the
// reconciler and publishes OrderPaid when this call flipped the order.
func (s *Service) HandleCallback(ctx context.Context, ch payment.Channel, payload []byte) (*payment.Outcome, error) {
	out, err := s.Payments.HandleCallback(ctx, ch, payload)
	if err != nil {
		return nil, err
	}
	if out.Paid {
		s.cacheStatus(ctx, out.OrderNo, order.StatusPaid)
		s.publish(s.Producers.OrderPaid, order.EventOrderPaid, out.OrderNo, order.OrderPaidPayload{
			OrderNo:   out.OrderNo,
			PaymentNo: out.PaymentNo,
			Amount:    out.Amount.String(),
		})
	}
	return out, nil
}

func (s *Service) ApplyRefund(ctx context.Context, orderNo, reason string, operatorID int64) error {
	if err := s.Payments.ApplyRefund(ctx, orderNo, reason, operatorID); err != nil {
		return err
	}
	s.cacheStatus(ctx, orderNo, order.StatusRefundRequested)
	s.publish(s.Producers.RefundRequested, order.EventRefundRequested, orderNo, order.RefundRequestedPayload{
		OrderNo: orderNo, Reason: reason,
	})
	return nil
}

func (s *Service) ResolveRefund(ctx context.Context, orderNo string, approve bool, reason string, operatorID int64) error {
	if err := s.Payments.ResolveRefund(ctx, orderNo, approve, reason, operatorID); err != nil {
		return err
	}
	final := order.StatusCompleted
	if approve {
		final = order.StatusRefunded
	}
	s.cacheStatus(ctx, orderNo, final)
	s.publish(s.Producers.OrderRefunded, order.EventOrderRefunded, orderNo, order.OrderRefundedPayload{
		OrderNo: orderNo, Approved: approve, Reason: reason,
	})
	return nil
}

// CheckStock is the advisory availability probe.
func (s *Service) CheckStock(ctx context.Context, items []reservation.LockItem) ([]reservation.Availability, error) {
	return s.Reservations.CheckAvailability(ctx, items)
}

func (s *Service) cacheStatus(ctx context.Context, orderNo string, st order.Status) {
	if s.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderNo)
	body := fmt.Sprintf(`{"status":%d,"status_name":%q}`, int(st), st.String())
	_ = s.Redis.Set(ctx, key, body, redisx.TTLStatusCache).Err()
}

func (s *Service) publish(p Publisher, eventType, orderNo string, payload any) {
	if p == nil {
		return
	}
	ev := order.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.Name,
		CorrelationID: orderNo,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(order.PartitionKey(orderNo), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
