// Package statuscache keeps the Redis order-status cache in sync with the
// lifecycle event stream, so status reads rarely touch Postgres.
package statuscache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-order-engine/internal/kafka"
	"github.com/ariefcatur/go-order-engine/internal/order"
	"github.com/ariefcatur/go-order-engine/internal/redisx"
)

type Service struct {
	Redis *redis.Client
	Name  string
	Log   *zap.Logger
}

var statusByEvent = map[string]order.Status{
	order.EventOrderCreated:    order.StatusPendingPayment,
	order.EventOrderPaid:       order.StatusPaid,
	order.EventOrderCancelled:  order.StatusCancelled,
	order.EventRefundRequested: order.StatusRefundRequested,
}

// HandleEvent is the consumer handler for every lifecycle topic.
func (s *Service) HandleEvent(ctx context.Context, m kafkago.Message) error {
	var env order.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}

	// Dedup on event id; consumption is at-least-once.
	dkey := fmt.Sprintf(redisx.KeyDedup, s.Name, env.EventID)
	if seen, _ := redisx.Exists(ctx, s.Redis, dkey); seen {
		return nil
	}
	_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()

	orderNo := env.CorrelationID
	if orderNo == "" {
		return nil
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderNo)

	switch env.EventType {
	case order.EventReservationExpired:
		// Expiry reclaims stock but leaves order status alone; drop the
		// cache entry so the next read goes to the database.
		return s.Redis.Del(ctx, key).Err()
	case order.EventOrderRefunded:
		p, err := kafkax.UnwrapPayload[order.OrderRefundedPayload](env.Payload)
		if err != nil {
			return err
		}
		st := order.StatusCompleted
		if p.Approved {
			st = order.StatusRefunded
		}
		return s.set(ctx, key, st)
	default:
		st, ok := statusByEvent[env.EventType]
		if !ok {
			s.Log.Debug("ignoring event", zap.String("event_type", env.EventType))
			return nil
		}
		return s.set(ctx, key, st)
	}
}

func (s *Service) set(ctx context.Context, key string, st order.Status) error {
	body := fmt.Sprintf(`{"status":%d,"status_name":%q}`, int(st), st.String())
	return s.Redis.Set(ctx, key, body, redisx.TTLStatusCache).Err()
}
