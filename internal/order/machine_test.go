package order_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-engine/internal/database"
	"github.com/ariefcatur/go-order-engine/internal/order"
	"github.com/ariefcatur/go-order-engine/internal/testdb"
)

func insertOrder(t *testing.T, pool *pgxpool.Pool, m *order.Machine, orderNo string, st order.Status) {
	t.Helper()
	err := database.WithTx(context.Background(), pool, func(tx pgx.Tx) error {
		return m.InsertTx(context.Background(), tx, &order.Order{
			OrderNo:     orderNo,
			UserID:      7,
			TotalAmount: decimal.RequireFromString("10.00"),
			PaidAmount:  decimal.Zero,
			Status:      st,
		})
	})
	require.NoError(t, err)
}

func TestChangeStatusAppendsAuditLog(t *testing.T) {
	pool := testdb.New(t)
	m := order.NewMachine(pool, zap.NewNop())
	ctx := context.Background()
	insertOrder(t, pool, m, "ORD1", order.StatusPendingPayment)

	require.NoError(t, m.ChangeStatus(ctx, "ORD1", order.StatusPaid, "paid", 0))
	require.NoError(t, m.ChangeStatus(ctx, "ORD1", order.StatusAwaitingShipment, "packed", 3))

	history, err := m.History(ctx, "ORD1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, order.StatusPendingPayment, history[0].FromStatus)
	assert.Equal(t, order.StatusPaid, history[0].ToStatus)
	assert.Equal(t, order.StatusAwaitingShipment, history[1].ToStatus)
	assert.Equal(t, int64(3), history[1].OperatorID)
}

func TestChangeStatusRejectsIllegalMove(t *testing.T) {
	pool := testdb.New(t)
	m := order.NewMachine(pool, zap.NewNop())
	ctx := context.Background()
	insertOrder(t, pool, m, "ORD1", order.StatusPendingPayment)

	err := m.ChangeStatus(ctx, "ORD1", order.StatusShipped, "skip ahead", 0)
	require.ErrorIs(t, err, order.ErrIllegalTransition)

	var illegal *order.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, order.StatusPendingPayment, illegal.From)
	assert.Equal(t, order.StatusShipped, illegal.To)

	// the refused move leaves no audit row
	history, err := m.History(ctx, "ORD1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestBatchChangeStatusIsIndependent(t *testing.T) {
	pool := testdb.New(t)
	m := order.NewMachine(pool, zap.NewNop())
	ctx := context.Background()
	insertOrder(t, pool, m, "ORD1", order.StatusPendingPayment)
	insertOrder(t, pool, m, "ORD2", order.StatusShipped)

	results := m.BatchChangeStatus(ctx, []string{"ORD1", "ORD2", "ORD-GHOST"}, order.StatusPaid, "bulk", 1)
	require.Len(t, results, 3)
	assert.True(t, results[0].OK)
	assert.False(t, results[1].OK)
	assert.NotEmpty(t, results[1].Error)
	assert.False(t, results[2].OK)

	o, err := m.Get(ctx, "ORD1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, o.Status)
	o, err = m.Get(ctx, "ORD2")
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, o.Status)
}

func TestNextStatuses(t *testing.T) {
	pool := testdb.New(t)
	m := order.NewMachine(pool, zap.NewNop())
	ctx := context.Background()
	insertOrder(t, pool, m, "ORD1", order.StatusRefundRequested)

	cur, next, err := m.NextStatuses(ctx, "ORD1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusRefundRequested, cur)
	assert.ElementsMatch(t, []order.Status{order.StatusRefunded, order.StatusCompleted}, next)

	_, _, err = m.NextStatuses(ctx, "ORD-GHOST")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}
