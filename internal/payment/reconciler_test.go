package payment_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-engine/internal/database"
	"github.com/ariefcatur/go-order-engine/internal/order"
	"github.com/ariefcatur/go-order-engine/internal/payment"
	"github.com/ariefcatur/go-order-engine/internal/reservation"
	"github.com/ariefcatur/go-order-engine/internal/stock"
	"github.com/ariefcatur/go-order-engine/internal/testdb"
)

type fixture struct {
	pool         *pgxpool.Pool
	machine      *order.Machine
	reservations *reservation.Manager
	reconciler   *payment.Reconciler
}

func newFixture(t *testing.T) *fixture {
	pool := testdb.New(t)
	log := zap.NewNop()
	machine := order.NewMachine(pool, log)
	reservations := reservation.NewManager(pool, stock.NewLedger(), 30*time.Minute, log)
	return &fixture{
		pool:         pool,
		machine:      machine,
		reservations: reservations,
		reconciler:   payment.NewReconciler(pool, reservations, machine, log),
	}
}

// placeOrder seeds stock, locks it and inserts a pending order, the way the
// order creation flow does.
func (f *fixture) placeOrder(t *testing.T, orderNo string, userID int64, qty int, total string) {
	t.Helper()
	ctx := context.Background()
	testdb.Seed(t, f.pool, "SKU-"+orderNo, qty*2)

	err := database.WithTx(ctx, f.pool, func(tx pgx.Tx) error {
		res, err := f.reservations.LockTx(ctx, tx, orderNo, []reservation.LockItem{
			{SKUID: "SKU-" + orderNo, Quantity: qty},
		})
		if err != nil {
			return err
		}
		if !res.OK {
			return fmt.Errorf("lock failed: %+v", res.Failed)
		}
		amount := decimal.RequireFromString(total)
		return f.machine.InsertTx(ctx, tx, &order.Order{
			OrderNo:     orderNo,
			UserID:      userID,
			TotalAmount: amount,
			PaidAmount:  decimal.Zero,
			Status:      order.StatusPendingPayment,
			Items: []order.Line{{
				SKUID:     "SKU-" + orderNo,
				Quantity:  qty,
				UnitPrice: amount.Div(decimal.NewFromInt(int64(qty))),
				Subtotal:  amount,
			}},
		})
	})
	require.NoError(t, err)
}

func wechatSuccess(paymentNo, amount string) []byte {
	return []byte(fmt.Sprintf(
		`{"out_trade_no":%q,"result_code":"SUCCESS","total_amount":%q,"transaction_id":"wx-1"}`,
		paymentNo, amount))
}

func TestCreatePaymentChecks(t *testing.T) {
	f := newFixture(t)
	f.placeOrder(t, "ORD1", 7, 2, "25.00")
	ctx := context.Background()

	_, err := f.reconciler.CreatePayment(ctx, "ORD1", payment.ChannelWechat, 99)
	assert.ErrorIs(t, err, payment.ErrNotOwner)

	_, err = f.reconciler.CreatePayment(ctx, "ORD-NOPE", payment.ChannelWechat, 7)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	rec, err := f.reconciler.CreatePayment(ctx, "ORD1", payment.ChannelWechat, 7)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, rec.Status)
	assert.True(t, rec.Amount.Equal(decimal.RequireFromString("25.00")))
}

func TestCallbackFlipsOrderToPaid(t *testing.T) {
	f := newFixture(t)
	f.placeOrder(t, "ORD1", 7, 2, "25.00")
	ctx := context.Background()

	rec, err := f.reconciler.CreatePayment(ctx, "ORD1", payment.ChannelWechat, 7)
	require.NoError(t, err)

	out, err := f.reconciler.HandleCallback(ctx, payment.ChannelWechat, wechatSuccess(rec.PaymentNo, "25.00"))
	require.NoError(t, err)
	assert.True(t, out.Paid)
	assert.False(t, out.Duplicate)

	o, err := f.machine.Get(ctx, "ORD1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, o.Status)
	assert.True(t, o.PaidAmount.Equal(decimal.RequireFromString("25.00")))

	rows, err := f.reservations.ByOrder(ctx, "ORD1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, reservation.StateConfirmed, rows[0].State)

	history, err := f.machine.History(ctx, "ORD1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, order.StatusPendingPayment, history[0].FromStatus)
	assert.Equal(t, order.StatusPaid, history[0].ToStatus)
}

func TestCallbackReplayIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.placeOrder(t, "ORD1", 7, 2, "25.00")
	ctx := context.Background()

	rec, err := f.reconciler.CreatePayment(ctx, "ORD1", payment.ChannelWechat, 7)
	require.NoError(t, err)

	payload := wechatSuccess(rec.PaymentNo, "25.00")
	_, err = f.reconciler.HandleCallback(ctx, payment.ChannelWechat, payload)
	require.NoError(t, err)

	out, err := f.reconciler.HandleCallback(ctx, payment.ChannelWechat, payload)
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.False(t, out.Paid)

	history, err := f.machine.History(ctx, "ORD1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCallbackAmountMismatch(t *testing.T) {
	f := newFixture(t)
	f.placeOrder(t, "ORD1", 7, 2, "25.00")
	ctx := context.Background()

	rec, err := f.reconciler.CreatePayment(ctx, "ORD1", payment.ChannelWechat, 7)
	require.NoError(t, err)

	_, err = f.reconciler.HandleCallback(ctx, payment.ChannelWechat, wechatSuccess(rec.PaymentNo, "1.00"))
	require.ErrorIs(t, err, payment.ErrAmountMismatch)

	var mismatch *payment.AmountMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "1", mismatch.Declared.String())
	assert.Equal(t, "25", mismatch.Expected.String())

	// nothing moved
	o, err := f.machine.Get(ctx, "ORD1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPendingPayment, o.Status)
	got, err := f.reconciler.Get(ctx, rec.PaymentNo, 7)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, got.Status)
}

func TestFailureCallbackAllowsRetry(t *testing.T) {
	f := newFixture(t)
	f.placeOrder(t, "ORD1", 7, 2, "25.00")
	ctx := context.Background()

	rec, err := f.reconciler.CreatePayment(ctx, "ORD1", payment.ChannelWechat, 7)
	require.NoError(t, err)

	out, err := f.reconciler.HandleCallback(ctx, payment.ChannelWechat, []byte(fmt.Sprintf(
		`{"out_trade_no":%q,"result_code":"FAIL","err_code_des":"user cancelled"}`, rec.PaymentNo)))
	require.NoError(t, err)
	assert.True(t, out.Failed)

	got, err := f.reconciler.Get(ctx, rec.PaymentNo, 7)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, got.Status)
	assert.Equal(t, "user cancelled", got.FailureReason)

	// order still payable, a fresh attempt gets its own payment no
	o, err := f.machine.Get(ctx, "ORD1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPendingPayment, o.Status)

	rec2, err := f.reconciler.CreatePayment(ctx, "ORD1", payment.ChannelAlipay, 7)
	require.NoError(t, err)
	assert.NotEqual(t, rec.PaymentNo, rec2.PaymentNo)
}

func TestCallbackAfterCancellationIsRefused(t *testing.T) {
	f := newFixture(t)
	f.placeOrder(t, "ORD1", 7, 2, "25.00")
	ctx := context.Background()

	rec, err := f.reconciler.CreatePayment(ctx, "ORD1", payment.ChannelWechat, 7)
	require.NoError(t, err)

	require.NoError(t, f.machine.ChangeStatus(ctx, "ORD1", order.StatusCancelled, "changed my mind", 7))
	require.NoError(t, f.reservations.Release(ctx, "ORD1"))

	_, err = f.reconciler.HandleCallback(ctx, payment.ChannelWechat, wechatSuccess(rec.PaymentNo, "25.00"))
	require.ErrorIs(t, err, order.ErrIllegalTransition)

	// the refused callback must not have confirmed anything
	got, err := f.reconciler.Get(ctx, rec.PaymentNo, 7)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, got.Status)
	o, err := f.machine.Get(ctx, "ORD1")
	require.NoError(t, err)
	assert.True(t, o.PaidAmount.IsZero())
}

func TestRefundApproved(t *testing.T) {
	f := newFixture(t)
	f.placeOrder(t, "ORD1", 7, 2, "25.00")
	ctx := context.Background()

	rec, err := f.reconciler.CreatePayment(ctx, "ORD1", payment.ChannelWechat, 7)
	require.NoError(t, err)
	_, err = f.reconciler.HandleCallback(ctx, payment.ChannelWechat, wechatSuccess(rec.PaymentNo, "25.00"))
	require.NoError(t, err)

	require.NoError(t, f.reconciler.ApplyRefund(ctx, "ORD1", "damaged on arrival", 7))
	o, err := f.machine.Get(ctx, "ORD1")
	require.NoError(t, err)
	require.Equal(t, order.StatusRefundRequested, o.Status)

	require.NoError(t, f.reconciler.ResolveRefund(ctx, "ORD1", true, "approved", 1))

	o, err = f.machine.Get(ctx, "ORD1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusRefunded, o.Status)

	got, err := f.reconciler.Get(ctx, rec.PaymentNo, 7)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRefunded, got.Status)

	// committed stock returned to available
	it, err := f.reservations.Ledger.Item(ctx, f.pool, "SKU-ORD1")
	require.NoError(t, err)
	assert.Equal(t, 4, it.Available)
	assert.Equal(t, 0, it.Locked)
}

func TestRefundDenied(t *testing.T) {
	f := newFixture(t)
	f.placeOrder(t, "ORD1", 7, 2, "25.00")
	ctx := context.Background()

	rec, err := f.reconciler.CreatePayment(ctx, "ORD1", payment.ChannelWechat, 7)
	require.NoError(t, err)
	_, err = f.reconciler.HandleCallback(ctx, payment.ChannelWechat, wechatSuccess(rec.PaymentNo, "25.00"))
	require.NoError(t, err)

	require.NoError(t, f.reconciler.ApplyRefund(ctx, "ORD1", "damaged on arrival", 7))
	require.NoError(t, f.reconciler.ResolveRefund(ctx, "ORD1", false, "outside return window", 1))

	o, err := f.machine.Get(ctx, "ORD1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, o.Status)

	// payment and stock untouched by the denial
	got, err := f.reconciler.Get(ctx, rec.PaymentNo, 7)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSuccess, got.Status)
	it, err := f.reservations.Ledger.Item(ctx, f.pool, "SKU-ORD1")
	require.NoError(t, err)
	assert.Equal(t, 2, it.Available)
}
