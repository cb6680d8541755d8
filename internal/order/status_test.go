package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPendingPayment, StatusPaid, true},
		{StatusPendingPayment, StatusCancelled, true},
		{StatusPendingPayment, StatusShipped, false},
		{StatusPaid, StatusAwaitingShipment, true},
		{StatusPaid, StatusRefundRequested, true},
		{StatusPaid, StatusCancelled, false},
		{StatusAwaitingShipment, StatusShipped, true},
		{StatusShipped, StatusCompleted, true},
		{StatusCompleted, StatusRefundRequested, true},
		{StatusRefundRequested, StatusRefunded, true},
		// refund denied returns the order to Completed
		{StatusRefundRequested, StatusCompleted, true},
		{StatusRefundRequested, StatusPaid, false},
		// terminal states go nowhere
		{StatusCancelled, StatusPendingPayment, false},
		{StatusRefunded, StatusRefundRequested, false},
		// self transitions are never legal
		{StatusPaid, StatusPaid, false},
		{StatusShipped, StatusShipped, false},
	}
	for _, c := range cases {
		assert.Equalf(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []Status{StatusCancelled, StatusRefunded} {
		assert.Truef(t, s.Terminal(), "%s", s)
	}
	for _, s := range []Status{StatusPendingPayment, StatusPaid, StatusAwaitingShipment, StatusShipped, StatusCompleted, StatusRefundRequested} {
		assert.Falsef(t, s.Terminal(), "%s", s)
	}
	assert.False(t, Status(0).Terminal())
	assert.False(t, Status(42).Terminal())
}

func TestStatusNames(t *testing.T) {
	assert.Equal(t, "PENDING_PAYMENT", StatusPendingPayment.String())
	assert.Equal(t, "REFUND_REQUESTED", StatusRefundRequested.String())
	assert.Equal(t, "UNKNOWN", Status(0).String())
	assert.False(t, Status(9).Valid())
}

func TestNextIsACopy(t *testing.T) {
	n := Next(StatusPendingPayment)
	assert.ElementsMatch(t, []Status{StatusPaid, StatusCancelled}, n)
	n[0] = StatusShipped
	assert.ElementsMatch(t, []Status{StatusPaid, StatusCancelled}, Next(StatusPendingPayment))
}
