package order

// Status is the order lifecycle state. The numeric codes are part of the
// wire/storage contract and must not be reordered.
type Status int

const (
	StatusPendingPayment   Status = 1
	StatusPaid             Status = 2
	StatusAwaitingShipment Status = 3
	StatusShipped          Status = 4
	StatusCompleted        Status = 5
	StatusCancelled        Status = 6
	StatusRefundRequested  Status = 7
	StatusRefunded         Status = 8
)

var statusNames = map[Status]string{
	StatusPendingPayment:   "PENDING_PAYMENT",
	StatusPaid:             "PAID",
	StatusAwaitingShipment: "AWAITING_SHIPMENT",
	StatusShipped:          "SHIPPED",
	StatusCompleted:        "COMPLETED",
	StatusCancelled:        "CANCELLED",
	StatusRefundRequested:  "REFUND_REQUESTED",
	StatusRefunded:         "REFUNDED",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// validNext is the single source of truth for transition legality.
// RefundRequested -> Completed is the refund-denied path.
var validNext = map[Status][]Status{
	StatusPendingPayment:   {StatusPaid, StatusCancelled},
	StatusPaid:             {StatusAwaitingShipment, StatusRefundRequested},
	StatusAwaitingShipment: {StatusShipped, StatusRefundRequested},
	StatusShipped:          {StatusCompleted, StatusRefundRequested},
	StatusCompleted:        {StatusRefundRequested},
	StatusRefundRequested:  {StatusRefunded, StatusCompleted},
	StatusCancelled:        {},
	StatusRefunded:         {},
}

func CanTransition(from, to Status) bool {
	for _, s := range validNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Next returns the legal target states from the given state.
func Next(from Status) []Status {
	next := validNext[from]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

func (s Status) Terminal() bool {
	return len(validNext[s]) == 0 && s.Valid()
}
