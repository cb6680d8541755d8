package order

const (
	TopicOrderCreated       = "order.created"
	TopicOrderPaid          = "order.paid"
	TopicOrderCancelled     = "order.cancelled"
	TopicReservationExpired = "order.reservation.expired"
	TopicRefundRequested    = "order.refund.requested"
	TopicOrderRefunded      = "order.refunded"
)

// Topics lists every lifecycle topic, for consumers that follow all of them.
func Topics() []string {
	return []string{
		TopicOrderCreated,
		TopicOrderPaid,
		TopicOrderCancelled,
		TopicReservationExpired,
		TopicRefundRequested,
		TopicOrderRefunded,
	}
}

// PartitionKey keeps all events of one order on one partition, in order.
func PartitionKey(orderNo string) []byte { return []byte(orderNo) }
