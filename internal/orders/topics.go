package orders

const (
	TopicOrderCreated   = "order.created"
	TopicOrderCancelled = "order.cancelled"
	TopicOrderStatus    = "order.status"
	TopicPayment        = "order.payment"
	// TopicPaymentEvents carries verified provider notifications waiting to be reconciled.
	TopicPaymentEvents = "payment.events"
)

var topicByEvent = map[string]string{
	EventOrderCreated:       TopicOrderCreated,
	EventOrderCancelled:     TopicOrderCancelled,
	EventOrderExpired:       TopicOrderCancelled,
	EventOrderStatusChanged: TopicOrderStatus,
	EventPaymentCompleted:   TopicPayment,
	EventPaymentFailed:      TopicPayment,
}

func TopicFor(eventType string) string {
	if t, ok := topicByEvent[eventType]; ok {
		return t
	}
	return TopicOrderStatus
}

// Partition key = order_id, supaya semua event 1 order maintain urutan.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
