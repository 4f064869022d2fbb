package orders

const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status.changed"
	TopicOrderRefunded      = "order.refunded"
	TopicOrderConfirmation  = "order.confirmation.requested"
)

// Partition key = order number, so every event for one order keeps its order.
func PartitionKey(orderNumber string) []byte { return []byte(orderNumber) }
