package orders

// Status is the order lifecycle state. The happy path is
// pending -> processing -> shipped -> delivered; cancelled and refunded are
// reachable from any non-terminal state, and refund additionally from
// delivered (a shipped-and-received order can still be refunded).
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

var known = map[Status]bool{
	StatusPending:    true,
	StatusProcessing: true,
	StatusShipped:    true,
	StatusDelivered:  true,
	StatusCancelled:  true,
	StatusRefunded:   true,
}

func (s Status) Valid() bool { return known[s] }

// Terminal states accept no further transitions via UpdateStatus; re-applying
// the same status is still a no-op success, and Refund has its own rules.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRefunded
}
