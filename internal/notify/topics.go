package notify

const (
	TopicOrderConfirmed  = "notify.order.confirmed"
	TopicPaymentReceived = "notify.order.payment_received"
	TopicTierUpgraded    = "notify.customer.tier_upgraded"
)

var topicByEvent = map[string]string{
	EventOrderConfirmed:  TopicOrderConfirmed,
	EventPaymentReceived: TopicPaymentReceived,
	EventTierUpgraded:    TopicTierUpgraded,
}

// Topics lists every notification topic, for the consumer side.
func Topics() []string {
	return []string{TopicOrderConfirmed, TopicPaymentReceived, TopicTierUpgraded}
}

func TopicFor(eventType string) (string, bool) {
	t, ok := topicByEvent[eventType]
	return t, ok
}

// Partition key = order_id (or user_id), so one entity's events stay ordered.
func PartitionKey(id string) []byte { return []byte(id) }
