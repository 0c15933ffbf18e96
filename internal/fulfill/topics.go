package fulfill

// All lifecycle events share one topic so per-order ordering holds.
const TopicOrderEvents = "order.events"

// PartitionKey keys messages by order id so every event for one order
// lands on the same partition in order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
