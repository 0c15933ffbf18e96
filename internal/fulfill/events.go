package fulfill

import (
	"context"
	"encoding/json"
	"time"
)

const (
	EventOrderCreated   = "OrderCreated"
	EventOrderAccepted  = "OrderAccepted"
	EventOrderRejected  = "OrderRejected"
	EventOrderPreparing = "OrderPreparing"
	EventOrderReady     = "OrderReady"
	EventOrderCompleted = "OrderCompleted"
)

// Envelope is the versioned wrapper every change-stream message travels
// in. Delivery is at-least-once; consumers dedup on EventID or fold
// idempotently on the order id.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// OrderEventPayload accompanies every lifecycle transition.
type OrderEventPayload struct {
	OrderID            string     `json:"order_id"`
	VendorID           string     `json:"vendor_id"`
	BuyerID            string     `json:"buyer_id"`
	Status             Status     `json:"status"`
	SequenceNo         int        `json:"sequence_no"`
	PickupCode         string     `json:"pickup_code,omitempty"`
	EstimatedReadyTime *time.Time `json:"estimated_ready_time,omitempty"`
	Reason             string     `json:"reason,omitempty"`
}

// EventSink is where the engine publishes lifecycle transitions. The
// kafka producer implements it in production; tests record in memory.
type EventSink interface {
	Publish(ctx context.Context, env Envelope)
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
