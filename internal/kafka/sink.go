package kafka

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/rizalf/go-pickup-orders/internal/fulfill"
)

// Sink adapts the async producer to the engine's event port. Messages are
// keyed by order ID so one order's events land on one partition in order.
type Sink struct {
	p *Producer
}

func NewSink(p *Producer) *Sink {
	return &Sink{p: p}
}

var _ fulfill.EventSink = (*Sink)(nil)

func (s *Sink) Publish(_ context.Context, env fulfill.Envelope) {
	s.p.Publish(
		fulfill.PartitionKey(env.CorrelationID),
		MustMarshal(env),
		kafka.Header{Key: "x-event-type", Value: []byte(env.EventType)},
		kafka.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	)
}
