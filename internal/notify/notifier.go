// Package notify publishes customer notifications after a business
// transaction commits and dispatches them on the consumer side. Publishing is
// fire-and-forget: nothing here can fail the operation that triggered it.
package notify

import (
	"context"
	"time"

	kafkax "github.com/Farid-Ze/alfa-beauty-sub000/internal/kafka"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Notification struct {
	EventType string
	Key       string // order id or user id; partition key and correlation id
	Payload   any
}

type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Notify(context.Context, Notification) {}

// Publisher is the non-blocking side of kafkax.Producer.
type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header) bool
}

type KafkaNotifier struct {
	Producer Publisher
	Service  string
	Logger   *zap.Logger
}

func (k *KafkaNotifier) Notify(ctx context.Context, n Notification) {
	log := k.Logger
	if log == nil {
		log = zap.NewNop()
	}
	topic, ok := TopicFor(n.EventType)
	if !ok {
		log.Warn("unknown notification type", zap.String("event_type", n.EventType))
		return
	}

	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     n.EventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      k.Service,
		TraceID:       traceID(ctx),
		CorrelationID: n.Key,
		Payload:       kafkax.MustMarshal(n.Payload),
	}
	sent := k.Producer.Publish(topic, PartitionKey(n.Key), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(n.EventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	if !sent {
		log.Warn("notification dropped",
			zap.String("event_type", n.EventType),
			zap.String("event_id", ev.EventID),
			zap.String("key", n.Key))
	}
}

// traceID prefers the active span and falls back to the HTTP request id.
func traceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return middleware.GetReqID(ctx)
}
