package notify

import (
	"context"
	"encoding/json"
	"fmt"

	kafkax "github.com/Farid-Ze/alfa-beauty-sub000/internal/kafka"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Sender delivers one notification through an external channel.
type Sender interface {
	Send(ctx context.Context, env Envelope) error
}

type Dispatcher struct {
	Redis   *redis.Client
	Sender  Sender
	Service string
	Logger  *zap.Logger
}

// Handle is installed as the consumer handler. Each event id is delivered at
// most once; a failed send releases the dedup key so the retry can go through.
func (d *Dispatcher) Handle(ctx context.Context, m kafkago.Message) error {
	var env Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return fmt.Errorf("decode envelope at %s/%d: %w", m.Topic, m.Offset, err)
	}
	if _, ok := TopicFor(env.EventType); !ok {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, d.Service, env.EventID)
	first, err := redisx.SetOnce(ctx, d.Redis, dkey, redisx.TTLDedup)
	if err != nil {
		return err
	}
	if !first {
		d.logger().Debug("duplicate notification skipped", zap.String("event_id", env.EventID))
		return nil
	}

	if err := d.Sender.Send(ctx, env); err != nil {
		_ = d.Redis.Del(ctx, dkey).Err()
		return err
	}
	return nil
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// LogSender writes notifications to the log. Real delivery (email, WhatsApp)
// lives outside this service.
type LogSender struct {
	Logger *zap.Logger
}

func (s LogSender) Send(_ context.Context, env Envelope) error {
	payload, err := kafkax.UnwrapPayload[map[string]any](env.Payload)
	if err != nil {
		return err
	}
	s.Logger.Info("notification",
		zap.String("event_type", env.EventType),
		zap.String("event_id", env.EventID),
		zap.String("correlation_id", env.CorrelationID),
		zap.String("trace_id", env.TraceID),
		zap.Any("payload", payload))
	return nil
}
