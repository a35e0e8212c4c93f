package kafka

import (
	"context"
	"errors"
	"hash/fnv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler returns nil only when processing succeeded and the offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

// retryBackoff is the pause a worker takes after a failed message.
const retryBackoff = 200 * time.Millisecond

type Consumer struct {
	r       *kafka.Reader
	workers int
	log     *zap.Logger
}

func NewConsumer(brokers []string, group string, topics []string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{r: r, workers: workers, log: log}
}

// Start fetches until ctx is cancelled. Messages with the same key always go
// to the same worker, so events for one order are handled in order. Start
// returns after every worker has drained its queue.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	queues := make([]chan kafka.Message, c.workers)
	var g errgroup.Group
	for i := range queues {
		q := make(chan kafka.Message, 128)
		queues[i] = q
		g.Go(func() error {
			for m := range q {
				c.handle(ctx, h, m)
			}
			return nil
		})
	}
	closeAll := func() {
		for _, q := range queues {
			close(q)
		}
		_ = g.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			closeAll()
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		select {
		case queues[c.slot(m.Key)] <- m:
		case <-ctx.Done():
			closeAll()
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) {
	fields := []zap.Field{
		zap.String("topic", m.Topic),
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
	}
	if err := h(ctx, m); err != nil {
		// left uncommitted so the group redelivers it after a rebalance or restart
		c.log.Warn("handler failed", append(fields, zap.Error(err))...)
		time.Sleep(retryBackoff)
		return
	}
	if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.log.Warn("commit failed", append(fields, zap.Error(err))...)
	}
}

func (c *Consumer) slot(key []byte) int {
	if len(key) == 0 || c.workers == 1 {
		return 0
	}
	f := fnv.New32a()
	_, _ = f.Write(key)
	return int(f.Sum32() % uint32(c.workers))
}
