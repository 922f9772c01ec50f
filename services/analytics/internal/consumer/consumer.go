// Package consumer drains the ANALYTICS stream into the dispatcher.
package consumer

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/course-platform/internal/platform/analytics"
	"github.com/example/course-platform/internal/platform/natsconn"
)

const durableName = "analytics_sink"

const fetchBackoff = time.Second

// Fetcher is satisfied by a JetStream pull subscription.
type Fetcher interface {
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
}

// Dispatcher handles one message. Its error is logged; the message is
// acked regardless.
type Dispatcher interface {
	Dispatch(msg *nats.Msg) error
}

type Consumer struct {
	sub        Fetcher
	dispatcher Dispatcher
	batchSize  int
	wait       time.Duration
	log        *zap.Logger
}

// New ensures the ANALYTICS stream and binds a durable pull consumer to it.
func New(js nats.JetStreamContext, d Dispatcher, batchSize int, wait time.Duration, log *zap.Logger) (*Consumer, error) {
	if err := natsconn.EnsureStream(js, analytics.StreamConfig()); err != nil {
		return nil, err
	}
	sub, err := js.PullSubscribe(analytics.Subjects, durableName, nats.BindStream(analytics.StreamName))
	if err != nil {
		return nil, err
	}
	return newConsumer(sub, d, batchSize, wait, log), nil
}

func newConsumer(sub Fetcher, d Dispatcher, batchSize int, wait time.Duration, log *zap.Logger) *Consumer {
	if batchSize <= 0 {
		batchSize = 200
	}
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &Consumer{sub: sub, dispatcher: d, batchSize: batchSize, wait: wait, log: log}
}

// Run processes messages until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		msgs, err := c.sub.Fetch(c.batchSize, nats.MaxWait(c.wait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.log.Error("analytics consumer: fetch", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(fetchBackoff):
			}
			continue
		}

		for _, msg := range msgs {
			if err := c.dispatcher.Dispatch(msg); err != nil {
				c.log.Warn("analytics consumer: dispatch", zap.String("subject", msg.Subject), zap.Error(err))
			}
			if err := msg.Ack(); err != nil {
				c.log.Warn("analytics consumer: ack", zap.Error(err))
			}
		}
	}
}
