package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/imgshift/internal/config"
)

// intakeHandler handles one inbound file message.
type intakeHandler interface {
	Handle(ctx context.Context, msg kafka.Message) error
}

// client is the part of the Kafka consumer client used here.
type client interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// wbfClient adapts the wbf consumer to client.
type wbfClient struct {
	c *wbfkafka.Consumer
}

func (w wbfClient) Fetch(ctx context.Context) (kafka.Message, error) { return w.c.Fetch(ctx) }

func (w wbfClient) Commit(ctx context.Context, msg kafka.Message) error { return w.c.Commit(ctx, msg) }

// Consumer reads inbound file messages and hands them to the intake
// handler.
type Consumer struct {
	Client   *wbfkafka.Consumer
	client   client
	handler  intakeHandler
	topic    string
	strategy retry.Strategy
	backoff  time.Duration
}

// New creates a new Consumer.
// - cfg: Kafka configuration struct
// - s: retry strategy
// - h: handler for inbound file messages
func New(cfg *config.Kafka, s retry.Strategy, h intakeHandler) *Consumer {
	c := wbfkafka.NewConsumer(cfg.Brokers, cfg.IntakeTopic, cfg.GroupID)

	consumer := newConsumer(wbfClient{c: c}, cfg.IntakeTopic, s, h)
	consumer.Client = c
	return consumer
}

func newConsumer(c client, topic string, s retry.Strategy, h intakeHandler) *Consumer {
	return &Consumer{
		client:   c,
		handler:  h,
		topic:    topic,
		strategy: s,
		backoff:  500 * time.Millisecond,
	}
}

// Consume continuously fetches messages, processes them using the handler,
// and commits offsets after successful processing. It stops gracefully on
// context cancellation.
func (c *Consumer) Consume(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	zlog.Logger.Info().
		Str("topic", c.topic).
		Msg("starting consumer")

	for {
		if ctx.Err() != nil {
			zlog.Logger.Info().Msg("shutdown signal received, stopping consumer")
			return
		}

		var msg kafka.Message
		err := retry.Do(func() error {
			var fetchErr error
			msg, fetchErr = c.client.Fetch(ctx)
			return fetchErr
		}, c.strategy)

		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			zlog.Logger.Err(err).Msg("failed to fetch message")
			select {
			case <-time.After(c.backoff):
			case <-ctx.Done():
			}
			continue
		}

		if err := c.handler.Handle(ctx, msg); err != nil {
			zlog.Logger.Err(err).
				Str("message", string(msg.Value)).
				Msg("failed to take in file")
			continue
		}

		err = retry.Do(func() error {
			return c.client.Commit(ctx, msg)
		}, c.strategy)
		if err != nil {
			zlog.Logger.Err(err).Msg("failed to commit message after retries")
			continue
		}

		zlog.Logger.Info().
			Int64("offset", msg.Offset).
			Msg("message handled successfully")
	}
}
