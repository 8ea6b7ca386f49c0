package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Handler processes one record. Handlers never return an error: a message
// that cannot be processed is the handler's problem to log and count, so the
// consumer can always advance its offsets.
type Handler func(ctx context.Context, key, value []byte)

// Consumer runs one consumer group over one topic and feeds records to a
// handler. Records within a partition are handled in order; offsets are
// committed only after the whole poll was handled.
type Consumer struct {
	client  *kgo.Client
	topic   string
	group   string
	handler Handler
	log     *zerolog.Logger

	running  atomic.Bool
	lastPoll atomic.Int64
}

func NewConsumer(brokers []string, clientID, topic, group string, handler Handler, logger *zerolog.Logger) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer for %s: %w", topic, err)
	}
	compLog := logger.With().Str("component", "KafkaConsumer").Str("topic", topic).Logger()
	return &Consumer{
		client:  client,
		topic:   topic,
		group:   group,
		handler: handler,
		log:     &compLog,
	}, nil
}

// Run polls until ctx is canceled. It is meant to be one goroutine per
// consumer.
func (c *Consumer) Run(ctx context.Context) {
	c.running.Store(true)
	defer c.running.Store(false)
	c.log.Info().Str("group", c.group).Msg("consumer started")

	for {
		fetches := c.client.PollFetches(ctx)
		c.lastPoll.Store(time.Now().UnixNano())
		if fetches.IsClientClosed() {
			c.log.Info().Msg("consumer closed")
			return
		}
		if err := ctx.Err(); err != nil {
			c.log.Info().Msg("consumer stopping")
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.log.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("fetch error")
		})

		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			for _, record := range p.Records {
				c.handler(ctx, record.Key, record.Value)
			}
		})

		if fetches.NumRecords() > 0 {
			if err := c.client.CommitUncommittedOffsets(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.log.Error().Err(err).Msg("offset commit failed")
			}
		}
	}
}

// Running reports whether the poll loop is alive; the health endpoint uses
// it.
func (c *Consumer) Running() bool {
	return c.running.Load()
}

// LastPoll is the time of the most recent poll, zero before the first one.
func (c *Consumer) LastPoll() time.Time {
	ns := c.lastPoll.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (c *Consumer) Close() {
	c.client.Close()
}
