// Package kafka wraps the franz-go client behind the bus ports the pipeline
// stages talk to.
package kafka

import (
	"context"
	"fmt"

	"campaign-delivery/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer publishes pipeline messages. One producer is shared by every
// stage; topics are chosen per call.
type Producer struct {
	client *kgo.Client
	log    *zerolog.Logger
}

var _ adapter.BusPublisher = (*Producer)(nil)

func NewProducer(brokers []string, clientID string, logger *zerolog.Logger) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	compLog := logger.With().Str("component", "KafkaProducer").Logger()
	return &Producer{client: client, log: &compLog}, nil
}

// Publish produces all messages and waits for broker acks. Either every
// message is acked or an error is returned; partial acks surface as an
// error so the caller can fail the whole batch.
func (p *Producer) Publish(ctx context.Context, topic string, msgs ...adapter.BusMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	records := make([]*kgo.Record, len(msgs))
	for i, m := range msgs {
		records[i] = &kgo.Record{
			Topic: topic,
			Key:   []byte(m.Key),
			Value: m.Value,
		}
	}
	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() {
	p.client.Close()
}
