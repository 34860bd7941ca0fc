// Package kafka publishes normalized events to Kafka topics.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

// ProducerConfig configures a Producer.
type ProducerConfig struct {
	Brokers      []string
	BatchTimeout time.Duration
	// RequireAll waits for every in-sync replica to acknowledge a write.
	RequireAll bool
	// AutoCreateTopics lets the broker create topics on first write.
	AutoCreateTopics bool
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer implements domain.MessageProducer on a kafka-go Writer. The
// topic is chosen per message; messages sharing a key land on the same
// partition.
type Producer struct {
	writer messageWriter
}

var _ domain.MessageProducer = (*Producer)(nil)

// NewProducer creates a Producer for the given brokers.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}
	acks := kafka.RequireOne
	if cfg.RequireAll {
		acks = kafka.RequireAll
	}

	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           acks,
			BatchTimeout:           batchTimeout,
			AllowAutoTopicCreation: cfg.AutoCreateTopics,
		},
	}, nil
}

// Send writes one message synchronously.
func (p *Producer) Send(ctx context.Context, topic string, key, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("kafka: write to %s: %w", topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("kafka: close writer: %w", err)
	}
	return nil
}
