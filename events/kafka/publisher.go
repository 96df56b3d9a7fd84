/*
Package kafka publishes voucher lifecycle events to Kafka.

PURPOSE:
  Implements ledger.EventPublisher on top of segmentio/kafka-go. The
  service publishes after the atomic unit commits, so downstream
  consumers never see events for rolled-back vouchers.

TOPICS:
  ledger.voucher.posted   - voucher entries written to the ledger
  ledger.voucher.reversed - voucher entries reversed

Publish failures are returned to the caller; the service logs them and
moves on rather than failing the already-committed unit.
*/
package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
)

// Publisher writes JSON-encoded events to Kafka.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a publisher against the given brokers. The topic
// is chosen per message.
func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Publish sends one event to the topic.
func (p *Publisher) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Value: data,
	})
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
