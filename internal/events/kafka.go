package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes events to Kafka, one topic per event type under a
// common prefix (e.g. energy-market.bid.submitted). RequireAll acks give
// at-least-once delivery.
type KafkaPublisher struct {
	writer      *kafka.Writer
	topicPrefix string
}

// NewKafkaPublisher creates a publisher for the given brokers.
func NewKafkaPublisher(brokers []string, topicPrefix string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			WriteBackoffMin:        100 * time.Millisecond,
			WriteBackoffMax:        time.Second,
		},
		topicPrefix: topicPrefix,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.Type, err)
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topicPrefix + "." + e.Type,
		Key:   []byte(e.Key),
		Value: data,
	})
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
