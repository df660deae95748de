// Package notify contains NotificationGateway implementations that hand
// notifications to an external delivery pipeline.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ridedispatch/internal/service"
)

const defaultWriteTimeout = 2 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaGateway publishes notifications to a Kafka topic, keyed by recipient
// so one recipient's notifications stay ordered on a partition. Delivery to
// devices is the consumer's job; a successful publish counts as delivered
// on the "kafka" channel.
type KafkaGateway struct {
	writer  messageWriter
	timeout time.Duration
}

var _ service.NotificationGateway = (*KafkaGateway)(nil)

// NewKafkaGateway creates a gateway writing to topic on brokers.
func NewKafkaGateway(brokers []string, topic string) *KafkaGateway {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &KafkaGateway{writer: w, timeout: defaultWriteTimeout}
}

// SendNotification publishes n. A publish failure is reported both as an
// undelivered result and as an error.
func (g *KafkaGateway) SendNotification(ctx context.Context, n service.Notification) (*service.DeliveryResult, error) {
	value, err := json.Marshal(n)
	if err != nil {
		return &service.DeliveryResult{FailedReason: "encode"}, fmt.Errorf("encode notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(n.RecipientID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(n.Type)},
		},
	}
	if err := g.writer.WriteMessages(ctx, msg); err != nil {
		return &service.DeliveryResult{FailedReason: err.Error()}, fmt.Errorf("publish notification: %w", err)
	}
	return &service.DeliveryResult{Delivered: true, DeliveryChannels: []string{"kafka"}}, nil
}

// Close flushes and closes the writer.
func (g *KafkaGateway) Close() error {
	if g.writer == nil {
		return nil
	}
	return g.writer.Close()
}
