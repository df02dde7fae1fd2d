package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event is an audit record emitted on auth state changes. Messages are keyed
// by user ID so all events for one account land on the same partition.
type Event struct {
	Type      string            `json:"event_type"`
	UserID    int32             `json:"user_id"`
	CreatedAt time.Time         `json:"created_at"`
	Details   map[string]string `json:"details,omitempty"`
}

type KafkaProducer interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		Async:        true,
		RequiredAcks: kafka.RequireOne,
	}
	return &Producer{writer: writer}
}

func (p *Producer) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal audit event", "event_type", event.Type, "error", err)
		return err
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(int64(event.UserID), 10)),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		slog.Error("failed to publish audit event", "event_type", event.Type, "user_id", event.UserID, "error", err)
		return err
	}
	return nil
}

func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		slog.Error("failed to close Kafka writer", "error", err)
		return err
	}
	return nil
}
