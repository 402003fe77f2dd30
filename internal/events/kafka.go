package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Kafka publishes events to a single topic keyed by the logical event topic,
// so downstream consumers can partition by symbol or user.
type Kafka struct {
	writer *kafka.Writer
	log    *zap.Logger
}

func NewKafka(brokers []string, topic string, log *zap.Logger) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		log: log,
	}
}

func (k *Kafka) Publish(topic string, payload any) {
	value, err := json.Marshal(payload)
	if err != nil {
		k.log.Error("marshal kafka event", zap.String("topic", topic), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(topic),
		Value: value,
	}); err != nil {
		k.log.Error("kafka publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
