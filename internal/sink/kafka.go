package sink

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"threatmap/internal/config"
	"threatmap/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes each ok batch as one JSON message keyed by the batch ID.
type Kafka struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

func NewKafka(cfg config.KafkaConfig, logger *slog.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka sink requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka sink requires a topic")
	}
	if logger != nil {
		logger.Info("kafka sink enabled", "brokers", cfg.Brokers, "topic", cfg.Topic)
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newKafka(w, cfg.Topic, logger), nil
}

func newKafka(w messageWriter, topic string, logger *slog.Logger) *Kafka {
	return &Kafka{writer: w, topic: topic, logger: logger}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Push(ctx context.Context, b model.Batch) error {
	if b.Status != model.StatusOK || b.Empty() {
		return nil
	}
	value, err := json.Marshal(b)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(b.ID),
		Value: value,
		Time:  b.FetchedAt,
		Headers: []kafka.Header{
			{Key: "source", Value: []byte(b.Source)},
			{Key: "kind", Value: []byte(b.Kind)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		if k.logger != nil {
			k.logger.Warn("kafka publish failed", "topic", k.topic, "source", b.Source, "err", err)
		}
		return err
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
