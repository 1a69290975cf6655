package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/salary-advance-lending/internal/config"
	"github.com/segmentio/kafka-go"
)

// JSONProducer publishes JSON encoded values to a single topic.
// The lending API uses one for pushed C2B confirmations and one for outbound SMS.
type JSONProducer struct {
	logger *slog.Logger
	writer KafkaWriter
	topic  string
}

// NewJSONProducer ensures the topic exists and opens a writer on it.
// Async writers never block the caller; C2B confirmations use a synchronous writer so the webhook only
// acknowledges what Kafka accepted.
func NewJSONProducer(ctx context.Context, logger *slog.Logger, cfg *config.KafkaConfig, topic string, async bool) (*JSONProducer, error) {
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is not configured")
	}

	if err := dialAndEnsureTopic(cfg.Brokers, topic, cfg.NumPartitions, cfg.ReplicationFactor, logger); err != nil {
		return nil, fmt.Errorf("failed to ensure topic %s exists: %w", topic, err)
	}

	acks := kafka.RequireAll
	if async {
		acks = kafka.RequireOne
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: acks,
		Async:        async,
		WriteTimeout: cfg.MaxWait,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("Failed to write messages", "topic", topic, "error", err, "count", len(messages))
			}
		},
	}

	return &JSONProducer{
		logger: logger,
		writer: writer,
		topic:  topic,
	}, nil
}

func (p *JSONProducer) Publish(ctx context.Context, key string, value interface{}) error {
	jsonValue, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message for %s: %w", p.topic, err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: jsonValue,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish message",
			"topic", p.topic,
			"key", key,
			"error", err,
		)
		return fmt.Errorf("failed to publish message to %s: %w", p.topic, err)
	}

	p.logger.Debug("Published message", "topic", p.topic, "key", key)
	return nil
}

func (p *JSONProducer) Close() error {
	p.logger.Info("Closing Kafka producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer for topic %s: %w", p.topic, err)
	}
	return nil
}
