// Package kafka publishes relayed transcripts to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/jdsouz07/lecture-ai/domain"
	"github.com/jdsouz07/lecture-ai/internal/metrics"
)

const eventTypeTranscript = "lecture.transcript"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers []string
	Topic   string
	Enabled bool
}

// Publisher publishes transcript records keyed by session ID, so all
// records of a session land on one partition in order.
type Publisher struct {
	writer  messageWriter
	topic   string
	enabled bool
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a new Kafka publisher. When disabled, records are only logged.
func New(cfg Config, m *metrics.Metrics, logger *zap.Logger) *Publisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info("Kafka disabled, using log-only mode")
		return &Publisher{topic: cfg.Topic, metrics: m, logger: logger}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	p := &Publisher{
		topic:   cfg.Topic,
		enabled: true,
		metrics: m,
		logger:  logger,
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
		// Link reader goroutines must not block on the broker.
		Async:      true,
		Completion: p.completion,
	}

	logger.Info("Kafka publisher initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic))

	return p
}

func (p *Publisher) completion(messages []kafka.Message, err error) {
	for range messages {
		p.metrics.RecordKafkaPublish(p.topic, err)
	}
	if err != nil {
		p.logger.Error("Failed to write to Kafka",
			zap.String("topic", p.topic),
			zap.Int("messages", len(messages)),
			zap.Error(err))
	}
}

// PublishTranscript publishes one transcript record.
func (p *Publisher) PublishTranscript(ctx context.Context, record domain.TranscriptRecord) error {
	if record.EventType == "" {
		record.EventType = eventTypeTranscript
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal transcript record: %w", err)
	}

	p.logger.Debug("Publishing transcript",
		zap.String("topic", p.topic),
		zap.String("sessionID", record.SessionID),
		zap.ByteString("payload", payload))

	if !p.enabled || p.writer == nil {
		p.metrics.RecordKafkaPublish(p.topic, nil)
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(record.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(record.EventType)},
			{Key: "provider", Value: []byte(record.Provider)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.RecordKafkaPublish(p.topic, err)
		return fmt.Errorf("write transcript to kafka: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		p.logger.Error("Error closing Kafka writer", zap.Error(err))
		return err
	}
	return nil
}
