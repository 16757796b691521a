package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	publishAttempts = 3
	publishBackoff  = 100 * time.Millisecond
)

// KafkaPublisher writes events as JSON to a single topic.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewKafkaPublisher dials brokers with an idempotent sync producer.
func NewKafkaPublisher(brokers []string, topic, clientID string, logger *zap.Logger) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic, logger), nil
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", e.EventType(), err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(e.PartitionKey()),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(e.EventType())},
			{Key: []byte("event-id"), Value: []byte(uuid.NewString())},
			{Key: []byte("timestamp"), Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}

	var lastErr error
	for attempt := 0; attempt < publishAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("publish %s: %w", e.EventType(), err)
		}
		partition, offset, err := p.producer.SendMessage(msg)
		if err == nil {
			p.logger.Debug("event published",
				zap.String("topic", p.topic),
				zap.String("event_type", e.EventType()),
				zap.Int32("partition", partition),
				zap.Int64("offset", offset),
			)
			return nil
		}
		lastErr = err
		p.logger.Warn("publish failed, retrying",
			zap.String("event_type", e.EventType()),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if attempt < publishAttempts-1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("publish %s: %w", e.EventType(), ctx.Err())
			case <-time.After(publishBackoff << attempt):
			}
		}
	}
	return fmt.Errorf("publish %s after %d attempts: %w", e.EventType(), publishAttempts, lastErr)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// LogPublisher only logs events; used when no brokers are configured.
type LogPublisher struct{ logger *zap.Logger }

func NewLogPublisher(logger *zap.Logger) *LogPublisher { return &LogPublisher{logger: logger} }

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.logger.Info("domain event",
		zap.String("event_type", e.EventType()),
		zap.String("key", e.PartitionKey()),
		zap.Any("event", e),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
