package events

import (
	"context"
	"encoding/json"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/buttermb/menulink/internal/domain"
	"github.com/buttermb/menulink/pkg/logger"
)

// KafkaConfig holds producer settings
type KafkaConfig struct {
	Brokers  []string
	ClientID string
}

// KafkaSink bridges the in-process bus onto Kafka so dashboards on
// other nodes and downstream consumers see the same stream. Produces
// are async fire-and-forget: the stream is a monitoring surface and
// must never fail a request.
type KafkaSink struct {
	client *kgo.Client
}

// NewKafkaSink creates a Kafka producer sink
func NewKafkaSink(cfg *KafkaConfig) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, err
	}
	return &KafkaSink{client: client}, nil
}

// Produce publishes one event to its topic, keyed by menu id so
// per-menu ordering holds within a partition
func (s *KafkaSink) Produce(event *domain.Event) {
	value, err := json.Marshal(event)
	if err != nil {
		logger.Warn("event marshal failed", zap.String("event_id", event.ID), zap.Error(err))
		return
	}

	record := &kgo.Record{
		Topic: event.Topic,
		Key:   []byte(event.Key()),
		Value: value,
	}
	s.client.Produce(context.Background(), record, func(_ *kgo.Record, err error) {
		if err != nil {
			logger.Warn("event produce failed",
				zap.String("topic", record.Topic),
				zap.String("event_id", event.ID),
				zap.Error(err),
			)
		}
	})
}

// Close flushes and closes the producer
func (s *KafkaSink) Close(ctx context.Context) error {
	if err := s.client.Flush(ctx); err != nil {
		return err
	}
	s.client.Close()
	return nil
}
