package ingest

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/vwap-stream/cmd/engine/internal/hub"
	"github.com/shubham-shewale/vwap-stream/pkg/models"
)

// Logger abstracts the logging library
type Logger interface {
	Info(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Debug(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
}

// KafkaReader abstracts the input stream
type KafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// ReaderFactory opens the consumer once the bus is reachable
type ReaderFactory func() KafkaReader

// TopicEnsurer checks that the bus is up and the topic usable
type TopicEnsurer interface {
	Ensure(ctx context.Context, brokers []string, topic string, partitions int) error
}

// Broadcaster fans an update out to live subscribers
type Broadcaster interface {
	Publish(update models.UpdateMessage) (hub.Delivery, error)
}

// Relay forwards updates to an external channel (e.g. Redis pub/sub)
type Relay interface {
	Publish(ctx context.Context, update models.UpdateMessage) error
}
