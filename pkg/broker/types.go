package broker

import (
	"context"

	"github.com/segmentio/kafka-go"
)

type Dialer interface {
	DialContext(ctx context.Context, network, address string) (Conn, error)
}

type Conn interface {
	Controller() (kafka.Broker, error)
	Close() error
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
}

// KafkaDialer adapts *kafka.Dialer
type KafkaDialer struct{ *kafka.Dialer }

func NewKafkaDialer() *KafkaDialer {
	return &KafkaDialer{Dialer: kafka.DefaultDialer}
}

func (d *KafkaDialer) DialContext(ctx context.Context, network, address string) (Conn, error) {
	conn, err := d.Dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
