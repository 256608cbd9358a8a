package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrTopicNotReady means the topic exists on the controller but reports no partitions yet
var ErrTopicNotReady = errors.New("topic has no partitions yet")

type Clock interface {
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// TopicCreator makes sure a topic exists and has partitions before anyone reads or writes it.
type TopicCreator struct {
	logger *zap.Logger
	dialer Dialer
	clock  Clock
}

func NewTopicCreator(logger *zap.Logger, dialer Dialer, clock Clock) *TopicCreator {
	if clock == nil {
		clock = realClock{}
	}
	return &TopicCreator{
		logger: logger,
		dialer: dialer,
		clock:  clock,
	}
}

// Ensure dials the first reachable broker, asks the controller to create the
// topic (an "already exists" answer is fine), then waits for its partitions.
// An error means the cluster is not usable yet.
func (tc *TopicCreator) Ensure(ctx context.Context, brokers []string, topicName string, partitions int) error {
	if partitions <= 0 {
		partitions = 1
	}

	var conn Conn
	var err error
	for _, addr := range brokers {
		conn, err = tc.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("dial brokers: %w", err)
	}
	if conn == nil {
		return fmt.Errorf("dial brokers: no broker addresses configured")
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("get controller: %w", err)
	}

	controllerAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	controllerConn, err := tc.dialer.DialContext(ctx, "tcp", controllerAddr)
	if err != nil {
		return fmt.Errorf("dial controller %s: %w", controllerAddr, err)
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topicName,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topicName, err)
	}
	tc.logger.Debug("Topic creation request sent", zap.String("topic", topicName))

	return tc.waitForTopic(ctx, conn, topicName)
}

func (tc *TopicCreator) waitForTopic(ctx context.Context, conn Conn, topicName string) error {
	tc.logger.Debug("Waiting for topic initialization...", zap.String("topic", topicName))
	for i := 0; i < 5; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		partitions, err := conn.ReadPartitions(topicName)
		if err == nil && len(partitions) > 0 {
			tc.logger.Info("Topic is ready", zap.String("topic", topicName), zap.Int("partitions", len(partitions)))
			return nil
		}
		tc.clock.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("topic %s: %w", topicName, ErrTopicNotReady)
}
