package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/vwap-stream/cmd/engine/internal/vwap"
	"github.com/shubham-shewale/vwap-stream/pkg/config"
	"github.com/shubham-shewale/vwap-stream/pkg/models"
)

// Loop consumes trade batches from Kafka and turns every trade into a VWAP update.
type Loop struct {
	kafka         config.KafkaConfig
	retryInterval time.Duration
	logger        Logger
	topics        TopicEnsurer
	newReader     ReaderFactory
	store         *vwap.Store
	broadcaster   Broadcaster
	relays        []Relay

	state    atomic.Int32
	applied  atomic.Int64
	rejected atomic.Int64
}

func NewLoop(
	cfg *config.Config,
	logger Logger,
	topics TopicEnsurer,
	newReader ReaderFactory,
	store *vwap.Store,
	broadcaster Broadcaster,
	relays ...Relay,
) *Loop {
	retry := cfg.Engine.RetryInterval
	if retry <= 0 {
		retry = 2 * time.Second
	}
	return &Loop{
		kafka:         cfg.Kafka,
		retryInterval: retry,
		logger:        logger,
		topics:        topics,
		newReader:     newReader,
		store:         store,
		broadcaster:   broadcaster,
		relays:        relays,
	}
}

// NewKafkaReader builds the consumer-group reader for the trades topic
func NewKafkaReader(cfg config.KafkaConfig) KafkaReader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
		MaxWait:  cfg.MaxWait,
		// Offsets are committed in the background; a restart may replay up to one interval (at-least-once)
		CommitInterval:    time.Second,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    10 * time.Second,
	})
}

func (l *Loop) State() State { return State(l.state.Load()) }

// Stats returns how many entries were applied and how many were rejected as malformed
func (l *Loop) Stats() (applied, rejected int64) {
	return l.applied.Load(), l.rejected.Load()
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

// Run blocks until ctx is cancelled or the stream ends. The reader is
// always closed before Run returns. Only an unexpected read error is returned.
func (l *Loop) Run(ctx context.Context) error {
	reader, err := l.connect(ctx)
	if err != nil {
		l.setState(StateDisconnected)
		return nil // only cancellation stops connect
	}
	defer func() {
		if err := reader.Close(); err != nil {
			l.logger.Error("Error closing Kafka reader", zap.Error(err))
		}
		l.setState(StateDisconnected)
		l.logger.Info("Kafka reader closed")
	}()

	l.setState(StateConsuming)
	l.logger.Info("Waiting for messages...", zap.String("topic", l.kafka.Topic))
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			l.logger.Error("Kafka Read Error", zap.Error(err))
			return fmt.Errorf("read message: %w", err)
		}

		if _, err := l.HandleMessage(ctx, m); err != nil {
			l.logger.Error("Skipping batch", zap.Error(err),
				zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset))
		}
	}
}

// connect retries forever with a fixed delay until the topic is reachable or ctx ends
func (l *Loop) connect(ctx context.Context) (KafkaReader, error) {
	l.setState(StateConnecting)
	for attempt := 1; ; attempt++ {
		err := l.topics.Ensure(ctx, l.kafka.Brokers, l.kafka.Topic, l.kafka.Partitions)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		l.logger.Warn("Kafka not ready yet, retrying",
			zap.Int("attempt", attempt), zap.Duration("backoff", l.retryInterval), zap.Error(err))

		timer := time.NewTimer(l.retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	reader := l.newReader()
	l.setState(StateConnected)
	l.logger.Info("Kafka reader configured",
		zap.String("topic", l.kafka.Topic), zap.String("group_id", l.kafka.GroupID))
	return reader, nil
}

// HandleMessage applies every valid trade in one batch and publishes an update
// per trade. Malformed entries are logged and skipped; the returned error only
// covers a batch that could not be decoded at all.
func (l *Loop) HandleMessage(ctx context.Context, m kafka.Message) (int, error) {
	batch, err := DecodeBatch(m.Value)
	if err != nil {
		l.rejected.Add(1)
		return 0, err
	}
	if !IsTradeBatch(batch) {
		l.logger.Debug("Received non-trade message, skipping", zap.String("type", batch.Type))
		return 0, nil
	}

	applied := 0
	for i, raw := range batch.Data {
		rec, err := DecodeEntry(raw)
		if err != nil {
			l.rejected.Add(1)
			l.logger.Warn("Skipping malformed trade entry",
				zap.Int("index", i), zap.Int64("offset", m.Offset), zap.Error(err))
			continue
		}

		vwapValue, ok := l.store.Update(rec.Symbol, rec.Price, rec.Volume)
		l.publish(ctx, models.NewUpdate(rec, vwapValue, ok))
		applied++
	}
	l.applied.Add(int64(applied))
	return applied, nil
}

func (l *Loop) publish(ctx context.Context, update models.UpdateMessage) {
	delivery, err := l.broadcaster.Publish(update)
	if err != nil {
		l.logger.Error("Broadcast failed", zap.String("symbol", update.Symbol), zap.Error(err))
	} else if delivery.Dropped > 0 {
		l.logger.Debug("Update dropped for some subscribers",
			zap.String("symbol", update.Symbol), zap.Int("delivered", delivery.Delivered), zap.Int("dropped", delivery.Dropped))
	}

	for _, r := range l.relays {
		if err := r.Publish(ctx, update); err != nil {
			l.logger.Warn("Relay publish failed", zap.String("symbol", update.Symbol), zap.Error(err))
		}
	}
}
