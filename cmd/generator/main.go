package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/vwap-stream/cmd/generator/internal/generator"
	"github.com/shubham-shewale/vwap-stream/pkg/broker"
	"github.com/shubham-shewale/vwap-stream/pkg/config"
)

var basePrices = map[string]float64{
	"AAPL": 150.0, "GOOG": 2800.0, "TSLA": 700.0, "AMZN": 3400.0,
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Best effort: the writer creates the topic on first write if this fails
	topics := broker.NewTopicCreator(logger, broker.NewKafkaDialer(), nil)
	if err := topics.Ensure(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions); err != nil {
		logger.Warn("Topic bootstrap failed", zap.String("topic", cfg.Kafka.Topic), zap.Error(err))
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.Hash{},
		// Send batches to reduce network IO
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}

	gen := generator.NewTradeGenerator(
		logger,
		writer,
		cfg.Generator.Symbols,
		basePrices,
		generator.RealRand{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))},
		generator.RealClock{},
		cfg.Generator.BatchSize,
		cfg.Generator.Interval,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		gen.Run(ctx)
		close(done)
	}()

	<-sigChan
	logger.Info("Shutdown signal received")
	cancel()
	<-done

	// Flush buffered messages before exiting
	if err := writer.Close(); err != nil {
		logger.Error("Error closing Kafka writer", zap.Error(err))
	} else {
		logger.Info("Kafka writer closed cleanly")
	}
}
