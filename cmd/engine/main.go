package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shubham-shewale/vwap-stream/cmd/engine/internal/gateway"
	"github.com/shubham-shewale/vwap-stream/cmd/engine/internal/hub"
	"github.com/shubham-shewale/vwap-stream/cmd/engine/internal/ingest"
	"github.com/shubham-shewale/vwap-stream/cmd/engine/internal/relay"
	"github.com/shubham-shewale/vwap-stream/cmd/engine/internal/vwap"
	"github.com/shubham-shewale/vwap-stream/pkg/broker"
	"github.com/shubham-shewale/vwap-stream/pkg/config"
)

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

	// Engine state lives here and is handed to the loops explicitly
	store := vwap.NewStore(cfg.Engine.WindowSize, cfg.Engine.ResyncEvery)
	wsHub := hub.NewHub(logger)

	var relays []ingest.Relay
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redisRelay := relay.NewRedisRelay(rdb, cfg.Redis.ChannelPrefix)
		if err := redisRelay.Ping(context.Background()); err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisRelay.Close()
		relays = append(relays, redisRelay)
	}

	opts := gateway.Options{
		WriteTimeout: cfg.Gateway.WriteTimeout,
		SendBuffer:   cfg.Gateway.SendBuffer,
		PingPeriod:   cfg.Gateway.PingPeriod,
	}
	acceptor, err := gateway.Listen(cfg.Gateway.ListenAddr, wsHub, logger, opts)
	if err != nil {
		logger.Fatal("Failed to bind subscriber listener", zap.String("addr", cfg.Gateway.ListenAddr), zap.Error(err))
	}

	topics := broker.NewTopicCreator(logger, broker.NewKafkaDialer(), nil)
	loop := ingest.NewLoop(cfg, logger, topics,
		func() ingest.KafkaReader { return ingest.NewKafkaReader(cfg.Kafka) },
		store, wsHub, relays...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := acceptor.Serve(ctx); err != nil {
			logger.Error("Subscriber listener stopped", zap.Error(err))
			cancel()
		}
	}()

	var httpServer *gateway.HTTPServer
	if cfg.Gateway.HTTPAddr != "" {
		httpServer = gateway.NewHTTPServer(cfg.Gateway.HTTPAddr, wsHub, store, loop, logger, opts)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := httpServer.Start(); err != nil {
				logger.Error("HTTP server stopped", zap.Error(err))
				cancel()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop.Run(ctx); err != nil {
			logger.Error("Ingestion stopped", zap.Error(err))
		}
		// Nothing left to broadcast once ingestion is over
		cancel()
	}()

	logger.Info("Engine started",
		zap.Int("window_size", cfg.Engine.WindowSize),
		zap.String("subscriber_addr", acceptor.Addr().String()),
		zap.Strings("brokers", cfg.Kafka.Brokers))

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, stopping engine...")
	case <-ctx.Done():
	}
	cancel()

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown error", zap.Error(err))
		}
		shutdownCancel()
	}

	logger.Info("Waiting for loops to drain...")
	wg.Wait()

	logger.Info("Closing subscribers...", zap.Int("subscribers", wsHub.Len()))
	wsHub.CloseAll()

	logger.Info("Engine exited cleanly")
}
