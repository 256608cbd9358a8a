package tests

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/vwap-stream/cmd/engine/internal/gateway"
	"github.com/shubham-shewale/vwap-stream/cmd/engine/internal/hub"
	"github.com/shubham-shewale/vwap-stream/cmd/engine/internal/ingest"
	"github.com/shubham-shewale/vwap-stream/cmd/engine/internal/relay"
	"github.com/shubham-shewale/vwap-stream/cmd/engine/internal/testutils"
	"github.com/shubham-shewale/vwap-stream/cmd/engine/internal/vwap"
	"github.com/shubham-shewale/vwap-stream/pkg/broker"
	"github.com/shubham-shewale/vwap-stream/pkg/config"
	"github.com/shubham-shewale/vwap-stream/pkg/models"
)

func TestEngine_EndToEnd_Flow(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := &config.Config{}
	cfg.Kafka.Brokers = []string{"broker:9092"}
	cfg.Kafka.Topic = "trades"
	cfg.Engine.RetryInterval = 10 * time.Millisecond

	h := hub.NewHub(zap.NewNop())
	acc, err := gateway.Listen("127.0.0.1:0", h, zap.NewNop(), gateway.Options{WriteTimeout: time.Second})
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go acc.Serve(ctx)

	// Two healthy subscribers and one that hangs up before anything is published
	var readers []*bufio.Reader
	for i := 0; i < 2; i++ {
		conn, err := net.Dial("tcp", acc.Addr().String())
		if err != nil {
			t.Fatalf("Dial failed: %v", err)
		}
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		readers = append(readers, bufio.NewReader(conn))
	}
	quitter, err := net.Dial("tcp", acc.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	waitFor(t, func() bool { return h.Len() == 3 }, "Subscribers were not registered")
	quitter.Close()
	waitFor(t, func() bool { return h.Len() == 2 }, "Quitter was not unregistered")

	sub := rdb.Subscribe(ctx, "vwap.AAPL")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("Redis subscribe failed: %v", err)
	}

	msgs := []kafka.Message{
		{Value: []byte(`{"type":"trade","data":[{"s":"AAPL","p":100,"v":1,"t":1},{"s":"AAPL","p":200,"v":1,"t":2}]}`)},
		{Value: []byte(`{"type":"trade","data":[{"s":"AAPL","p":"bad","v":1,"t":3},{"s":"AAPL","p":300,"v":1,"t":4}]}`)},
	}
	// Use Mock Reader because spinning up real Kafka is heavy/complex for unit tests
	reader := &testutils.MockKafkaReader{Messages: msgs, Block: true}
	dialer := &testutils.MockKafkaDialer{FailTimes: 2}

	loop := ingest.NewLoop(cfg, zap.NewNop(), broker.NewTopicCreator(zap.NewNop(), dialer, nil),
		func() ingest.KafkaReader { return reader },
		vwap.NewStore(2, 0), h, relay.NewRedisRelay(rdb, "vwap."))

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	want := []float64{100, 150, 250}
	for idx, r := range readers {
		for i, w := range want {
			line, err := r.ReadString('\n')
			if err != nil {
				t.Fatalf("Subscriber %d: failed to read update %d: %v", idx, i, err)
			}
			var u models.UpdateMessage
			if err := json.Unmarshal([]byte(line), &u); err != nil {
				t.Fatalf("Invalid JSON %q: %v", line, err)
			}
			if u.VWAP == nil || *u.VWAP != w {
				t.Errorf("Subscriber %d update %d: want vwap %v, got %v", idx, i, w, u.VWAP)
			}
		}
	}

	relayed := 0
	timeout := time.After(2 * time.Second)
	for relayed < 3 {
		select {
		case <-sub.Channel():
			relayed++
		case <-timeout:
			t.Fatalf("Expected 3 relayed updates, got %d", relayed)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Unexpected loop error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Ingestion loop did not stop")
	}
	if reader.CloseCount() != 1 {
		t.Error("Kafka reader should be closed on shutdown")
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	for i := 0; i < 100; i++ {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}
