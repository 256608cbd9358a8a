package ingest_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/vwap-stream/cmd/engine/internal/hub"
	"github.com/shubham-shewale/vwap-stream/cmd/engine/internal/ingest"
	"github.com/shubham-shewale/vwap-stream/cmd/engine/internal/testutils"
	"github.com/shubham-shewale/vwap-stream/cmd/engine/internal/vwap"
	"github.com/shubham-shewale/vwap-stream/pkg/broker"
	"github.com/shubham-shewale/vwap-stream/pkg/config"
	"github.com/shubham-shewale/vwap-stream/pkg/models"
)

type fixture struct {
	loop       *ingest.Loop
	reader     *testutils.MockKafkaReader
	dialer     *testutils.MockKafkaDialer
	subscriber *testutils.MockSubscriber
	relay      *testutils.MockRelay
	readers    int
}

func newFixture(t *testing.T, windowSize int, msgs ...string) *fixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.Kafka.Brokers = []string{"broker:9092"}
	cfg.Kafka.Topic = "trades"
	cfg.Engine.RetryInterval = 10 * time.Millisecond

	f := &fixture{
		dialer:     &testutils.MockKafkaDialer{},
		subscriber: testutils.NewMockSubscriber("sub-1"),
		relay:      &testutils.MockRelay{},
	}
	var kmsgs []kafka.Message
	for i, m := range msgs {
		kmsgs = append(kmsgs, kafka.Message{Topic: "trades", Offset: int64(i), Value: []byte(m)})
	}
	f.reader = &testutils.MockKafkaReader{Messages: kmsgs}

	h := hub.NewHub(zap.NewNop())
	h.Register(f.subscriber)

	topics := broker.NewTopicCreator(zap.NewNop(), f.dialer, nil)
	newReader := func() ingest.KafkaReader {
		f.readers++
		return f.reader
	}
	f.loop = ingest.NewLoop(cfg, zap.NewNop(), topics, newReader, vwap.NewStore(windowSize, 0), h, f.relay)
	return f
}

func decodeUpdates(t *testing.T, lines []string) []models.UpdateMessage {
	t.Helper()
	out := make([]models.UpdateMessage, 0, len(lines))
	for _, l := range lines {
		var u models.UpdateMessage
		if err := json.Unmarshal([]byte(strings.TrimSpace(l)), &u); err != nil {
			t.Fatalf("Subscriber got invalid JSON %q: %v", l, err)
		}
		out = append(out, u)
	}
	return out
}

func TestLoop_ComputesRollingVWAP(t *testing.T) {
	f := newFixture(t, 2,
		`{"type":"trade","data":[{"s":"AAPL","p":100,"v":1,"t":1000},{"s":"AAPL","p":200,"v":1,"t":2000}]}`,
		`{"type":"trade","data":[{"s":"AAPL","p":300,"v":1,"t":3000}]}`,
	)

	if err := f.loop.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	updates := decodeUpdates(t, f.subscriber.Received())
	if len(updates) != 3 {
		t.Fatalf("Expected 3 updates, got %d", len(updates))
	}
	want := []float64{100, 150, 250}
	for i, u := range updates {
		if u.VWAP == nil || *u.VWAP != want[i] {
			t.Errorf("Update %d: expected vwap %v, got %v", i, want[i], u.VWAP)
		}
	}
	if updates[2].Time != 3000 || updates[2].Price != 300 {
		t.Errorf("Unexpected last update %+v", updates[2])
	}

	if f.reader.CloseCount() != 1 {
		t.Errorf("Reader should be closed exactly once, got %d", f.reader.CloseCount())
	}
	if f.loop.State() != ingest.StateDisconnected {
		t.Errorf("Expected disconnected state after exit, got %s", f.loop.State())
	}
	if len(f.relay.Updates) != 3 {
		t.Errorf("Relay should see every update, got %d", len(f.relay.Updates))
	}
}

func TestLoop_MalformedRecordsAreSkipped(t *testing.T) {
	f := newFixture(t, 50,
		`{"type":"trade","data":[{"s":"AAPL","p":100,"v":1,"t":1},{"s":"AAPL","p":"oops","v":1,"t":2},{"s":"TSLA","p":700,"v":2,"t":3}]}`,
		`{broken-json`,
		`{"type":"ping"}`,
		`{"type":"trade","data":[{"s":"AAPL","p":300,"v":1,"t":4}]}`,
	)

	f.loop.Run(context.Background())

	updates := decodeUpdates(t, f.subscriber.Received())
	if len(updates) != 3 {
		t.Fatalf("Expected 3 updates from valid entries, got %d", len(updates))
	}
	if updates[1].Symbol != "TSLA" {
		t.Errorf("Entry after the malformed one should still be processed, got %s", updates[1].Symbol)
	}
	if updates[2].VWAP == nil || *updates[2].VWAP != 200 {
		t.Errorf("Batch after the broken one should be processed, got %v", updates[2].VWAP)
	}

	applied, rejected := f.loop.Stats()
	if applied != 3 || rejected != 2 {
		t.Errorf("Expected 3 applied / 2 rejected, got %d / %d", applied, rejected)
	}
}

func TestLoop_OverflowingTradeDoesNotSilenceSymbol(t *testing.T) {
	f := newFixture(t, 2,
		`{"type":"trade","data":[{"s":"AAPL","p":1e200,"v":1e200,"t":1},{"s":"AAPL","p":100,"v":1,"t":2}]}`,
		`{"type":"trade","data":[{"s":"AAPL","p":100,"v":1,"t":3},{"s":"AAPL","p":100,"v":1,"t":4},{"s":"AAPL","p":200,"v":1,"t":5}]}`,
	)

	f.loop.Run(context.Background())

	updates := decodeUpdates(t, f.subscriber.Received())
	if len(updates) != 4 {
		t.Fatalf("Expected 4 updates after the overflowing entry, got %d", len(updates))
	}
	want := []float64{100, 100, 100, 150}
	for i, u := range updates {
		if u.VWAP == nil || *u.VWAP != want[i] {
			t.Errorf("Update %d: expected vwap %v, got %v", i, want[i], u.VWAP)
		}
	}

	applied, rejected := f.loop.Stats()
	if applied != 4 || rejected != 1 {
		t.Errorf("Expected 4 applied / 1 rejected, got %d / %d", applied, rejected)
	}
}

func TestLoop_ZeroVolumePublishesNullVWAP(t *testing.T) {
	f := newFixture(t, 50, `{"type":"trade","data":[{"s":"GOOG","p":100,"v":0,"t":1}]}`)

	f.loop.Run(context.Background())

	updates := decodeUpdates(t, f.subscriber.Received())
	if len(updates) != 1 || updates[0].VWAP != nil {
		t.Errorf("Expected a single update with null vwap, got %+v", updates)
	}
}

func TestLoop_RetriesUntilBrokerReachable(t *testing.T) {
	f := newFixture(t, 50)
	f.dialer.FailTimes = 3

	if err := f.loop.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	// 3 refused dials, then broker + controller
	if got := f.dialer.AttemptCount(); got != 5 {
		t.Errorf("Expected 5 dial attempts, got %d", got)
	}
	if f.readers != 1 {
		t.Errorf("Reader should be opened once after connecting, got %d", f.readers)
	}
	if len(f.dialer.ConnSpy.CreatedTopics) != 1 || f.dialer.ConnSpy.CreatedTopics[0] != "trades" {
		t.Errorf("Expected topic bootstrap for 'trades', got %v", f.dialer.ConnSpy.CreatedTopics)
	}
}

func TestLoop_CancelWhileConnecting(t *testing.T) {
	f := newFixture(t, 50)
	f.dialer.FailTimes = 1 << 30

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	if err := f.loop.Run(ctx); err != nil {
		t.Fatalf("Cancellation should not be an error: %v", err)
	}
	if f.readers != 0 {
		t.Error("Reader must not be opened while the broker is unreachable")
	}
	if f.dialer.AttemptCount() < 2 {
		t.Errorf("Expected repeated attempts, got %d", f.dialer.AttemptCount())
	}
}

func TestLoop_CancelWhileConsuming(t *testing.T) {
	f := newFixture(t, 50, `{"type":"trade","data":[{"s":"AAPL","p":1,"v":1,"t":1}]}`)
	f.reader.Block = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- f.loop.Run(ctx) }()

	// Poll until the first update went through
	for i := 0; i < 50 && len(f.subscriber.Received()) == 0; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	if f.loop.State() != ingest.StateConsuming {
		t.Errorf("Expected consuming state, got %s", f.loop.State())
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean exit, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if f.reader.CloseCount() != 1 {
		t.Error("Reader should be closed on cancellation")
	}
}
