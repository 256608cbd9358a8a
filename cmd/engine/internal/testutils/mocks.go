package testutils

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/shubham-shewale/vwap-stream/pkg/broker"
	"github.com/shubham-shewale/vwap-stream/pkg/models"
)

// MockSubscriber records every payload it is sent
type MockSubscriber struct {
	IDVal    string
	RawBytes []string
	Closed   int
	// FailWith makes every Send return this error
	FailWith error
	// Delay stalls every Send, simulating a slow socket
	Delay time.Duration
	Mu    sync.Mutex
}

func NewMockSubscriber(id string) *MockSubscriber {
	return &MockSubscriber{IDVal: id}
}

func (m *MockSubscriber) ID() string { return m.IDVal }

func (m *MockSubscriber) Send(b []byte) error {
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.RawBytes = append(m.RawBytes, string(b))
	return nil
}

func (m *MockSubscriber) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed++
}

func (m *MockSubscriber) Received() []string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return append([]string(nil), m.RawBytes...)
}

func (m *MockSubscriber) CloseCount() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Closed
}

type MockKafkaReader struct {
	Messages []kafka.Message
	Index    int
	Mu       sync.Mutex
	// Closed simulates a closed connection or end of stream
	Closed     bool
	CloseCalls int
	// Block makes an exhausted reader wait for ctx instead of returning EOF
	Block bool
}

func (m *MockKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	m.Mu.Lock()
	if m.Closed {
		m.Mu.Unlock()
		return kafka.Message{}, io.EOF
	}
	if m.Index < len(m.Messages) {
		msg := m.Messages[m.Index]
		m.Index++
		m.Mu.Unlock()
		return msg, nil
	}
	block := m.Block
	m.Mu.Unlock()

	if block {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	return kafka.Message{}, io.EOF
}

func (m *MockKafkaReader) Close() error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
	m.CloseCalls++
	return nil
}

func (m *MockKafkaReader) CloseCount() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.CloseCalls
}

type MockKafkaConn struct {
	CreatedTopics []string
	Mu            sync.Mutex
}

func (m *MockKafkaConn) Controller() (kafka.Broker, error) {
	return kafka.Broker{Host: "localhost", Port: 9092}, nil
}
func (m *MockKafkaConn) Close() error { return nil }
func (m *MockKafkaConn) CreateTopics(topics ...kafka.TopicConfig) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	for _, t := range topics {
		m.CreatedTopics = append(m.CreatedTopics, t.Topic)
	}
	return nil
}
func (m *MockKafkaConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	// Simulate "Ready" state immediately
	return []kafka.Partition{{ID: 0}}, nil
}

// MockKafkaDialer refuses the first FailTimes dials, like a broker that is still starting
type MockKafkaDialer struct {
	FailTimes int
	Attempts  int
	ConnSpy   *MockKafkaConn
	Mu        sync.Mutex
}

func (m *MockKafkaDialer) DialContext(ctx context.Context, network, address string) (broker.Conn, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Attempts++
	if m.Attempts <= m.FailTimes {
		return nil, errors.New("dial tcp " + address + ": connection refused")
	}
	if m.ConnSpy == nil {
		m.ConnSpy = &MockKafkaConn{}
	}
	return m.ConnSpy, nil
}

func (m *MockKafkaDialer) AttemptCount() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Attempts
}

// MockRelay records relayed updates
type MockRelay struct {
	Updates []models.UpdateMessage
	Mu      sync.Mutex
}

func (m *MockRelay) Publish(ctx context.Context, update models.UpdateMessage) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Updates = append(m.Updates, update)
	return nil
}
