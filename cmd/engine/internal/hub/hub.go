package hub

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/shubham-shewale/vwap-stream/pkg/models"
)

// Subscriber is a live outbound connection
type Subscriber interface {
	ID() string // remote address
	Send(b []byte) error
	Close()
}

// Delivery reports the outcome of one Publish
type Delivery struct {
	Delivered int
	Dropped   int
}

// Hub is the registry of connected subscribers and the broadcaster that fans updates out to them.
type Hub struct {
	clients map[string]Subscriber
	mu      sync.RWMutex
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]Subscriber),
		logger:  logger,
	}
}

// Register adds a subscriber under its remote address
func (h *Hub) Register(client Subscriber) {
	h.mu.Lock()
	prev, exists := h.clients[client.ID()]
	h.clients[client.ID()] = client
	count := len(h.clients)
	h.mu.Unlock()

	// A reused address means the old socket is dead even if its read loop has not noticed yet
	if exists && prev != client {
		prev.Close()
	}
	h.logger.Info("Subscriber connected", zap.String("addr", client.ID()), zap.Int("subscribers", count))
}

// Unregister removes and closes the subscriber. Only the first call for a
// given subscriber has any effect; it reports whether this call removed it.
func (h *Hub) Unregister(client Subscriber) bool {
	h.mu.Lock()
	current, ok := h.clients[client.ID()]
	if ok && current == client {
		delete(h.clients, client.ID())
	} else {
		ok = false
	}
	count := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return false
	}
	client.Close()
	h.logger.Info("Subscriber disconnected", zap.String("addr", client.ID()), zap.Int("subscribers", count))
	return true
}

// Len is the number of registered subscribers
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IDs lists registered subscriber addresses
func (h *Hub) IDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

// Publish encodes the update once and hands it to every registered
// subscriber concurrently, returning after all sends were attempted.
// Send failures only drop the update for that subscriber; the error is
// non-nil only when the update cannot be encoded.
func (h *Hub) Publish(update models.UpdateMessage) (Delivery, error) {
	payload, err := json.Marshal(update)
	if err != nil {
		return Delivery{}, fmt.Errorf("encode update for %s: %w", update.Symbol, err)
	}
	payload = append(payload, '\n')

	// Snapshot so no send runs under the registry lock
	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		outcome Delivery
	)
	for _, c := range targets {
		wg.Add(1)
		go func(c Subscriber) {
			defer wg.Done()
			err := c.Send(payload)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				outcome.Dropped++
				h.logger.Debug("Dropped update for subscriber",
					zap.String("addr", c.ID()), zap.String("symbol", update.Symbol), zap.Error(err))
				return
			}
			outcome.Delivered++
		}(c)
	}
	wg.Wait()

	return outcome, nil
}

// CloseAll unregisters every subscriber, used on shutdown
func (h *Hub) CloseAll() {
	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.Unregister(c)
	}
}
