package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/shubham-shewale/vwap-stream/pkg/models"
)

const defaultChannelPrefix = "vwap."

// RedisClient is the subset of *redis.Client the relay needs
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisRelay republishes every update on a per-symbol Redis channel so other
// processes can follow the feed. Nothing is written to keys.
type RedisRelay struct {
	client RedisClient
	prefix string
}

func NewRedisRelay(client RedisClient, channelPrefix string) *RedisRelay {
	if channelPrefix == "" {
		channelPrefix = defaultChannelPrefix
	}
	return &RedisRelay{client: client, prefix: channelPrefix}
}

// Channel is the pub/sub channel for a symbol
func (r *RedisRelay) Channel(symbol string) string {
	return r.prefix + symbol
}

func (r *RedisRelay) Publish(ctx context.Context, update models.UpdateMessage) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encode update for %s: %w", update.Symbol, err)
	}
	if err := r.client.Publish(ctx, r.Channel(update.Symbol), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", r.Channel(update.Symbol), err)
	}
	return nil
}

func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}
