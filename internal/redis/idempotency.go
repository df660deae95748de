package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyKeyPrefix = "idempotency:"

// ResponseCache keeps serialized HTTP responses for idempotent replays.
type ResponseCache struct {
	client *redis.Client
}

// NewResponseCache creates a new ResponseCache.
func NewResponseCache(client *redis.Client) *ResponseCache {
	return &ResponseCache{client: client}
}

// GetResponse returns the cached payload for key, if any.
func (c *ResponseCache) GetResponse(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, idempotencyKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// SetResponse stores data under key for ttl.
func (c *ResponseCache) SetResponse(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return c.client.Set(ctx, idempotencyKeyPrefix+key, data, ttl).Err()
}
