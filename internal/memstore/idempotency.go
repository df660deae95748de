package memstore

import (
	"context"
	"time"

	"ridedispatch/internal/redis"
)

// ResponseCache is the in-process counterpart of redis.ResponseCache.
type ResponseCache struct {
	entries *ttlMap
}

var _ redis.ResponseCacheInterface = (*ResponseCache)(nil)

// NewResponseCache creates a new ResponseCache. now may be nil.
func NewResponseCache(now func() time.Time) *ResponseCache {
	return &ResponseCache{entries: newTTLMap(now)}
}

func (c *ResponseCache) GetResponse(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	return []byte(v), true, nil
}

func (c *ResponseCache) SetResponse(_ context.Context, key string, data []byte, ttl time.Duration) error {
	c.entries.Set(key, string(data), ttl)
	return nil
}

// Sweep drops expired responses.
func (c *ResponseCache) Sweep() int {
	return c.entries.Sweep()
}
