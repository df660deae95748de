package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const alertKeyPrefix = "alert:emergency:"

// AlertStore records when a user was last alerted about an emergency ride.
// Records expire after the debounce window, so Redis does the eviction.
type AlertStore struct {
	client *redis.Client
}

// NewAlertStore creates a new AlertStore.
func NewAlertStore(client *redis.Client) *AlertStore {
	return &AlertStore{client: client}
}

func alertKey(rideID, userID string) string {
	return fmt.Sprintf("%s%s:%s", alertKeyPrefix, rideID, userID)
}

// Get returns the last alert time for (rideID, userID), or nil if none is
// recorded inside the window.
func (s *AlertStore) Get(ctx context.Context, rideID, userID string) (*time.Time, error) {
	raw, err := s.client.Get(ctx, alertKey(rideID, userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Not alerted
		}
		return nil, err
	}

	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt alert record %q: %w", raw, err)
	}
	t := time.Unix(0, nanos)
	return &t, nil
}

// Set records an alert unconditionally.
func (s *AlertStore) Set(ctx context.Context, rideID, userID string, at time.Time, ttl time.Duration) error {
	return s.client.Set(ctx, alertKey(rideID, userID), at.UnixNano(), ttl).Err()
}

// TryMark records an alert only if none exists. It reports whether the
// caller won the right to send.
func (s *AlertStore) TryMark(ctx context.Context, rideID, userID string, at time.Time, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, alertKey(rideID, userID), at.UnixNano(), ttl).Result()
}

// Evict removes an alert record.
func (s *AlertStore) Evict(ctx context.Context, rideID, userID string) error {
	return s.client.Del(ctx, alertKey(rideID, userID)).Err()
}
