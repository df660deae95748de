package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockStore handles driver offer locks in Redis.
type LockStore struct {
	client *redis.Client
}

// NewLockStore creates a new LockStore.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client}
}

func driverLockKey(driverID string) string {
	return fmt.Sprintf("lock:driver:%s", driverID)
}

// AcquireDriverLock attempts to reserve the driver for holder (a ride ID).
// Returns true if the lock was acquired or is already held by holder.
func (s *LockStore) AcquireDriverLock(ctx context.Context, driverID, holder string, ttl time.Duration) (bool, error) {
	key := driverLockKey(driverID)

	ok, err := s.client.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	current, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET.
		return s.client.SetNX(ctx, key, holder, ttl).Result()
	}
	if err != nil {
		return false, err
	}
	return current == holder, nil
}

// DriverLockHolder returns the current holder of the driver's lock, or ""
// when the driver is not locked.
func (s *LockStore) DriverLockHolder(ctx context.Context, driverID string) (string, error) {
	holder, err := s.client.Get(ctx, driverLockKey(driverID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return holder, err
}

// ReleaseDriverLock releases the lock for the given driver.
func (s *LockStore) ReleaseDriverLock(ctx context.Context, driverID string) error {
	return s.client.Del(ctx, driverLockKey(driverID)).Err()
}
