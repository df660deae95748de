package memstore

import (
	"context"
	"time"

	"ridedispatch/internal/redis"
)

// LockStore is an in-process driver offer lock store.
type LockStore struct {
	locks *ttlMap
}

var _ redis.LockStoreInterface = (*LockStore)(nil)

// NewLockStore creates a new LockStore. now may be nil.
func NewLockStore(now func() time.Time) *LockStore {
	return &LockStore{locks: newTTLMap(now)}
}

// AcquireDriverLock reserves the driver for holder.
func (s *LockStore) AcquireDriverLock(_ context.Context, driverID, holder string, ttl time.Duration) (bool, error) {
	if s.locks.SetNX(driverID, holder, ttl) {
		return true, nil
	}
	current, ok := s.locks.Get(driverID)
	return ok && current == holder, nil
}

// DriverLockHolder returns the current holder, or "".
func (s *LockStore) DriverLockHolder(_ context.Context, driverID string) (string, error) {
	holder, _ := s.locks.Get(driverID)
	return holder, nil
}

// ReleaseDriverLock releases the driver's lock.
func (s *LockStore) ReleaseDriverLock(_ context.Context, driverID string) error {
	s.locks.Delete(driverID)
	return nil
}
