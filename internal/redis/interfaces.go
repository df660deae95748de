package redis

import (
	"context"
	"time"

	"ridedispatch/internal/domain"
)

// GeoIndexInterface is the radius-query contract shared by drivers and users.
type GeoIndexInterface interface {
	Update(ctx context.Context, kind domain.EntityKind, id string, p domain.Point) error
	Nearby(ctx context.Context, kind domain.EntityKind, p domain.Point, radiusKm float64, limit int) ([]domain.Nearby, error)
	Remove(ctx context.Context, kind domain.EntityKind, id string) error
}

// LockStoreInterface defines the interface for driver offer locks.
type LockStoreInterface interface {
	AcquireDriverLock(ctx context.Context, driverID, holder string, ttl time.Duration) (bool, error)
	DriverLockHolder(ctx context.Context, driverID string) (string, error)
	ReleaseDriverLock(ctx context.Context, driverID string) error
}

// AlertStoreInterface is a (ride, user) -> last alert store with TTL
// eviction. TryMark reserves a send, Set records a delivery, Get reads the
// last one and Evict forgets it.
type AlertStoreInterface interface {
	Get(ctx context.Context, rideID, userID string) (*time.Time, error)
	Set(ctx context.Context, rideID, userID string, at time.Time, ttl time.Duration) error
	TryMark(ctx context.Context, rideID, userID string, at time.Time, ttl time.Duration) (bool, error)
	Evict(ctx context.Context, rideID, userID string) error
}

// ResponseCacheInterface stores replayable HTTP responses by key.
type ResponseCacheInterface interface {
	GetResponse(ctx context.Context, key string) ([]byte, bool, error)
	SetResponse(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// Ensure concrete types implement interfaces.
var (
	_ GeoIndexInterface   = (*GeoIndex)(nil)
	_ LockStoreInterface  = (*LockStore)(nil)
	_ AlertStoreInterface = (*AlertStore)(nil)

	_ ResponseCacheInterface = (*ResponseCache)(nil)
)
