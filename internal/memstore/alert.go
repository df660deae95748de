package memstore

import (
	"context"
	"strconv"
	"sync"
	"time"

	"ridedispatch/internal/redis"
)

// AlertStore is an in-process (ride, user) -> last alert store. Records
// expire after their TTL; Run sweeps expired records periodically.
type AlertStore struct {
	records *ttlMap
	once    sync.Once
}

var _ redis.AlertStoreInterface = (*AlertStore)(nil)

// NewAlertStore creates a new AlertStore. now may be nil.
func NewAlertStore(now func() time.Time) *AlertStore {
	return &AlertStore{records: newTTLMap(now)}
}

func alertKey(rideID, userID string) string {
	return rideID + ":" + userID
}

// Get returns the last alert time, or nil if none is live.
func (s *AlertStore) Get(_ context.Context, rideID, userID string) (*time.Time, error) {
	raw, ok := s.records.Get(alertKey(rideID, userID))
	if !ok {
		return nil, nil
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	t := time.Unix(0, nanos)
	return &t, nil
}

// Set records an alert unconditionally.
func (s *AlertStore) Set(_ context.Context, rideID, userID string, at time.Time, ttl time.Duration) error {
	s.records.Set(alertKey(rideID, userID), strconv.FormatInt(at.UnixNano(), 10), ttl)
	return nil
}

// TryMark records an alert only if no live record exists.
func (s *AlertStore) TryMark(_ context.Context, rideID, userID string, at time.Time, ttl time.Duration) (bool, error) {
	return s.records.SetNX(alertKey(rideID, userID), strconv.FormatInt(at.UnixNano(), 10), ttl), nil
}

// Evict removes an alert record.
func (s *AlertStore) Evict(_ context.Context, rideID, userID string) error {
	s.records.Delete(alertKey(rideID, userID))
	return nil
}

// Run sweeps expired records every interval until ctx is done. It is safe
// to call more than once; only the first call starts a sweeper.
func (s *AlertStore) Run(ctx context.Context, interval time.Duration) {
	s.once.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.records.Sweep()
				}
			}
		}()
	})
}
