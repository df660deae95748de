// Package memory provides mutex-guarded in-process repositories. They honour
// the same conditional-write contracts as the Postgres implementations and
// back STORE_BACKEND=memory and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/repository"
)

// RideRepository is an in-memory repository.RideRepository.
type RideRepository struct {
	mu    sync.RWMutex
	rides map[string]*domain.Ride
}

var _ repository.RideRepository = (*RideRepository)(nil)

// NewRideRepository creates an empty ride repository.
func NewRideRepository() *RideRepository {
	return &RideRepository{rides: make(map[string]*domain.Ride)}
}

// Create persists a new ride.
func (r *RideRepository) Create(_ context.Context, ride *domain.Ride) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rides[ride.ID]; exists {
		return fmt.Errorf("ride %s: %w", ride.ID, repository.ErrDuplicate)
	}
	r.rides[ride.ID] = copyRide(ride)
	return nil
}

// GetByID retrieves a ride by ID.
func (r *RideRepository) GetByID(_ context.Context, id string) (*domain.Ride, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ride, ok := r.rides[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyRide(ride), nil
}

// TransitionStatus applies change if the ride is still in change.From.
func (r *RideRepository) TransitionStatus(_ context.Context, change domain.StatusChange) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ride, ok := r.rides[change.RideID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if ride.Status != change.From {
		return false, nil
	}
	if change.To == domain.RideStatusDriverAssigned && ride.DriverID != "" {
		return false, nil
	}

	ride.Status = change.To
	ride.SetStageTimestamp(change.To, change.At)
	if change.DriverID != "" {
		ride.DriverID = change.DriverID
	}
	if change.FinalFare != nil {
		fare := *change.FinalFare
		ride.FinalFare = &fare
	}
	if change.CancelReason != "" {
		ride.CancelReason = change.CancelReason
	}
	return true, nil
}

// GetActiveByDriverID returns the driver's in-flight ride.
func (r *RideRepository) GetActiveByDriverID(_ context.Context, driverID string) (*domain.Ride, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active *domain.Ride
	for _, ride := range r.rides {
		if ride.DriverID != driverID || !isActive(ride.Status) {
			continue
		}
		if active == nil || assignedAfter(ride, active) {
			active = ride
		}
	}
	if active == nil {
		return nil, repository.ErrNotFound
	}
	return copyRide(active), nil
}

// ListByStatus returns rides in the given status, oldest first.
func (r *RideRepository) ListByStatus(_ context.Context, status domain.RideStatus, limit int) ([]*domain.Ride, error) {
	if limit <= 0 {
		limit = 100
	}

	r.mu.RLock()
	var rides []*domain.Ride
	for _, ride := range r.rides {
		if ride.Status == status {
			rides = append(rides, copyRide(ride))
		}
	}
	r.mu.RUnlock()

	sort.Slice(rides, func(i, j int) bool {
		return rides[i].RequestedAt.Before(rides[j].RequestedAt)
	})
	if len(rides) > limit {
		rides = rides[:limit]
	}
	return rides, nil
}

// TouchLastNotification stamps the ride's last emergency alert time.
func (r *RideRepository) TouchLastNotification(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ride, ok := r.rides[id]
	if !ok {
		return repository.ErrNotFound
	}
	ride.LastNotification = &at
	return nil
}

func isActive(status domain.RideStatus) bool {
	switch status {
	case domain.RideStatusDriverAssigned,
		domain.RideStatusDriverArriving,
		domain.RideStatusDriverArrived,
		domain.RideStatusInProgress:
		return true
	}
	return false
}

func assignedAfter(a, b *domain.Ride) bool {
	if a.DriverAssignedAt == nil || b.DriverAssignedAt == nil {
		return b.DriverAssignedAt == nil && a.DriverAssignedAt != nil
	}
	return a.DriverAssignedAt.After(*b.DriverAssignedAt)
}

func copyRide(ride *domain.Ride) *domain.Ride {
	c := *ride
	c.FinalFare = copyFloat(ride.FinalFare)
	c.DriverAssignedAt = copyTime(ride.DriverAssignedAt)
	c.DriverArrivingAt = copyTime(ride.DriverArrivingAt)
	c.DriverArrivedAt = copyTime(ride.DriverArrivedAt)
	c.RideStartedAt = copyTime(ride.RideStartedAt)
	c.RideCompletedAt = copyTime(ride.RideCompletedAt)
	c.CancelledAt = copyTime(ride.CancelledAt)
	c.LastNotification = copyTime(ride.LastNotification)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
