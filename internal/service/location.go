package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/geo"
	"ridedispatch/internal/observability"
	"ridedispatch/internal/redis"
	"ridedispatch/internal/repository"
)

// UpdatedPosition is the result of a location update. Bearing is nil until
// the driver has two distinct points.
type UpdatedPosition struct {
	DriverID           string        `json:"driver_id"`
	Location           domain.Point  `json:"location"`
	PreLocation        *domain.Point `json:"pre_location,omitempty"`
	Bearing            *float64      `json:"bearing,omitempty"`
	LastLocationUpdate time.Time     `json:"last_location_update"`
}

// CorridorTrigger starts emergency corridor detection for a moving vehicle.
type CorridorTrigger interface {
	TriggerForDriver(ctx context.Context, ride *domain.Ride, pos *UpdatedPosition)
}

// LocationTracker ingests driver and user positions.
type LocationTracker struct {
	driverRepo repository.DriverRepository
	rideRepo   repository.RideRepository
	geoIndex   redis.GeoIndexInterface
	logger     *slog.Logger
	now        func() time.Time
	locks      keyedMutex
	corridor   CorridorTrigger
}

// NewLocationTracker creates a new LocationTracker.
func NewLocationTracker(
	driverRepo repository.DriverRepository,
	rideRepo repository.RideRepository,
	geoIndex redis.GeoIndexInterface,
	logger *slog.Logger,
) *LocationTracker {
	return &LocationTracker{
		driverRepo: driverRepo,
		rideRepo:   rideRepo,
		geoIndex:   geoIndex,
		logger:     logger,
		now:        time.Now,
	}
}

// SetCorridorTrigger wires emergency corridor detection into location
// ingestion. Without it no corridor work is scheduled.
func (t *LocationTracker) SetCorridorTrigger(c CorridorTrigger) {
	t.corridor = c
}

// SaveCoordinates records a new position for the driver. The previous
// current point becomes the driver's previous point in the same write, and
// updates for one driver never interleave.
func (t *LocationTracker) SaveCoordinates(ctx context.Context, driverID string, p domain.Point) (*UpdatedPosition, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	if err := geo.ValidatePoint(p.Lat, p.Lng); err != nil {
		observability.LocationUpdatesTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}

	unlock := t.locks.Lock(driverID)
	pos, err := t.swap(ctx, driverID, p)
	unlock()
	if err != nil {
		observability.LocationUpdatesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	observability.LocationUpdatesTotal.WithLabelValues("ok").Inc()

	if pos.Bearing != nil && t.corridor != nil {
		t.maybeTriggerCorridor(ctx, pos)
	}
	return pos, nil
}

func (t *LocationTracker) swap(ctx context.Context, driverID string, p domain.Point) (*UpdatedPosition, error) {
	res, err := t.driverRepo.SwapLocation(ctx, driverID, p, t.now())
	if err != nil {
		return nil, err
	}

	// The repository write is the record of truth; a failed index write is
	// repaired by the next update.
	if err := t.geoIndex.Update(ctx, domain.EntityDriver, driverID, res.Current); err != nil {
		observability.LocationUpdatesTotal.WithLabelValues("index_error").Inc()
		t.logger.WarnContext(ctx, "driver geo index update failed", "driver_id", driverID, "error", err)
	}

	pos := &UpdatedPosition{
		DriverID:           driverID,
		Location:           res.Current,
		PreLocation:        res.Previous,
		LastLocationUpdate: res.UpdatedAt,
	}
	if res.Previous != nil && !res.Previous.Equal(res.Current) {
		b := geo.Bearing(res.Previous.Lat, res.Previous.Lng, res.Current.Lat, res.Current.Lng)
		pos.Bearing = &b
	}
	return pos, nil
}

func (t *LocationTracker) maybeTriggerCorridor(ctx context.Context, pos *UpdatedPosition) {
	ride, err := t.rideRepo.GetActiveByDriverID(ctx, pos.DriverID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			t.logger.WarnContext(ctx, "active ride lookup failed", "driver_id", pos.DriverID, "error", err)
		}
		return
	}
	if !ride.IsEmergency() {
		return
	}
	t.corridor.TriggerForDriver(ctx, ride, pos)
}

// CalculateDistance returns the Haversine distance between two points in km.
func (t *LocationTracker) CalculateDistance(p1, p2 domain.Point) float64 {
	return geo.Haversine(p1.Lat, p1.Lng, p2.Lat, p2.Lng)
}

// SetDriverOnline marks the driver online. A driver coming back online
// becomes available; one already online on a ride stays claimed.
func (t *LocationTracker) SetDriverOnline(ctx context.Context, driverID string) error {
	if driverID == "" {
		return ErrInvalidDriverID
	}
	if _, err := t.driverRepo.SetOnline(ctx, driverID, true); err != nil {
		return err
	}

	driver, err := t.driverRepo.GetByID(ctx, driverID)
	if err != nil {
		return err
	}
	if driver.Location != nil {
		return t.geoIndex.Update(ctx, domain.EntityDriver, driverID, *driver.Location)
	}
	return nil
}

// SetDriverOffline marks the driver offline and removes it from the geo
// index. A driver on an active ride cannot go offline.
func (t *LocationTracker) SetDriverOffline(ctx context.Context, driverID string) error {
	if driverID == "" {
		return ErrInvalidDriverID
	}

	if _, err := t.rideRepo.GetActiveByDriverID(ctx, driverID); err == nil {
		return ErrDriverHasActiveRide
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	ok, err := t.driverRepo.SetOnline(ctx, driverID, false)
	if err != nil {
		return err
	}
	if !ok {
		// Claimed between the ride lookup and the update.
		return ErrDriverHasActiveRide
	}
	return t.geoIndex.Remove(ctx, domain.EntityDriver, driverID)
}

// SaveUserCoordinates records a passenger's last known position so the
// user can be found by corridor detection.
func (t *LocationTracker) SaveUserCoordinates(ctx context.Context, userID string, p domain.Point) error {
	if userID == "" {
		return ErrInvalidUserID
	}
	if err := geo.ValidatePoint(p.Lat, p.Lng); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	return t.geoIndex.Update(ctx, domain.EntityUser, userID, p)
}

// RemoveUser drops a user's position from the geo index.
func (t *LocationTracker) RemoveUser(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidUserID
	}
	return t.geoIndex.Remove(ctx, domain.EntityUser, userID)
}

// keyedMutex serializes work per key. Entries are reference counted and
// removed when the last holder unlocks.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
