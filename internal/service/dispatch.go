package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/geo"
	"ridedispatch/internal/observability"
	"ridedispatch/internal/redis"
	"ridedispatch/internal/repository"
)

// DispatchConfig tunes candidate search and offer fan-out.
type DispatchConfig struct {
	RadiusKm          float64       // default search radius for REGULAR rides
	EmergencyRadiusKm float64       // default search radius for EMERGENCY rides
	OfferFanout       int           // drivers offered each ride, nearest first
	OfferTTL          time.Duration // how long an offer reserves a driver
	SearchLimit       int           // max geo hits examined per search
	SendConcurrency   int           // parallel gateway calls per fan-out
}

// DefaultDispatchConfig returns the default dispatch configuration.
func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		RadiusKm:          5.0,
		EmergencyRadiusKm: 10.0,
		OfferFanout:       5,
		OfferTTL:          30 * time.Second,
		SearchLimit:       50,
		SendConcurrency:   8,
	}
}

func (c DispatchConfig) withDefaults() DispatchConfig {
	d := DefaultDispatchConfig()
	if c.RadiusKm <= 0 {
		c.RadiusKm = d.RadiusKm
	}
	if c.EmergencyRadiusKm <= 0 {
		c.EmergencyRadiusKm = d.EmergencyRadiusKm
	}
	if c.OfferFanout <= 0 {
		c.OfferFanout = d.OfferFanout
	}
	if c.OfferTTL <= 0 {
		c.OfferTTL = d.OfferTTL
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = d.SearchLimit
	}
	if c.SendConcurrency <= 0 {
		c.SendConcurrency = d.SendConcurrency
	}
	return c
}

// DriverSearch describes a candidate lookup around a point.
type DriverSearch struct {
	Location    domain.Point
	RadiusKm    float64            // 0 picks the default for the vehicle type
	VehicleType domain.VehicleType // empty means EMERGENCY if Emergency, else REGULAR
	Emergency   bool
	Limit       int // 0 means no limit
}

// AvailableDriver is a candidate with its distance to the search point.
type AvailableDriver struct {
	Driver     *domain.Driver `json:"driver"`
	DistanceKm float64        `json:"distance_km"`
}

// OfferStatus is the resolution of a dispatch offer.
type OfferStatus string

const (
	OfferPending   OfferStatus = "PENDING"
	OfferAccepted  OfferStatus = "ACCEPTED"
	OfferExpired   OfferStatus = "EXPIRED"
	OfferCancelled OfferStatus = "CANCELLED"
)

// DispatchOffer is the ephemeral record of a ride being offered to drivers.
type DispatchOffer struct {
	RideID       string      `json:"ride_id"`
	CandidateIDs []string    `json:"candidate_ids"` // nearest first
	CreatedAt    time.Time   `json:"created_at"`
	ExpiresAt    time.Time   `json:"expires_at"`
	Status       OfferStatus `json:"status"`
	AcceptedBy   string      `json:"accepted_by,omitempty"`
}

// DispatchEngine finds candidate drivers, offers rides and performs the
// race-safe assignment of one driver to one ride.
type DispatchEngine struct {
	rideRepo     repository.RideRepository
	driverRepo   repository.DriverRepository
	geoIndex     redis.GeoIndexInterface
	lockStore    redis.LockStoreInterface
	stateMachine *StateMachine
	gateway      NotificationGateway
	logger       *slog.Logger
	cfg          DispatchConfig
	now          func() time.Time

	mu     sync.Mutex
	offers map[string]*DispatchOffer
}

// NewDispatchEngine creates a new DispatchEngine.
func NewDispatchEngine(
	rideRepo repository.RideRepository,
	driverRepo repository.DriverRepository,
	geoIndex redis.GeoIndexInterface,
	lockStore redis.LockStoreInterface,
	stateMachine *StateMachine,
	gateway NotificationGateway,
	logger *slog.Logger,
	cfg DispatchConfig,
) *DispatchEngine {
	return &DispatchEngine{
		rideRepo:     rideRepo,
		driverRepo:   driverRepo,
		geoIndex:     geoIndex,
		lockStore:    lockStore,
		stateMachine: stateMachine,
		gateway:      gateway,
		logger:       logger,
		cfg:          cfg.withDefaults(),
		now:          time.Now,
		offers:       make(map[string]*DispatchOffer),
	}
}

// FindAvailableDrivers returns online, available drivers whose vehicle type
// matches the request, within the radius, nearest first.
func (e *DispatchEngine) FindAvailableDrivers(ctx context.Context, search DriverSearch) ([]AvailableDriver, error) {
	if err := geo.ValidatePoint(search.Location.Lat, search.Location.Lng); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	if search.Limit < 0 {
		return nil, ErrInvalidLimit
	}

	vehicleType := search.VehicleType
	if vehicleType == "" {
		vehicleType = domain.VehicleTypeRegular
		if search.Emergency {
			vehicleType = domain.VehicleTypeEmergency
		}
	}
	if !vehicleType.IsValid() {
		return nil, ErrInvalidVehicleType
	}
	emergency := search.Emergency || vehicleType == domain.VehicleTypeEmergency

	radiusKm := search.RadiusKm
	switch {
	case math.IsNaN(radiusKm) || math.IsInf(radiusKm, 0) || radiusKm < 0:
		return nil, ErrInvalidRadius
	case radiusKm == 0 && emergency:
		radiusKm = e.cfg.EmergencyRadiusKm
	case radiusKm == 0:
		radiusKm = e.cfg.RadiusKm
	}

	hits, err := e.geoIndex.Nearby(ctx, domain.EntityDriver, search.Location, radiusKm, e.cfg.SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("driver radius query: %w", err)
	}
	if len(hits) == 0 {
		return []AvailableDriver{}, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	drivers, err := e.driverRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]AvailableDriver, 0, len(hits))
	for _, h := range hits {
		driver, ok := drivers[h.ID]
		if !ok || !driver.CanTakeRides() {
			continue
		}
		if !vehicleCompatible(driver.VehicleType, vehicleType) {
			continue
		}
		out = append(out, AvailableDriver{Driver: driver, DistanceKm: h.DistanceKm})
		if search.Limit > 0 && len(out) == search.Limit {
			break
		}
	}
	return out, nil
}

// GetAvailableDriversForRide searches around the ride's pickup with the
// radius that fits its vehicle type.
func (e *DispatchEngine) GetAvailableDriversForRide(ctx context.Context, rideID string) ([]AvailableDriver, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	ride, err := e.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	return e.FindAvailableDrivers(ctx, DriverSearch{
		Location:    ride.Pickup,
		VehicleType: ride.VehicleType,
		Emergency:   ride.IsEmergency(),
	})
}

// DistributeRideOffers pushes the ride to the nearest available drivers.
// Each offered driver is reserved for this ride for OfferTTL; drivers
// reserved by another ride are skipped. Delivery failures are logged and
// do not fail the call. Acceptance happens separately via AssignDriver.
func (e *DispatchEngine) DistributeRideOffers(ctx context.Context, rideID string) (*DispatchOffer, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	ride, err := e.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.Status != domain.RideStatusRequested {
		return nil, fmt.Errorf("%w: ride is %s", ErrConflict, ride.Status)
	}

	candidates, err := e.FindAvailableDrivers(ctx, DriverSearch{
		Location:    ride.Pickup,
		VehicleType: ride.VehicleType,
		Emergency:   ride.IsEmergency(),
	})
	if err != nil {
		return nil, err
	}

	now := e.now()
	offer := &DispatchOffer{
		RideID:       rideID,
		CandidateIDs: make([]string, 0, e.cfg.OfferFanout),
		CreatedAt:    now,
		ExpiresAt:    now.Add(e.cfg.OfferTTL),
		Status:       OfferPending,
	}

	selected := make([]AvailableDriver, 0, e.cfg.OfferFanout)
	for _, c := range candidates {
		if len(selected) == e.cfg.OfferFanout {
			break
		}
		locked, err := e.lockStore.AcquireDriverLock(ctx, c.Driver.ID, rideID, e.cfg.OfferTTL)
		if err != nil {
			e.logger.WarnContext(ctx, "offer lock failed", "ride_id", rideID, "driver_id", c.Driver.ID, "error", err)
			continue
		}
		if !locked {
			// Driver is holding an offer for another ride.
			continue
		}
		selected = append(selected, c)
		offer.CandidateIDs = append(offer.CandidateIDs, c.Driver.ID)
	}

	if len(selected) == 0 {
		e.logger.InfoContext(ctx, "no drivers to offer", "ride_id", rideID, "vehicle_type", ride.VehicleType)
		return offer, nil
	}

	e.mu.Lock()
	e.offers[rideID] = offer
	e.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(e.cfg.SendConcurrency)
	for _, c := range selected {
		c := c
		g.Go(func() error {
			n := rideOfferNotification(ride, c.Driver.ID, c.DistanceKm, offer.ExpiresAt)
			res, err := e.gateway.SendNotification(ctx, n)
			switch {
			case err != nil:
				observability.OffersSentTotal.WithLabelValues("error").Inc()
				e.logger.WarnContext(ctx, "ride offer failed", "ride_id", rideID, "driver_id", c.Driver.ID, "error", err)
			case res != nil && !res.Delivered:
				observability.OffersSentTotal.WithLabelValues("undelivered").Inc()
				e.logger.WarnContext(ctx, "ride offer not delivered", "ride_id", rideID, "driver_id", c.Driver.ID, "reason", res.FailedReason)
			default:
				observability.OffersSentTotal.WithLabelValues("ok").Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	e.logger.InfoContext(ctx, "ride offered", "ride_id", rideID, "drivers", offer.CandidateIDs)
	return e.snapshotOffer(offer), nil
}

// AssignDriver gives the ride to driverID if, and only if, the ride is
// still REQUESTED and the driver is online and available. The driver is
// claimed with a conditional write first, then the ride moves
// REQUESTED -> DRIVER_ASSIGNED with a conditional write; if the ride write
// loses, the claim is undone. Exactly one concurrent caller per ride wins;
// the rest get an error matching ErrConflict.
func (e *DispatchEngine) AssignDriver(ctx context.Context, rideID, driverID string) (*TransitionEvent, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}

	ride, err := e.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.Status != domain.RideStatusRequested {
		observability.AssignmentsTotal.WithLabelValues("too_late").Inc()
		return nil, lostRaceError(ride.Status)
	}

	driver, err := e.driverRepo.GetByID(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if !vehicleCompatible(driver.VehicleType, ride.VehicleType) {
		return nil, ErrVehicleTypeMismatch
	}

	claimed, err := e.driverRepo.ClaimAvailability(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		observability.AssignmentsTotal.WithLabelValues("driver_unavailable").Inc()
		return nil, ErrDriverUnavailable
	}

	ev, err := e.stateMachine.TransitionRideStatus(ctx, rideID, domain.RideStatusDriverAssigned, TransitionOptions{
		DriverID: driverID,
		UserID:   driverID,
	})
	if err != nil {
		if relErr := e.driverRepo.SetAvailability(ctx, driverID, true); relErr != nil {
			e.logger.ErrorContext(ctx, "failed to release driver after lost assignment",
				"ride_id", rideID, "driver_id", driverID, "error", relErr)
		}
		var te *TransitionError
		if errors.As(err, &te) {
			observability.AssignmentsTotal.WithLabelValues("too_late").Inc()
			return nil, ErrRideAlreadyAssigned
		}
		return nil, err
	}

	observability.AssignmentsTotal.WithLabelValues("ok").Inc()
	e.resolveOffer(ctx, rideID, OfferAccepted, driverID)
	e.releaseOfferLock(ctx, driverID, rideID)
	return ev, nil
}

// CancelOffer resolves a pending offer after the ride was cancelled and
// frees the drivers it reserved.
func (e *DispatchEngine) CancelOffer(ctx context.Context, rideID string) {
	e.resolveOffer(ctx, rideID, OfferCancelled, "")
}

// GetOffer returns the pending offer for a ride, if this instance made one.
// Offers past their expiry are reported as EXPIRED and forgotten.
func (e *DispatchEngine) GetOffer(rideID string) (*DispatchOffer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	offer, ok := e.offers[rideID]
	if !ok {
		return nil, false
	}
	if !e.now().Before(offer.ExpiresAt) {
		delete(e.offers, rideID)
		expired := *offer
		expired.Status = OfferExpired
		return &expired, true
	}
	return e.snapshotOffer(offer), true
}

// resolveOffer drops the ride's offer and releases every reservation the
// ride still holds.
func (e *DispatchEngine) resolveOffer(ctx context.Context, rideID string, status OfferStatus, acceptedBy string) {
	e.mu.Lock()
	offer, ok := e.offers[rideID]
	delete(e.offers, rideID)
	e.mu.Unlock()
	if !ok {
		return
	}

	for _, id := range offer.CandidateIDs {
		if id == acceptedBy {
			continue
		}
		e.releaseOfferLock(ctx, id, rideID)
	}
	e.logger.DebugContext(ctx, "offer resolved", "ride_id", rideID, "status", status, "accepted_by", acceptedBy)
}

// releaseOfferLock frees the driver's offer lock only while rideID holds
// it; a reservation made by another ride is left alone.
func (e *DispatchEngine) releaseOfferLock(ctx context.Context, driverID, rideID string) {
	holder, err := e.lockStore.DriverLockHolder(ctx, driverID)
	if err != nil {
		e.logger.WarnContext(ctx, "offer lock lookup failed", "driver_id", driverID, "error", err)
		return
	}
	if holder != rideID {
		return
	}
	if err := e.lockStore.ReleaseDriverLock(ctx, driverID); err != nil {
		e.logger.WarnContext(ctx, "failed to release offer lock", "driver_id", driverID, "error", err)
	}
}

func (e *DispatchEngine) snapshotOffer(offer *DispatchOffer) *DispatchOffer {
	c := *offer
	c.CandidateIDs = append([]string(nil), offer.CandidateIDs...)
	return &c
}

// vehicleCompatible reports whether a driver's vehicle may serve a ride.
// Emergency rides need an emergency vehicle; emergency vehicles are kept
// free for emergencies.
func vehicleCompatible(driverType, rideType domain.VehicleType) bool {
	if driverType == "" {
		driverType = domain.VehicleTypeRegular
	}
	if rideType == "" {
		rideType = domain.VehicleTypeRegular
	}
	return driverType == rideType
}

func lostRaceError(status domain.RideStatus) error {
	if status == domain.RideStatusCancelled || status == domain.RideStatusCompleted {
		return &TransitionError{From: status, To: domain.RideStatusDriverAssigned}
	}
	return ErrRideAlreadyAssigned
}
