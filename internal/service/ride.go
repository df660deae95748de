package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/geo"
	"ridedispatch/internal/repository"
)

// RideService handles ride requests and the driver-facing lifecycle
// commands on top of the state machine and dispatch engine.
type RideService struct {
	rideRepo     repository.RideRepository
	userRepo     repository.UserRepository
	stateMachine *StateMachine
	dispatch     *DispatchEngine
	surge        *SurgeService
	fares        *FareCalculator
	runner       *BackgroundRunner
	logger       *slog.Logger
	now          func() time.Time
}

// NewRideService creates a new RideService. surge and runner may be nil.
func NewRideService(
	rideRepo repository.RideRepository,
	userRepo repository.UserRepository,
	stateMachine *StateMachine,
	dispatch *DispatchEngine,
	surge *SurgeService,
	fares *FareCalculator,
	runner *BackgroundRunner,
	logger *slog.Logger,
) *RideService {
	return &RideService{
		rideRepo:     rideRepo,
		userRepo:     userRepo,
		stateMachine: stateMachine,
		dispatch:     dispatch,
		surge:        surge,
		fares:        fares,
		runner:       runner,
		logger:       logger,
		now:          time.Now,
	}
}

// CreateRideRequest contains the parameters for creating a ride.
type CreateRideRequest struct {
	PassengerID string
	Pickup      domain.Point
	Destination domain.Point
	VehicleType domain.VehicleType // Optional: defaults to REGULAR
}

// CreateRide stores a new REQUESTED ride with its fare estimate and starts
// offer distribution in the background. Offer failures never fail the
// request.
func (s *RideService) CreateRide(ctx context.Context, req CreateRideRequest) (*domain.Ride, error) {
	if err := s.validateCreateRequest(&req); err != nil {
		return nil, err
	}
	if _, err := s.userRepo.GetByID(ctx, req.PassengerID); err != nil {
		return nil, err
	}

	live := 1.0
	if s.surge != nil && req.VehicleType != domain.VehicleTypeEmergency {
		live = s.surge.GetMultiplier(ctx, req.Pickup)
	}
	surgeMultiplier := s.fares.SurgeFor(req.VehicleType, live)

	distanceKm := geo.Haversine(req.Pickup.Lat, req.Pickup.Lng, req.Destination.Lat, req.Destination.Lng)
	minutes := s.fares.EstimateDuration(distanceKm)

	ride := &domain.Ride{
		ID:              uuid.New().String(),
		PassengerID:     req.PassengerID,
		Pickup:          req.Pickup,
		Destination:     req.Destination,
		Status:          domain.RideStatusRequested,
		VehicleType:     req.VehicleType,
		EstimatedFare:   s.fares.Fare(distanceKm, minutes, req.VehicleType, surgeMultiplier),
		DistanceKm:      round2(distanceKm),
		DurationMinutes: minutes,
		SurgeMultiplier: surgeMultiplier,
		RequestedAt:     s.now(),
	}

	if err := s.rideRepo.Create(ctx, ride); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "ride requested",
		"ride_id", ride.ID, "vehicle_type", ride.VehicleType, "fare", ride.EstimatedFare, "surge", surgeMultiplier)

	s.distributeOffers(ctx, ride.ID)
	return ride, nil
}

func (s *RideService) distributeOffers(ctx context.Context, rideID string) {
	if s.dispatch == nil {
		return
	}
	task := func(ctx context.Context) error {
		_, err := s.dispatch.DistributeRideOffers(ctx, rideID)
		return err
	}
	if s.runner == nil {
		if err := task(ctx); err != nil {
			s.logger.WarnContext(ctx, "offer distribution failed", "ride_id", rideID, "error", err)
		}
		return
	}
	s.runner.Go(ctx, "distribute_offers", task)
}

// GetRide retrieves a ride.
func (s *RideService) GetRide(ctx context.Context, rideID string) (*domain.Ride, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	return s.rideRepo.GetByID(ctx, rideID)
}

// AcceptRide lets a driver claim a REQUESTED ride.
func (s *RideService) AcceptRide(ctx context.Context, rideID, driverID string) (*TransitionEvent, error) {
	return s.dispatch.AssignDriver(ctx, rideID, driverID)
}

// MarkArriving records that the assigned driver is heading to pickup.
func (s *RideService) MarkArriving(ctx context.Context, rideID, driverID string) (*TransitionEvent, error) {
	return s.driverTransition(ctx, rideID, driverID, domain.RideStatusDriverArriving, nil)
}

// MarkArrived records that the assigned driver reached pickup.
func (s *RideService) MarkArrived(ctx context.Context, rideID, driverID string) (*TransitionEvent, error) {
	return s.driverTransition(ctx, rideID, driverID, domain.RideStatusDriverArrived, nil)
}

// StartRide records that the passenger is on board.
func (s *RideService) StartRide(ctx context.Context, rideID, driverID string) (*TransitionEvent, error) {
	return s.driverTransition(ctx, rideID, driverID, domain.RideStatusInProgress, nil)
}

// CompleteRide finishes the ride and stores the final fare, priced on the
// estimated distance and the actual time on board.
func (s *RideService) CompleteRide(ctx context.Context, rideID, driverID string) (*TransitionEvent, error) {
	return s.driverTransition(ctx, rideID, driverID, domain.RideStatusCompleted, func(ride *domain.Ride) *float64 {
		minutes := ride.DurationMinutes
		if ride.RideStartedAt != nil {
			minutes = s.now().Sub(*ride.RideStartedAt).Minutes()
		}
		fare := s.fares.Fare(ride.DistanceKm, minutes, ride.VehicleType, ride.SurgeMultiplier)
		return &fare
	})
}

// CancelRideRequest contains the parameters for cancelling a ride.
type CancelRideRequest struct {
	RideID      string
	CancelledBy string // passenger or driver ID
	Reason      string
}

// CancelRide cancels a ride from any non-terminal status. Only the
// passenger or the assigned driver may cancel, and the caller must say
// which one it is.
func (s *RideService) CancelRide(ctx context.Context, req CancelRideRequest) (*TransitionEvent, error) {
	if req.RideID == "" {
		return nil, ErrInvalidRideID
	}
	if req.CancelledBy == "" {
		return nil, ErrCancellerRequired
	}
	ride, err := s.rideRepo.GetByID(ctx, req.RideID)
	if err != nil {
		return nil, err
	}
	if req.CancelledBy != ride.PassengerID && req.CancelledBy != ride.DriverID {
		return nil, fmt.Errorf("%w: %s is not a party to ride %s", ErrConflict, req.CancelledBy, ride.ID)
	}

	ev, err := s.stateMachine.TransitionRideStatus(ctx, req.RideID, domain.RideStatusCancelled, TransitionOptions{
		UserID:       req.CancelledBy,
		CancelReason: req.Reason,
	})
	if err != nil {
		return nil, err
	}
	if s.dispatch != nil {
		s.dispatch.CancelOffer(ctx, req.RideID)
	}
	return ev, nil
}

// GetRideStatusHistory lists the stages the ride has reached.
func (s *RideService) GetRideStatusHistory(ctx context.Context, rideID string) ([]StatusHistoryEntry, error) {
	return s.stateMachine.GetRideStatusHistory(ctx, rideID)
}

func (s *RideService) driverTransition(
	ctx context.Context,
	rideID, driverID string,
	to domain.RideStatus,
	finalFare func(*domain.Ride) *float64,
) (*TransitionEvent, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}

	ride, err := s.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.DriverID != driverID {
		return nil, ErrDriverNotAssignedToRide
	}

	opts := TransitionOptions{DriverID: driverID, UserID: driverID}
	if finalFare != nil {
		opts.FinalFare = finalFare(ride)
	}
	return s.stateMachine.TransitionRideStatus(ctx, rideID, to, opts)
}

func (s *RideService) validateCreateRequest(req *CreateRideRequest) error {
	if req.PassengerID == "" {
		return ErrInvalidPassengerID
	}
	if err := geo.ValidatePoint(req.Pickup.Lat, req.Pickup.Lng); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPickupLocation, err)
	}
	if err := geo.ValidatePoint(req.Destination.Lat, req.Destination.Lng); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDestinationLocation, err)
	}
	if req.VehicleType == "" {
		req.VehicleType = domain.VehicleTypeRegular
	}
	if !req.VehicleType.IsValid() {
		return ErrInvalidVehicleType
	}
	return nil
}
