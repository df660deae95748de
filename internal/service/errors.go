package service

import (
	"errors"
	"fmt"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/repository"
)

// Error categories. Every error returned by this package matches at most one
// of them with errors.Is; handlers map categories to HTTP statuses.
var (
	// ErrValidation covers malformed input: coordinates, radii, ids.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a ride, driver or user does not exist.
	ErrNotFound = repository.ErrNotFound

	// ErrConflict covers invalid transitions and lost assignment races.
	ErrConflict = errors.New("conflict")

	// ErrRateLimited marks an alert suppressed by the debounce window.
	ErrRateLimited = errors.New("rate limited")
)

var (
	// ErrInvalidRideID is returned when ride ID is empty.
	ErrInvalidRideID = fmt.Errorf("%w: invalid ride id", ErrValidation)

	// ErrInvalidDriverID is returned when driver ID is empty.
	ErrInvalidDriverID = fmt.Errorf("%w: invalid driver id", ErrValidation)

	// ErrInvalidPassengerID is returned when passenger ID is empty.
	ErrInvalidPassengerID = fmt.Errorf("%w: invalid passenger id", ErrValidation)

	// ErrInvalidUserID is returned when user ID is empty.
	ErrInvalidUserID = fmt.Errorf("%w: invalid user id", ErrValidation)

	// ErrInvalidLocation is returned when coordinates are malformed or out of range.
	ErrInvalidLocation = fmt.Errorf("%w: invalid location", ErrValidation)

	// ErrInvalidPickupLocation is returned when pickup coordinates are invalid.
	ErrInvalidPickupLocation = fmt.Errorf("%w: invalid pickup location", ErrValidation)

	// ErrInvalidDestinationLocation is returned when destination coordinates are invalid.
	ErrInvalidDestinationLocation = fmt.Errorf("%w: invalid destination location", ErrValidation)

	// ErrInvalidRadius is returned when a search radius is not a positive finite number.
	ErrInvalidRadius = fmt.Errorf("%w: invalid radius", ErrValidation)

	// ErrInvalidLimit is returned when a result limit is negative.
	ErrInvalidLimit = fmt.Errorf("%w: invalid limit", ErrValidation)

	// ErrInvalidBearing is returned when a heading is not finite.
	ErrInvalidBearing = fmt.Errorf("%w: invalid bearing", ErrValidation)

	// ErrInvalidVehicleType is returned for an unknown vehicle type.
	ErrInvalidVehicleType = fmt.Errorf("%w: invalid vehicle type", ErrValidation)

	// ErrInvalidStatus is returned for an unknown ride status.
	ErrInvalidStatus = fmt.Errorf("%w: invalid ride status", ErrValidation)

	// ErrDriverIDRequired is returned when assigning a ride without a driver.
	ErrDriverIDRequired = fmt.Errorf("%w: driver id is required for assignment", ErrValidation)

	// ErrVehicleTypeMismatch is returned when a driver's vehicle cannot serve the ride.
	ErrVehicleTypeMismatch = fmt.Errorf("%w: driver vehicle type does not match ride", ErrValidation)

	// ErrInvalidFare is returned when a final fare is negative or not finite.
	ErrInvalidFare = fmt.Errorf("%w: invalid fare", ErrValidation)

	// ErrCancellerRequired is returned when a cancel names no caller.
	ErrCancellerRequired = fmt.Errorf("%w: cancelled_by is required", ErrValidation)

	// ErrCorridorDriverMismatch is returned when corridor detection is asked
	// for by a driver who is not on the ride.
	ErrCorridorDriverMismatch = fmt.Errorf("%w: driver is not assigned to this ride", ErrValidation)
)

var (
	// ErrRideAlreadyAssigned is returned to drivers who lose the assignment race.
	ErrRideAlreadyAssigned = fmt.Errorf("%w: ride already assigned", ErrConflict)

	// ErrDriverUnavailable is returned when the driver is offline or already busy.
	ErrDriverUnavailable = fmt.Errorf("%w: driver unavailable", ErrConflict)

	// ErrDriverHasActiveRide is returned when a busy driver tries to go offline.
	ErrDriverHasActiveRide = fmt.Errorf("%w: driver has an active ride", ErrConflict)

	// ErrRideNotActive is returned when work is requested for a finished ride.
	ErrRideNotActive = fmt.Errorf("%w: ride is no longer active", ErrConflict)

	// ErrDriverNotAssignedToRide is returned when a driver acts on someone else's ride.
	ErrDriverNotAssignedToRide = fmt.Errorf("%w: driver not assigned to this ride", ErrConflict)

	// ErrAlertDebounced is returned when an emergency alert is inside the debounce window.
	ErrAlertDebounced = fmt.Errorf("%w: alert already sent recently", ErrRateLimited)
)

// TransitionError reports an edge that is not in the ride lifecycle graph,
// or a conditional write that lost to a concurrent transition.
type TransitionError struct {
	From domain.RideStatus
	To   domain.RideStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid ride transition from %s to %s", e.From, e.To)
}

// Unwrap makes errors.Is(err, ErrConflict) true.
func (e *TransitionError) Unwrap() error {
	return ErrConflict
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
