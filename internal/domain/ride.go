package domain

import "time"

// RideStatus represents the current status of a ride.
type RideStatus string

const (
	RideStatusRequested      RideStatus = "REQUESTED"
	RideStatusDriverAssigned RideStatus = "DRIVER_ASSIGNED"
	RideStatusDriverArriving RideStatus = "DRIVER_ARRIVING"
	RideStatusDriverArrived  RideStatus = "DRIVER_ARRIVED"
	RideStatusInProgress     RideStatus = "IN_PROGRESS"
	RideStatusCompleted      RideStatus = "COMPLETED"
	RideStatusCancelled      RideStatus = "CANCELLED"
)

// AllRideStatuses lists every ride status in lifecycle order.
var AllRideStatuses = []RideStatus{
	RideStatusRequested,
	RideStatusDriverAssigned,
	RideStatusDriverArriving,
	RideStatusDriverArrived,
	RideStatusInProgress,
	RideStatusCompleted,
	RideStatusCancelled,
}

// VehicleType represents the kind of vehicle a ride or driver uses.
type VehicleType string

const (
	VehicleTypeRegular   VehicleType = "REGULAR"
	VehicleTypeEmergency VehicleType = "EMERGENCY"
)

// IsValid reports whether v is a known vehicle type.
func (v VehicleType) IsValid() bool {
	return v == VehicleTypeRegular || v == VehicleTypeEmergency
}

// Ride represents a ride request in the system.
// A nil stage timestamp means the ride never reached that stage.
type Ride struct {
	ID               string
	PassengerID      string
	DriverID         string
	Pickup           Point
	Destination      Point
	Status           RideStatus
	VehicleType      VehicleType
	EstimatedFare    float64
	FinalFare        *float64
	DistanceKm       float64
	DurationMinutes  float64
	SurgeMultiplier  float64 // 1.0 = no surge
	RequestedAt      time.Time
	DriverAssignedAt *time.Time
	DriverArrivingAt *time.Time
	DriverArrivedAt  *time.Time
	RideStartedAt    *time.Time
	RideCompletedAt  *time.Time
	CancelledAt      *time.Time
	CancelReason     string
	LastNotification *time.Time
}

// IsEmergency reports whether the ride was requested for an emergency vehicle.
func (r *Ride) IsEmergency() bool {
	return r.VehicleType == VehicleTypeEmergency
}

// StageTimestamp returns the timestamp recorded for the given status, or nil
// if the ride never reached it.
func (r *Ride) StageTimestamp(status RideStatus) *time.Time {
	switch status {
	case RideStatusRequested:
		if r.RequestedAt.IsZero() {
			return nil
		}
		t := r.RequestedAt
		return &t
	case RideStatusDriverAssigned:
		return r.DriverAssignedAt
	case RideStatusDriverArriving:
		return r.DriverArrivingAt
	case RideStatusDriverArrived:
		return r.DriverArrivedAt
	case RideStatusInProgress:
		return r.RideStartedAt
	case RideStatusCompleted:
		return r.RideCompletedAt
	case RideStatusCancelled:
		return r.CancelledAt
	default:
		return nil
	}
}

// SetStageTimestamp records when the ride entered the given status.
func (r *Ride) SetStageTimestamp(status RideStatus, at time.Time) {
	switch status {
	case RideStatusRequested:
		r.RequestedAt = at
	case RideStatusDriverAssigned:
		r.DriverAssignedAt = &at
	case RideStatusDriverArriving:
		r.DriverArrivingAt = &at
	case RideStatusDriverArrived:
		r.DriverArrivedAt = &at
	case RideStatusInProgress:
		r.RideStartedAt = &at
	case RideStatusCompleted:
		r.RideCompletedAt = &at
	case RideStatusCancelled:
		r.CancelledAt = &at
	}
}

// StatusChange describes a conditional status write: it only applies when
// the stored ride is still in From.
type StatusChange struct {
	RideID       string
	From         RideStatus
	To           RideStatus
	At           time.Time
	DriverID     string   // set together with DRIVER_ASSIGNED
	FinalFare    *float64 // set together with COMPLETED
	CancelReason string   // set together with CANCELLED
}
