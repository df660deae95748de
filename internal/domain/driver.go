package domain

import "time"

// Driver represents a driver in the system.
type Driver struct {
	ID                 string
	Name               string
	Phone              string
	VehicleType        VehicleType
	IsOnline           bool
	IsAvailable        bool
	Location           *Point
	PreLocation        *Point
	LastLocationUpdate *time.Time
}

// CanTakeRides reports whether the driver may be offered a new ride.
func (d *Driver) CanTakeRides() bool {
	return d.IsOnline && d.IsAvailable
}

// LocationSwap is the result of moving a driver's current point into its
// previous point and storing a new current point.
type LocationSwap struct {
	DriverID  string
	Current   Point
	Previous  *Point
	UpdatedAt time.Time
}
