package repository

import (
	"context"
	"time"

	"ridedispatch/internal/domain"
)

// RideRepository defines the persistence operations for rides.
type RideRepository interface {
	// Create persists a new ride.
	Create(ctx context.Context, ride *domain.Ride) error

	// GetByID retrieves a ride by ID.
	GetByID(ctx context.Context, id string) (*domain.Ride, error)

	// TransitionStatus applies change only if the stored ride is still in
	// change.From. It reports false, with a nil error, when the ride exists
	// but its status has already moved on. A missing ride is ErrNotFound.
	TransitionStatus(ctx context.Context, change domain.StatusChange) (bool, error)

	// GetActiveByDriverID returns the driver's ride that is assigned but
	// not yet terminal, or ErrNotFound.
	GetActiveByDriverID(ctx context.Context, driverID string) (*domain.Ride, error)

	// ListByStatus returns rides in the given status, oldest first.
	ListByStatus(ctx context.Context, status domain.RideStatus, limit int) ([]*domain.Ride, error)

	// TouchLastNotification stamps the ride's last emergency alert time.
	TouchLastNotification(ctx context.Context, id string, at time.Time) error
}
