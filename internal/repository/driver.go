package repository

import (
	"context"
	"time"

	"ridedispatch/internal/domain"
)

// DriverRepository defines the persistence operations for drivers.
type DriverRepository interface {
	// Create adds a new driver.
	Create(ctx context.Context, driver *domain.Driver) error

	// GetByID retrieves a driver by ID.
	GetByID(ctx context.Context, id string) (*domain.Driver, error)

	// GetByIDs retrieves the drivers that exist among ids. Missing ids are
	// skipped, not reported.
	GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Driver, error)

	// ClaimAvailability flips an online, available driver to unavailable.
	// It reports false when the driver exists but is offline or already
	// claimed.
	ClaimAvailability(ctx context.Context, id string) (bool, error)

	// SetAvailability sets the driver's availability flag unconditionally.
	SetAvailability(ctx context.Context, id string, available bool) error

	// SetOnline sets the driver's online flag. An offline driver coming
	// online becomes available; a driver already online keeps its
	// availability, so a claimed driver stays claimed. Going offline makes
	// the driver unavailable and reports false, changing nothing, when the
	// driver is online and claimed.
	SetOnline(ctx context.Context, id string, online bool) (bool, error)

	// SwapLocation moves the current point into the previous point, stores
	// p as the current point and stamps the update time, as one write.
	SwapLocation(ctx context.Context, id string, p domain.Point, at time.Time) (*domain.LocationSwap, error)
}
