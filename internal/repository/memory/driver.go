package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/repository"
)

// DriverRepository is an in-memory repository.DriverRepository.
type DriverRepository struct {
	mu      sync.RWMutex
	drivers map[string]*domain.Driver
}

var _ repository.DriverRepository = (*DriverRepository)(nil)

// NewDriverRepository creates an empty driver repository.
func NewDriverRepository() *DriverRepository {
	return &DriverRepository{drivers: make(map[string]*domain.Driver)}
}

// Create adds a new driver.
func (r *DriverRepository) Create(_ context.Context, driver *domain.Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.drivers[driver.ID]; exists {
		return fmt.Errorf("driver %s: %w", driver.ID, repository.ErrDuplicate)
	}
	r.drivers[driver.ID] = copyDriver(driver)
	return nil
}

// GetByID retrieves a driver by ID.
func (r *DriverRepository) GetByID(_ context.Context, id string) (*domain.Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	driver, ok := r.drivers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyDriver(driver), nil
}

// GetByIDs retrieves every known driver among ids.
func (r *DriverRepository) GetByIDs(_ context.Context, ids []string) (map[string]*domain.Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*domain.Driver, len(ids))
	for _, id := range ids {
		if driver, ok := r.drivers[id]; ok {
			out[id] = copyDriver(driver)
		}
	}
	return out, nil
}

// ClaimAvailability flips an online, available driver to unavailable.
func (r *DriverRepository) ClaimAvailability(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	driver, ok := r.drivers[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if !driver.IsOnline || !driver.IsAvailable {
		return false, nil
	}
	driver.IsAvailable = false
	return true, nil
}

// SetAvailability sets the availability flag.
func (r *DriverRepository) SetAvailability(_ context.Context, id string, available bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	driver, ok := r.drivers[id]
	if !ok {
		return repository.ErrNotFound
	}
	driver.IsAvailable = available
	return nil
}

// SetOnline flips the online flag. A claimed driver cannot go offline.
func (r *DriverRepository) SetOnline(_ context.Context, id string, online bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	driver, ok := r.drivers[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if online {
		if !driver.IsOnline {
			driver.IsOnline = true
			driver.IsAvailable = true
		}
		return true, nil
	}
	if driver.IsOnline && !driver.IsAvailable {
		return false, nil
	}
	driver.IsOnline = false
	driver.IsAvailable = false
	return true, nil
}

// SwapLocation shifts current into previous and stores p as current.
func (r *DriverRepository) SwapLocation(_ context.Context, id string, p domain.Point, at time.Time) (*domain.LocationSwap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	driver, ok := r.drivers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}

	current := domain.Point{Lat: p.Lat, Lng: p.Lng}
	driver.PreLocation = driver.Location
	driver.Location = &current
	driver.LastLocationUpdate = &at

	return &domain.LocationSwap{
		DriverID:  id,
		Current:   current,
		Previous:  copyPoint(driver.PreLocation),
		UpdatedAt: at,
	}, nil
}

func copyDriver(driver *domain.Driver) *domain.Driver {
	c := *driver
	c.Location = copyPoint(driver.Location)
	c.PreLocation = copyPoint(driver.PreLocation)
	c.LastLocationUpdate = copyTime(driver.LastLocationUpdate)
	return &c
}

func copyPoint(p *domain.Point) *domain.Point {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
