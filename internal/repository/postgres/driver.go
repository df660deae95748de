package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/repository"
)

// DriverRepository is a PostgreSQL implementation of repository.DriverRepository.
type DriverRepository struct {
	q Querier
}

var _ repository.DriverRepository = (*DriverRepository)(nil)

// NewDriverRepository creates a new PostgreSQL driver repository.
func NewDriverRepository(db *sql.DB) *DriverRepository {
	return &DriverRepository{q: db}
}

const driverColumns = `id, COALESCE(name, ''), COALESCE(phone, ''), vehicle_type, is_online, is_available,
	lat, lng, pre_lat, pre_lng, last_location_update`

// Create adds a new driver.
func (r *DriverRepository) Create(ctx context.Context, driver *domain.Driver) error {
	query := `INSERT INTO drivers (id, name, phone, vehicle_type, is_online, is_available) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.q.ExecContext(ctx, query,
		driver.ID,
		driver.Name,
		driver.Phone,
		driver.VehicleType,
		driver.IsOnline,
		driver.IsAvailable,
	)
	return insertErr(err)
}

// GetByID retrieves a driver by ID.
func (r *DriverRepository) GetByID(ctx context.Context, id string) (*domain.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE id = $1`

	driver, err := scanDriver(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return driver, nil
}

// GetByIDs retrieves every driver whose ID is in ids.
func (r *DriverRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Driver, error) {
	drivers := make(map[string]*domain.Driver, len(ids))
	if len(ids) == 0 {
		return drivers, nil
	}

	query := `SELECT ` + driverColumns + ` FROM drivers WHERE id = ANY($1)`
	rows, err := r.q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		driver, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		drivers[driver.ID] = driver
	}
	return drivers, rows.Err()
}

// ClaimAvailability flips an online, available driver to unavailable.
func (r *DriverRepository) ClaimAvailability(ctx context.Context, id string) (bool, error) {
	query := `UPDATE drivers SET is_available = FALSE WHERE id = $1 AND is_online AND is_available`

	result, err := r.q.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}

	return r.conditional(ctx, result, id)
}

// SetAvailability sets the availability flag.
func (r *DriverRepository) SetAvailability(ctx context.Context, id string, available bool) error {
	return r.execOne(ctx, `UPDATE drivers SET is_available = $1 WHERE id = $2`, available, id)
}

// SetOnline flips the online flag. Coming online only grants availability
// to a driver that was offline; SET expressions see the old row.
func (r *DriverRepository) SetOnline(ctx context.Context, id string, online bool) (bool, error) {
	if online {
		query := `UPDATE drivers SET is_available = (is_available OR NOT is_online), is_online = TRUE WHERE id = $1`
		if err := r.execOne(ctx, query, id); err != nil {
			return false, err
		}
		return true, nil
	}

	query := `UPDATE drivers SET is_online = FALSE, is_available = FALSE WHERE id = $1 AND (is_available OR NOT is_online)`
	result, err := r.q.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	return r.conditional(ctx, result, id)
}

// conditional reports whether a guarded UPDATE hit the driver, telling a
// guard that did not match apart from a missing driver.
func (r *DriverRepository) conditional(ctx context.Context, result sql.Result, id string) (bool, error) {
	ok, err := affectedOne(result)
	if err != nil || ok {
		return ok, err
	}

	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM drivers WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, repository.ErrNotFound
	}
	return false, nil
}

// SwapLocation shifts current into previous and writes the new point in one
// statement. Postgres evaluates SET expressions against the old row, so
// pre_lat/pre_lng receive the prior current point.
func (r *DriverRepository) SwapLocation(ctx context.Context, id string, p domain.Point, at time.Time) (*domain.LocationSwap, error) {
	query := `
		UPDATE drivers
		SET pre_lat = lat, pre_lng = lng, lat = $1, lng = $2, last_location_update = $3
		WHERE id = $4
		RETURNING pre_lat, pre_lng
	`

	var preLat, preLng sql.NullFloat64
	err := r.q.QueryRowContext(ctx, query, p.Lat, p.Lng, at, id).Scan(&preLat, &preLng)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return &domain.LocationSwap{
		DriverID:  id,
		Current:   domain.Point{Lat: p.Lat, Lng: p.Lng},
		Previous:  pointPtr(preLat, preLng),
		UpdatedAt: at,
	}, nil
}

func (r *DriverRepository) execOne(ctx context.Context, query string, args ...any) error {
	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanDriver(row rowScanner) (*domain.Driver, error) {
	var driver domain.Driver
	var (
		lat, lng       sql.NullFloat64
		preLat, preLng sql.NullFloat64
		lastUpdate     sql.NullTime
	)

	err := row.Scan(
		&driver.ID,
		&driver.Name,
		&driver.Phone,
		&driver.VehicleType,
		&driver.IsOnline,
		&driver.IsAvailable,
		&lat,
		&lng,
		&preLat,
		&preLng,
		&lastUpdate,
	)
	if err != nil {
		return nil, err
	}

	driver.Location = pointPtr(lat, lng)
	driver.PreLocation = pointPtr(preLat, preLng)
	driver.LastLocationUpdate = timePtr(lastUpdate)
	return &driver, nil
}
