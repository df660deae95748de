package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/repository"
)

// RideRepository is a PostgreSQL implementation of repository.RideRepository.
type RideRepository struct {
	q Querier
}

var _ repository.RideRepository = (*RideRepository)(nil)

// NewRideRepository creates a new PostgreSQL ride repository.
func NewRideRepository(db *sql.DB) *RideRepository {
	return &RideRepository{q: db}
}

const rideColumns = `id, passenger_id, driver_id,
	pickup_lat, pickup_lng, pickup_address,
	destination_lat, destination_lng, destination_address,
	status, vehicle_type, estimated_fare, final_fare, distance_km, duration_minutes, surge_multiplier,
	requested_at, driver_assigned_at, driver_arriving_at, driver_arrived_at,
	ride_started_at, ride_completed_at, cancelled_at, cancel_reason, last_notification`

// stageColumns maps a status to the timestamp column it stamps. Only these
// names are ever interpolated into SQL.
var stageColumns = map[domain.RideStatus]string{
	domain.RideStatusDriverAssigned: "driver_assigned_at",
	domain.RideStatusDriverArriving: "driver_arriving_at",
	domain.RideStatusDriverArrived:  "driver_arrived_at",
	domain.RideStatusInProgress:     "ride_started_at",
	domain.RideStatusCompleted:      "ride_completed_at",
	domain.RideStatusCancelled:      "cancelled_at",
}

// Create persists a new ride.
func (r *RideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	query := `
		INSERT INTO rides (id, passenger_id, pickup_lat, pickup_lng, pickup_address,
			destination_lat, destination_lng, destination_address, status, vehicle_type,
			estimated_fare, distance_km, duration_minutes, surge_multiplier, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	// Default surge to 1.0 if not set
	surgeMultiplier := ride.SurgeMultiplier
	if surgeMultiplier < 1.0 {
		surgeMultiplier = 1.0
	}

	_, err := r.q.ExecContext(ctx, query,
		ride.ID,
		ride.PassengerID,
		ride.Pickup.Lat,
		ride.Pickup.Lng,
		nullString(ride.Pickup.Address),
		ride.Destination.Lat,
		ride.Destination.Lng,
		nullString(ride.Destination.Address),
		ride.Status,
		ride.VehicleType,
		ride.EstimatedFare,
		ride.DistanceKm,
		ride.DurationMinutes,
		surgeMultiplier,
		ride.RequestedAt,
	)
	return insertErr(err)
}

// GetByID retrieves a ride by ID.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE id = $1`

	ride, err := scanRide(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return ride, nil
}

// TransitionStatus moves the ride from change.From to change.To in a single
// conditional UPDATE. Concurrent callers racing on the same From status see
// exactly one affected row between them.
func (r *RideRepository) TransitionStatus(ctx context.Context, change domain.StatusChange) (bool, error) {
	column, ok := stageColumns[change.To]
	if !ok {
		return false, fmt.Errorf("no stage column for status %s", change.To)
	}

	query := `
		UPDATE rides
		SET status = $1,
			` + column + ` = $2,
			driver_id = COALESCE($3, driver_id),
			final_fare = COALESCE($4, final_fare),
			cancel_reason = COALESCE($5, cancel_reason)
		WHERE id = $6 AND status = $7
	`
	if change.To == domain.RideStatusDriverAssigned {
		query += ` AND driver_id IS NULL`
	}

	var finalFare sql.NullFloat64
	if change.FinalFare != nil {
		finalFare = sql.NullFloat64{Float64: *change.FinalFare, Valid: true}
	}

	result, err := r.q.ExecContext(ctx, query,
		change.To,
		change.At,
		nullString(change.DriverID),
		finalFare,
		nullString(change.CancelReason),
		change.RideID,
		change.From,
	)
	if err != nil {
		return false, err
	}

	ok, err = affectedOne(result)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	// Distinguish a lost race from a missing ride.
	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM rides WHERE id = $1)`, change.RideID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, repository.ErrNotFound
	}
	return false, nil
}

// GetActiveByDriverID returns the driver's in-flight ride.
func (r *RideRepository) GetActiveByDriverID(ctx context.Context, driverID string) (*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides
		WHERE driver_id = $1 AND status IN ('DRIVER_ASSIGNED', 'DRIVER_ARRIVING', 'DRIVER_ARRIVED', 'IN_PROGRESS')
		ORDER BY driver_assigned_at DESC
		LIMIT 1`

	ride, err := scanRide(r.q.QueryRowContext(ctx, query, driverID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return ride, nil
}

// ListByStatus returns rides in the given status, oldest first.
func (r *RideRepository) ListByStatus(ctx context.Context, status domain.RideStatus, limit int) ([]*domain.Ride, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + rideColumns + ` FROM rides WHERE status = $1 ORDER BY requested_at ASC LIMIT $2`

	rows, err := r.q.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rides []*domain.Ride
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		rides = append(rides, ride)
	}
	return rides, rows.Err()
}

// TouchLastNotification stamps the ride's last emergency alert time.
func (r *RideRepository) TouchLastNotification(ctx context.Context, id string, at time.Time) error {
	result, err := r.q.ExecContext(ctx, `UPDATE rides SET last_notification = $1 WHERE id = $2`, at, id)
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

func scanRide(row rowScanner) (*domain.Ride, error) {
	var ride domain.Ride
	var (
		driverID           sql.NullString
		pickupAddress      sql.NullString
		destinationAddress sql.NullString
		finalFare          sql.NullFloat64
		assignedAt         sql.NullTime
		arrivingAt         sql.NullTime
		arrivedAt          sql.NullTime
		startedAt          sql.NullTime
		completedAt        sql.NullTime
		cancelledAt        sql.NullTime
		cancelReason       sql.NullString
		lastNotification   sql.NullTime
	)

	err := row.Scan(
		&ride.ID,
		&ride.PassengerID,
		&driverID,
		&ride.Pickup.Lat,
		&ride.Pickup.Lng,
		&pickupAddress,
		&ride.Destination.Lat,
		&ride.Destination.Lng,
		&destinationAddress,
		&ride.Status,
		&ride.VehicleType,
		&ride.EstimatedFare,
		&finalFare,
		&ride.DistanceKm,
		&ride.DurationMinutes,
		&ride.SurgeMultiplier,
		&ride.RequestedAt,
		&assignedAt,
		&arrivingAt,
		&arrivedAt,
		&startedAt,
		&completedAt,
		&cancelledAt,
		&cancelReason,
		&lastNotification,
	)
	if err != nil {
		return nil, err
	}

	ride.DriverID = driverID.String
	ride.Pickup.Address = pickupAddress.String
	ride.Destination.Address = destinationAddress.String
	ride.CancelReason = cancelReason.String
	if finalFare.Valid {
		fare := finalFare.Float64
		ride.FinalFare = &fare
	}
	ride.DriverAssignedAt = timePtr(assignedAt)
	ride.DriverArrivingAt = timePtr(arrivingAt)
	ride.DriverArrivedAt = timePtr(arrivedAt)
	ride.RideStartedAt = timePtr(startedAt)
	ride.RideCompletedAt = timePtr(completedAt)
	ride.CancelledAt = timePtr(cancelledAt)
	ride.LastNotification = timePtr(lastNotification)

	return &ride, nil
}
