package service

import (
	"context"
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

// CorridorConfig tunes emergency corridor detection.
type CorridorConfig struct {
	RadiusKm        float64       // default look-ahead radius
	ConeDegrees     float64       // half-angle of the forward cone
	Debounce        time.Duration // minimum gap between alerts per (ride, user)
	MaxCandidates   int           // cap on users examined per tick
	SendConcurrency int
}

// DefaultCorridorConfig returns the default corridor configuration.
func DefaultCorridorConfig() CorridorConfig {
	return CorridorConfig{
		RadiusKm:        1.0,
		ConeDegrees:     45,
		Debounce:        30 * time.Second,
		MaxCandidates:   200,
		SendConcurrency: 8,
	}
}

func (c CorridorConfig) withDefaults() CorridorConfig {
	d := DefaultCorridorConfig()
	if c.RadiusKm <= 0 {
		c.RadiusKm = d.RadiusKm
	}
	if c.ConeDegrees <= 0 || c.ConeDegrees > 180 {
		c.ConeDegrees = d.ConeDegrees
	}
	if c.Debounce <= 0 {
		c.Debounce = d.Debounce
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = d.MaxCandidates
	}
	if c.SendConcurrency <= 0 {
		c.SendConcurrency = d.SendConcurrency
	}
	return c
}

// CorridorRequest is one emergency vehicle tick.
type CorridorRequest struct {
	DriverID string
	RideID   string
	Lat      float64
	Lng      float64
	Bearing  float64 // vehicle heading in degrees
	RadiusKm float64 // 0 uses the configured default
}

// CorridorReport summarizes one detection pass.
type CorridorReport struct {
	UsersAhead []string `json:"users_ahead"`
	Alerted    []string `json:"alerted"`
	Debounced  []string `json:"debounced"`
	Failed     []string `json:"failed"`
}

// EmergencyCorridorDetector alerts users ahead of an emergency vehicle.
type EmergencyCorridorDetector struct {
	rideRepo repository.RideRepository
	geoIndex redis.GeoIndexInterface
	alerts   redis.AlertStoreInterface
	gateway  NotificationGateway
	runner   *BackgroundRunner
	logger   *slog.Logger
	cfg      CorridorConfig
	now      func() time.Time
}

// NewEmergencyCorridorDetector creates a new EmergencyCorridorDetector.
func NewEmergencyCorridorDetector(
	rideRepo repository.RideRepository,
	geoIndex redis.GeoIndexInterface,
	alerts redis.AlertStoreInterface,
	gateway NotificationGateway,
	runner *BackgroundRunner,
	logger *slog.Logger,
	cfg CorridorConfig,
) *EmergencyCorridorDetector {
	return &EmergencyCorridorDetector{
		rideRepo: rideRepo,
		geoIndex: geoIndex,
		alerts:   alerts,
		gateway:  gateway,
		runner:   runner,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// TriggerForDriver schedules detection in the background. It never blocks
// and never fails the location update that called it.
func (d *EmergencyCorridorDetector) TriggerForDriver(ctx context.Context, ride *domain.Ride, pos *UpdatedPosition) {
	if pos.Bearing == nil {
		return
	}
	req := CorridorRequest{
		DriverID: pos.DriverID,
		RideID:   ride.ID,
		Lat:      pos.Location.Lat,
		Lng:      pos.Location.Lng,
		Bearing:  *pos.Bearing,
	}
	if d.runner == nil {
		if _, err := d.Detect(ctx, req); err != nil {
			d.logger.WarnContext(ctx, "corridor detection failed", "ride_id", ride.ID, "error", err)
		}
		return
	}
	d.runner.Go(ctx, "corridor", func(ctx context.Context) error {
		_, err := d.Detect(ctx, req)
		return err
	})
}

// FindUsersAhead returns the users inside the forward cone of the vehicle
// and alerts each of them unless they were alerted for this ride within the
// debounce window.
func (d *EmergencyCorridorDetector) FindUsersAhead(ctx context.Context, req CorridorRequest) ([]string, error) {
	report, err := d.Detect(ctx, req)
	if err != nil {
		return nil, err
	}
	return report.UsersAhead, nil
}

// Detect is FindUsersAhead with a per-outcome breakdown.
func (d *EmergencyCorridorDetector) Detect(ctx context.Context, req CorridorRequest) (*CorridorReport, error) {
	start := time.Now()
	defer func() {
		observability.CorridorLatency.Observe(time.Since(start).Seconds())
	}()

	if req.DriverID == "" {
		return nil, ErrInvalidDriverID
	}
	if req.RideID == "" {
		return nil, ErrInvalidRideID
	}
	if err := geo.ValidatePoint(req.Lat, req.Lng); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	if math.IsNaN(req.Bearing) || math.IsInf(req.Bearing, 0) {
		return nil, ErrInvalidBearing
	}
	radiusKm := req.RadiusKm
	if math.IsNaN(radiusKm) || math.IsInf(radiusKm, 0) || radiusKm < 0 {
		return nil, ErrInvalidRadius
	}
	if radiusKm == 0 {
		radiusKm = d.cfg.RadiusKm
	}

	ride, err := d.rideRepo.GetByID(ctx, req.RideID)
	if err != nil {
		return nil, err
	}
	if !ride.IsEmergency() {
		return nil, validationError("ride %s is not an emergency ride", ride.ID)
	}
	if IsTerminalStatus(ride.Status) {
		return nil, fmt.Errorf("%w: ride %s is %s", ErrRideNotActive, ride.ID, ride.Status)
	}
	if ride.DriverID != req.DriverID {
		return nil, ErrCorridorDriverMismatch
	}

	origin := domain.Point{Lat: req.Lat, Lng: req.Lng}
	hits, err := d.geoIndex.Nearby(ctx, domain.EntityUser, origin, radiusKm, d.cfg.MaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("user radius query: %w", err)
	}

	heading := geo.NormalizeDegrees(req.Bearing)
	report := &CorridorReport{UsersAhead: []string{}}
	ahead := make([]domain.Nearby, 0, len(hits))
	for _, h := range hits {
		if h.ID == req.DriverID || h.ID == ride.PassengerID {
			continue
		}
		if h.Point.Equal(origin) {
			// Bearing to a co-located user is undefined.
			continue
		}
		toUser := geo.Bearing(req.Lat, req.Lng, h.Point.Lat, h.Point.Lng)
		if geo.AngleDifference(heading, toUser) >= d.cfg.ConeDegrees {
			continue
		}
		ahead = append(ahead, h)
		report.UsersAhead = append(report.UsersAhead, h.ID)
	}

	d.alertUsers(ctx, req, heading, ahead, report)

	if len(report.Alerted) > 0 {
		if err := d.rideRepo.TouchLastNotification(ctx, req.RideID, d.now()); err != nil {
			d.logger.WarnContext(ctx, "failed to stamp last notification", "ride_id", req.RideID, "error", err)
		}
	}

	d.logger.DebugContext(ctx, "corridor detection",
		"ride_id", req.RideID,
		"candidates", len(hits),
		"ahead", len(report.UsersAhead),
		"alerted", len(report.Alerted),
		"debounced", len(report.Debounced),
	)
	return report, nil
}

func (d *EmergencyCorridorDetector) alertUsers(ctx context.Context, req CorridorRequest, heading float64, users []domain.Nearby, report *CorridorReport) {
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(d.cfg.SendConcurrency)

	for _, u := range users {
		u := u
		g.Go(func() error {
			outcome := d.alertUser(ctx, req, heading, u)
			observability.EmergencyAlertsTotal.WithLabelValues(outcome).Inc()

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case "sent":
				report.Alerted = append(report.Alerted, u.ID)
			case "debounced":
				report.Debounced = append(report.Debounced, u.ID)
			default:
				report.Failed = append(report.Failed, u.ID)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (d *EmergencyCorridorDetector) alertUser(ctx context.Context, req CorridorRequest, heading float64, u domain.Nearby) string {
	marked, err := d.alerts.TryMark(ctx, req.RideID, u.ID, d.now(), d.cfg.Debounce)
	if err != nil {
		d.logger.WarnContext(ctx, "alert debounce store failed", "ride_id", req.RideID, "user_id", u.ID, "error", err)
		return "store_error"
	}
	if !marked {
		attrs := []any{"ride_id", req.RideID, "user_id", u.ID, "error", ErrAlertDebounced}
		if last, err := d.alerts.Get(ctx, req.RideID, u.ID); err == nil && last != nil {
			attrs = append(attrs, "last_alerted_at", *last)
		}
		d.logger.DebugContext(ctx, "alert suppressed", attrs...)
		return "debounced"
	}

	n := emergencyAheadNotification(req.RideID, req.DriverID, u.ID, u.DistanceKm, heading)
	res, err := d.gateway.SendNotification(ctx, n)
	if err == nil && (res == nil || res.Delivered) {
		// The window runs from delivery, not from the reservation.
		if err := d.alerts.Set(ctx, req.RideID, u.ID, d.now(), d.cfg.Debounce); err != nil {
			d.logger.WarnContext(ctx, "failed to record alert", "ride_id", req.RideID, "user_id", u.ID, "error", err)
		}
		return "sent"
	}

	reason := "not delivered"
	if err != nil {
		reason = err.Error()
	} else if res.FailedReason != "" {
		reason = res.FailedReason
	}
	d.logger.WarnContext(ctx, "emergency alert failed", "ride_id", req.RideID, "user_id", u.ID, "reason", reason)

	// Let a later tick try this user again.
	if err := d.alerts.Evict(ctx, req.RideID, u.ID); err != nil {
		d.logger.WarnContext(ctx, "failed to evict alert record", "ride_id", req.RideID, "user_id", u.ID, "error", err)
	}
	return "failed"
}

// CalculateBearing returns the forward azimuth from point 1 to point 2 in
// [0, 360).
func (d *EmergencyCorridorDetector) CalculateBearing(lat1, lng1, lat2, lng2 float64) float64 {
	return geo.Bearing(lat1, lng1, lat2, lng2)
}

// GetAngleDifference returns the smallest angle between two headings in
// [0, 180].
func (d *EmergencyCorridorDetector) GetAngleDifference(a, b float64) float64 {
	return geo.AngleDifference(a, b)
}
