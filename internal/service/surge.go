package service

import (
	"context"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/geo"
	"ridedispatch/internal/redis"
	"ridedispatch/internal/repository"
)

// SurgeService calculates surge pricing based on supply and demand.
type SurgeService struct {
	geoIndex redis.GeoIndexInterface
	rideRepo repository.RideRepository
	config   SurgeConfig
}

// NewSurgeService creates a new SurgeService.
func NewSurgeService(
	geoIndex redis.GeoIndexInterface,
	rideRepo repository.RideRepository,
) *SurgeService {
	return &SurgeService{
		geoIndex: geoIndex,
		rideRepo: rideRepo,
		config:   DefaultSurgeConfig(),
	}
}

// SurgeConfig contains surge pricing configuration.
type SurgeConfig struct {
	RadiusKm       float64 // Radius to check for supply/demand
	LowSurgeRatio  float64 // Demand/supply ratio for 1.25x surge
	MedSurgeRatio  float64 // Demand/supply ratio for 1.5x surge
	HighSurgeRatio float64 // Demand/supply ratio for 2.0x surge
	MaxSurge       float64 // Maximum surge multiplier
	DemandScan     int     // Pending rides examined for demand
}

// DefaultSurgeConfig returns the default surge configuration.
func DefaultSurgeConfig() SurgeConfig {
	return SurgeConfig{
		RadiusKm:       5.0,
		LowSurgeRatio:  1.2,
		MedSurgeRatio:  1.5,
		HighSurgeRatio: 2.0,
		MaxSurge:       2.0,
		DemandScan:     500,
	}
}

// GetMultiplier calculates the surge multiplier for a location.
// Returns 1.0 if no surge, up to MaxSurge if demand outstrips supply.
func (s *SurgeService) GetMultiplier(ctx context.Context, p domain.Point) float64 {
	supply := s.countDriversInArea(ctx, p)
	demand := s.countPendingRequestsInArea(ctx, p)
	return s.calculateSurgeMultiplier(supply, demand)
}

func (s *SurgeService) countDriversInArea(ctx context.Context, p domain.Point) int {
	drivers, err := s.geoIndex.Nearby(ctx, domain.EntityDriver, p, s.config.RadiusKm, 0)
	if err != nil {
		// Fail open: a lookup error must not surge the price.
		return 10
	}
	return len(drivers)
}

func (s *SurgeService) countPendingRequestsInArea(ctx context.Context, p domain.Point) int {
	rides, err := s.rideRepo.ListByStatus(ctx, domain.RideStatusRequested, s.config.DemandScan)
	if err != nil {
		return 0
	}

	count := 0
	for _, ride := range rides {
		if geo.Haversine(p.Lat, p.Lng, ride.Pickup.Lat, ride.Pickup.Lng) <= s.config.RadiusKm {
			count++
		}
	}
	return count
}

func (s *SurgeService) calculateSurgeMultiplier(supply, demand int) float64 {
	config := s.config
	if supply == 0 {
		if demand > 0 {
			return config.MaxSurge
		}
		return 1.0
	}

	ratio := float64(demand) / float64(supply)
	switch {
	case ratio >= config.HighSurgeRatio:
		return config.MaxSurge
	case ratio >= config.MedSurgeRatio:
		return 1.5
	case ratio >= config.LowSurgeRatio:
		return 1.25
	default:
		return 1.0
	}
}
