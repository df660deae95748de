package service

import (
	"math"

	"ridedispatch/internal/domain"
)

// FareConfig holds the tariff.
type FareConfig struct {
	BaseFare         float64
	PerKmRate        float64
	PerMinuteRate    float64
	MinimumFare      float64
	EmergencyPremium float64 // multiplier applied to EMERGENCY rides
	MaxSurge         float64 // surge ceiling; EMERGENCY rides are priced at it
	AverageSpeedKmh  float64 // used to estimate duration from distance
}

// DefaultFareConfig returns the default tariff.
func DefaultFareConfig() FareConfig {
	return FareConfig{
		BaseFare:         2.0,
		PerKmRate:        1.2,
		PerMinuteRate:    0.5,
		MinimumFare:      5.0,
		EmergencyPremium: 1.5,
		MaxSurge:         DefaultSurgeConfig().MaxSurge,
		AverageSpeedKmh:  30,
	}
}

// FareCalculator prices rides.
type FareCalculator struct {
	cfg FareConfig
}

// NewFareCalculator creates a FareCalculator.
func NewFareCalculator(cfg FareConfig) *FareCalculator {
	return &FareCalculator{cfg: cfg}
}

// EstimateDuration returns the expected trip time in minutes.
func (c *FareCalculator) EstimateDuration(distanceKm float64) float64 {
	if c.cfg.AverageSpeedKmh <= 0 {
		return 0
	}
	return round2(distanceKm / c.cfg.AverageSpeedKmh * 60)
}

// SurgeFor returns the multiplier actually charged given the live surge at
// pickup. Regular rides pay live surge up to the ceiling. Emergency rides
// always pay the ceiling, so with the premium on top they cost strictly
// more than any regular ride of the same length.
func (c *FareCalculator) SurgeFor(vehicleType domain.VehicleType, live float64) float64 {
	ceiling := math.Max(c.cfg.MaxSurge, 1.0)
	if vehicleType == domain.VehicleTypeEmergency {
		return ceiling
	}
	if math.IsNaN(live) || live < 1.0 {
		return 1.0
	}
	return math.Min(live, ceiling)
}

// Fare prices a trip of the given distance and duration.
func (c *FareCalculator) Fare(distanceKm, minutes float64, vehicleType domain.VehicleType, surge float64) float64 {
	fare := c.cfg.BaseFare + distanceKm*c.cfg.PerKmRate + minutes*c.cfg.PerMinuteRate
	if fare < c.cfg.MinimumFare {
		fare = c.cfg.MinimumFare
	}
	if vehicleType == domain.VehicleTypeEmergency && c.cfg.EmergencyPremium > 0 {
		fare *= c.cfg.EmergencyPremium
	}
	fare *= c.SurgeFor(vehicleType, surge)
	return round2(fare)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
