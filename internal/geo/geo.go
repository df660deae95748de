// Package geo contains pure spherical geometry helpers used by dispatch,
// location tracking and corridor detection.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// EarthRadiusKm is the mean Earth radius used by Haversine.
const EarthRadiusKm = 6371.0

// MaxDecimalPlaces bounds the precision accepted from clients. Eight decimals
// is roughly a millimetre; anything finer is noise or a malformed value.
const MaxDecimalPlaces = 8

var (
	ErrLatitudeOutOfRange  = errors.New("latitude must be between -90 and 90")
	ErrLongitudeOutOfRange = errors.New("longitude must be between -180 and 180")
	ErrNotFinite           = errors.New("coordinate must be a finite number")
	ErrNotNumeric          = errors.New("coordinate must be numeric")
	ErrTooPrecise          = fmt.Errorf("coordinate has more than %d decimal places", MaxDecimalPlaces)
)

// Haversine returns the great-circle distance in kilometres between two
// points given in decimal degrees.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)

	rLat1 := toRadians(lat1)
	rLat2 := toRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// Bearing returns the initial bearing (forward azimuth) from point 1 to
// point 2, in degrees normalized to [0, 360).
func Bearing(lat1, lng1, lat2, lng2 float64) float64 {
	rLat1 := toRadians(lat1)
	rLat2 := toRadians(lat2)
	dLng := toRadians(lng2 - lng1)

	y := math.Sin(dLng) * math.Cos(rLat2)
	x := math.Cos(rLat1)*math.Sin(rLat2) - math.Sin(rLat1)*math.Cos(rLat2)*math.Cos(dLng)

	return NormalizeDegrees(toDegrees(math.Atan2(y, x)))
}

// AngleDifference returns the smallest angle between two headings, in
// [0, 180]. It handles wraparound, so 350 and 10 are 20 degrees apart.
func AngleDifference(a, b float64) float64 {
	diff := math.Abs(NormalizeDegrees(a) - NormalizeDegrees(b))
	if diff > 180 {
		diff = 360 - diff
	}
	return diff
}

// NormalizeDegrees maps any angle into [0, 360).
func NormalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	// math.Mod of a tiny negative value can round up to exactly 360.
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// ValidatePoint checks that a coordinate pair is finite and in range.
// Boundary values (±90, ±180) are accepted.
func ValidatePoint(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return ErrNotFinite
	}
	if lat < -90 || lat > 90 {
		return ErrLatitudeOutOfRange
	}
	if lng < -180 || lng > 180 {
		return ErrLongitudeOutOfRange
	}
	return nil
}

// ParseCoordinate parses a raw client value (a JSON number or a string)
// into a float. It rejects non-numeric text, NaN/Inf and values with more
// than MaxDecimalPlaces fractional digits. Range checks are left to
// ValidatePoint.
func ParseCoordinate(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, `"`)
	if s == "" {
		return 0, ErrNotNumeric
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, ErrNotNumeric
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrNotFinite
	}
	if decimalPlaces(s) > MaxDecimalPlaces {
		return 0, ErrTooPrecise
	}
	return v, nil
}

func decimalPlaces(s string) int {
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		s = s[:i]
	}
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return 0
	}
	return len(s) - dot - 1
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

func toDegrees(rad float64) float64 {
	return rad * 180.0 / math.Pi
}
