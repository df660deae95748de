package geo

import (
	"errors"
	"math"
	"testing"
)

func TestHaversine_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		lat1      float64
		lng1      float64
		lat2      float64
		lng2      float64
		wantKm    float64
		tolerance float64
	}{
		{
			name: "same point",
			lat1: 40.7128, lng1: -74.0060,
			lat2: 40.7128, lng2: -74.0060,
			wantKm:    0,
			tolerance: 1e-9,
		},
		{
			name: "lower manhattan to times square",
			lat1: 40.7128, lng1: -74.0060,
			lat2: 40.7589, lng2: -73.9851,
			wantKm:    5.4,
			tolerance: 0.4,
		},
		{
			name: "new york to los angeles",
			lat1: 40.7128, lng1: -74.0060,
			lat2: 34.0522, lng2: -118.2437,
			wantKm:    3944,
			tolerance: 50,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Haversine(tc.lat1, tc.lng1, tc.lat2, tc.lng2)
			if math.Abs(got-tc.wantKm) > tc.tolerance {
				t.Errorf("Haversine() = %.3f km, want %.3f ± %.3f", got, tc.wantKm, tc.tolerance)
			}
		})
	}
}

func TestHaversine_ManhattanWithinFiveToSix(t *testing.T) {
	got := Haversine(40.7128, -74.006, 40.7589, -73.9851)
	if got <= 5 || got >= 6 {
		t.Fatalf("expected distance between 5 and 6 km, got %.3f", got)
	}
}

func TestHaversine_Symmetric(t *testing.T) {
	pairs := [][4]float64{
		{40.7128, -74.006, 40.7589, -73.9851},
		{-33.8688, 151.2093, 51.5074, -0.1278},
		{0, 179.9, 0, -179.9},
	}
	for _, p := range pairs {
		ab := Haversine(p[0], p[1], p[2], p[3])
		ba := Haversine(p[2], p[3], p[0], p[1])
		if math.Abs(ab-ba) > 1e-9 {
			t.Errorf("Haversine not symmetric for %v: %f vs %f", p, ab, ba)
		}
	}
}

func TestBearing_CardinalDirections(t *testing.T) {
	tests := []struct {
		name string
		lat2 float64
		lng2 float64
		want float64
	}{
		{"north", 1, 0, 0},
		{"east", 0, 1, 90},
		{"south", -1, 0, 180},
		{"west", 0, -1, 270},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Bearing(0, 0, tc.lat2, tc.lng2)
			if math.Abs(got-tc.want) > 0.01 {
				t.Errorf("Bearing() = %.4f, want %.4f", got, tc.want)
			}
		})
	}
}

func TestBearing_AlwaysInRange(t *testing.T) {
	for lat := -80.0; lat <= 80; lat += 20 {
		for lng := -170.0; lng <= 170; lng += 34 {
			for _, d := range [][2]float64{{0.01, 0}, {-0.01, 0}, {0, 0.01}, {0, -0.01}, {-0.003, -0.007}, {0.005, -0.0001}} {
				got := Bearing(lat, lng, lat+d[0], lng+d[1])
				if got < 0 || got >= 360 {
					t.Fatalf("Bearing(%v,%v -> %v) = %v, out of [0,360)", lat, lng, d, got)
				}
			}
		}
	}
}

func TestAngleDifference(t *testing.T) {
	tests := []struct {
		a, b float64
		want float64
	}{
		{350, 10, 20},
		{10, 350, 20},
		{180, 0, 180},
		{270, 90, 180},
		{45, 45, 0},
		{0, 359, 1},
		{-90, 270, 0},
	}
	for _, tc := range tests {
		got := AngleDifference(tc.a, tc.b)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("AngleDifference(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestValidatePoint(t *testing.T) {
	tests := []struct {
		name    string
		lat     float64
		lng     float64
		wantErr error
	}{
		{"valid", 40.7, -74.0, nil},
		{"north pole boundary", 90, 0, nil},
		{"antimeridian boundary", 0, 180, nil},
		{"south west boundary", -90, -180, nil},
		{"lat too high", 91, 0, ErrLatitudeOutOfRange},
		{"lng too low", 0, -181, ErrLongitudeOutOfRange},
		{"nan", math.NaN(), 0, ErrNotFinite},
		{"inf", 0, math.Inf(1), ErrNotFinite},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ValidatePoint(tc.lat, tc.lng)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("ValidatePoint(%v, %v) = %v, want %v", tc.lat, tc.lng, err, tc.wantErr)
			}
		})
	}
}

func TestParseCoordinate(t *testing.T) {
	tests := []struct {
		raw     string
		want    float64
		wantErr error
	}{
		{"40.7128", 40.7128, nil},
		{`"-74.006"`, -74.006, nil},
		{"90", 90, nil},
		{"1.12345678", 1.12345678, nil},
		{"1.123456789", 0, ErrTooPrecise},
		{"abc", 0, ErrNotNumeric},
		{"", 0, ErrNotNumeric},
		{"NaN", 0, ErrNotFinite},
		{"Inf", 0, ErrNotFinite},
	}
	for _, tc := range tests {
		got, err := ParseCoordinate(tc.raw)
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("ParseCoordinate(%q) error = %v, want %v", tc.raw, err, tc.wantErr)
			continue
		}
		if err == nil && got != tc.want {
			t.Errorf("ParseCoordinate(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}
