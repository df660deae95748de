package redis

import (
	"testing"

	"ridedispatch/internal/domain"
)

func TestIndexable_ClampsToGeoRange(t *testing.T) {
	tests := []struct {
		name string
		in   domain.Point
		want domain.Point
	}{
		{"north pole", domain.Point{Lat: 90, Lng: 180}, domain.Point{Lat: maxGeoLatitude, Lng: 180}},
		{"south pole", domain.Point{Lat: -90, Lng: -180}, domain.Point{Lat: -maxGeoLatitude, Lng: -180}},
		{"edge", domain.Point{Lat: maxGeoLatitude, Lng: 0}, domain.Point{Lat: maxGeoLatitude, Lng: 0}},
		{"manhattan", domain.Point{Lat: 40.758, Lng: -73.9855}, domain.Point{Lat: 40.758, Lng: -73.9855}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := indexable(tt.in)
			if got.Lat != tt.want.Lat || got.Lng != tt.want.Lng {
				t.Errorf("indexable(%+v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestIndexable_KeepsAddress(t *testing.T) {
	got := indexable(domain.Point{Lat: 89.9, Lng: 10, Address: "pole"})
	if got.Address != "pole" {
		t.Errorf("address = %q, want pole", got.Address)
	}
}
