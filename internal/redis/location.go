package redis

import (
	"context"
	"math"

	"github.com/redis/go-redis/v9"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/geo"
)

// GeoIndex keeps the last known position of drivers and users in Redis GEO
// sets, one sorted set per entity kind.
type GeoIndex struct {
	client *redis.Client
}

// NewGeoIndex creates a new GeoIndex.
func NewGeoIndex(client *redis.Client) *GeoIndex {
	return &GeoIndex{client: client}
}

// Redis GEO rejects latitudes outside the Web Mercator range.
const maxGeoLatitude = 85.05112878

func geoKey(kind domain.EntityKind) string {
	return string(kind) + ":locations"
}

// indexable clamps p into the range GEOADD and GEOSEARCH accept. Valid
// polar points are stored at the nearest latitude Redis can index.
func indexable(p domain.Point) domain.Point {
	p.Lat = math.Max(-maxGeoLatitude, math.Min(maxGeoLatitude, p.Lat))
	return p
}

// Update stores an entity's position using GEOADD.
func (s *GeoIndex) Update(ctx context.Context, kind domain.EntityKind, id string, p domain.Point) error {
	p = indexable(p)
	return s.client.GeoAdd(ctx, geoKey(kind), &redis.GeoLocation{
		Name:      id,
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

// Nearby returns entities within radiusKm of p, nearest first. A limit of
// zero or less means no limit.
//
// Redis computes distances with its own Earth radius, so the reported
// distance is recomputed with Haversine and the radius re-checked to keep
// results consistent with the in-memory index.
func (s *GeoIndex) Nearby(ctx context.Context, kind domain.EntityKind, p domain.Point, radiusKm float64, limit int) ([]domain.Nearby, error) {
	p = indexable(p)
	query := &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  p.Lng,
			Latitude:   p.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
	}
	if limit > 0 {
		query.Count = limit
	}

	results, err := s.client.GeoSearchLocation(ctx, geoKey(kind), query).Result()
	if err != nil {
		return nil, err
	}

	hits := make([]domain.Nearby, 0, len(results))
	for _, r := range results {
		d := geo.Haversine(p.Lat, p.Lng, r.Latitude, r.Longitude)
		if d > radiusKm {
			continue
		}
		hits = append(hits, domain.Nearby{
			ID:         r.Name,
			Point:      domain.Point{Lat: r.Latitude, Lng: r.Longitude},
			DistanceKm: d,
		})
	}
	return hits, nil
}

// Remove deletes an entity from the geo index.
func (s *GeoIndex) Remove(ctx context.Context, kind domain.EntityKind, id string) error {
	return s.client.ZRem(ctx, geoKey(kind), id).Err()
}
