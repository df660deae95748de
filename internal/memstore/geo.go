// Package memstore holds in-process implementations of the Redis-backed
// stores: geo index, offer locks and the emergency alert debounce store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/geo"
	"ridedispatch/internal/redis"
)

// GeoIndex is a linear-scan radius index. Fine for small fleets and tests.
type GeoIndex struct {
	mu     sync.RWMutex
	points map[domain.EntityKind]map[string]domain.Point
}

var _ redis.GeoIndexInterface = (*GeoIndex)(nil)

// NewGeoIndex creates an empty GeoIndex.
func NewGeoIndex() *GeoIndex {
	return &GeoIndex{points: make(map[domain.EntityKind]map[string]domain.Point)}
}

// Update stores an entity's position.
func (g *GeoIndex) Update(_ context.Context, kind domain.EntityKind, id string, p domain.Point) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	byID, ok := g.points[kind]
	if !ok {
		byID = make(map[string]domain.Point)
		g.points[kind] = byID
	}
	byID[id] = domain.Point{Lat: p.Lat, Lng: p.Lng}
	return nil
}

// Nearby returns entities within radiusKm of p, nearest first.
func (g *GeoIndex) Nearby(_ context.Context, kind domain.EntityKind, p domain.Point, radiusKm float64, limit int) ([]domain.Nearby, error) {
	g.mu.RLock()
	hits := make([]domain.Nearby, 0)
	for id, pt := range g.points[kind] {
		d := geo.Haversine(p.Lat, p.Lng, pt.Lat, pt.Lng)
		if d <= radiusKm {
			hits = append(hits, domain.Nearby{ID: id, Point: pt, DistanceKm: d})
		}
	}
	g.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].DistanceKm == hits[j].DistanceKm {
			return hits[i].ID < hits[j].ID
		}
		return hits[i].DistanceKm < hits[j].DistanceKm
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Remove deletes an entity from the index.
func (g *GeoIndex) Remove(_ context.Context, kind domain.EntityKind, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.points[kind], id)
	return nil
}
