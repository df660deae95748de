package domain

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat     float64
	Lng     float64
	Address string
}

// Equal reports whether two points share the same coordinates.
func (p Point) Equal(o Point) bool {
	return p.Lat == o.Lat && p.Lng == o.Lng
}

// EntityKind selects which population a radius query searches.
type EntityKind string

const (
	EntityDriver EntityKind = "drivers"
	EntityUser   EntityKind = "users"
)

// Nearby is a single radius query hit.
type Nearby struct {
	ID         string
	Point      Point
	DistanceKm float64
}
