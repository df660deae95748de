package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/logging"
	"ridedispatch/internal/redis"
)

func TestSaveCoordinates_RejectsOutOfRange(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addDriver(t, "driver-1", domain.VehicleTypeRegular, origin)

	cases := []struct {
		name string
		p    domain.Point
	}{
		{"lat too high", domain.Point{Lat: 91, Lng: 0}},
		{"lat too low", domain.Point{Lat: -91, Lng: 0}},
		{"lng too low", domain.Point{Lat: 0, Lng: -181}},
		{"lng too high", domain.Point{Lat: 0, Lng: 181}},
		{"nan", domain.Point{Lat: math.NaN(), Lng: 0}},
		{"inf", domain.Point{Lat: 0, Lng: math.Inf(1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.tracker.SaveCoordinates(ctx, "driver-1", tc.p)
			if !errors.Is(err, ErrInvalidLocation) || !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrInvalidLocation", err)
			}
		})
	}

	d, _ := env.drivers.GetByID(ctx, "driver-1")
	if d.Location == nil || !d.Location.Equal(origin) {
		t.Errorf("rejected update changed location to %+v", d.Location)
	}
}

func TestSaveCoordinates_AcceptsBoundaries(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addDriver(t, "driver-1", domain.VehicleTypeRegular, origin)

	for _, p := range []domain.Point{
		{Lat: 90, Lng: 180},
		{Lat: -90, Lng: -180},
		{Lat: 0, Lng: 0},
	} {
		if _, err := env.tracker.SaveCoordinates(ctx, "driver-1", p); err != nil {
			t.Errorf("SaveCoordinates(%+v) = %v", p, err)
		}
	}
}

// mercatorGeo rejects the latitudes a Redis GEO set cannot hold.
type mercatorGeo struct {
	redis.GeoIndexInterface
}

func (g mercatorGeo) Update(ctx context.Context, kind domain.EntityKind, id string, p domain.Point) error {
	if math.Abs(p.Lat) > 85.05112878 {
		return errors.New("ERR invalid longitude,latitude pair")
	}
	return g.GeoIndexInterface.Update(ctx, kind, id, p)
}

func TestSaveCoordinates_IndexFailureKeepsUpdate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tracker := NewLocationTracker(env.drivers, env.rides, mercatorGeo{env.geo}, logging.Discard())
	if err := env.drivers.Create(ctx, &domain.Driver{ID: "driver-1", VehicleType: domain.VehicleTypeRegular}); err != nil {
		t.Fatal(err)
	}

	pos, err := tracker.SaveCoordinates(ctx, "driver-1", domain.Point{Lat: 90, Lng: 180})
	if err != nil {
		t.Fatalf("SaveCoordinates(pole) = %v", err)
	}
	if pos.Location.Lat != 90 {
		t.Errorf("location = %+v, want lat 90", pos.Location)
	}
	d, _ := env.drivers.GetByID(ctx, "driver-1")
	if d.Location == nil || d.Location.Lat != 90 || d.Location.Lng != 180 {
		t.Errorf("stored location = %+v, want (90, 180)", d.Location)
	}

	// The next indexable update repairs the index.
	if _, err := tracker.SaveCoordinates(ctx, "driver-1", origin); err != nil {
		t.Fatalf("SaveCoordinates(origin) = %v", err)
	}
	hits, _ := env.geo.Nearby(ctx, domain.EntityDriver, origin, 0.1, 0)
	if len(hits) != 1 || hits[0].ID != "driver-1" {
		t.Errorf("index hits = %+v, want driver-1", hits)
	}
}

func TestSaveCoordinates_BearingNeedsTwoDistinctPoints(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	if err := env.drivers.Create(ctx, &domain.Driver{ID: "driver-1", VehicleType: domain.VehicleTypeRegular}); err != nil {
		t.Fatal(err)
	}

	first, err := env.tracker.SaveCoordinates(ctx, "driver-1", origin)
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	if first.Bearing != nil || first.PreLocation != nil {
		t.Errorf("first update = %+v, want no bearing and no previous point", first)
	}

	same, err := env.tracker.SaveCoordinates(ctx, "driver-1", origin)
	if err != nil {
		t.Fatalf("repeat update: %v", err)
	}
	if same.Bearing != nil {
		t.Errorf("bearing for stationary driver = %v, want nil", *same.Bearing)
	}

	moved, err := env.tracker.SaveCoordinates(ctx, "driver-1", northOfOrig)
	if err != nil {
		t.Fatalf("moving update: %v", err)
	}
	if moved.PreLocation == nil || !moved.PreLocation.Equal(origin) {
		t.Errorf("PreLocation = %+v, want %+v", moved.PreLocation, origin)
	}
	if moved.Bearing == nil || math.Abs(*moved.Bearing) > 0.01 {
		t.Errorf("bearing = %v, want ~0 (due north)", moved.Bearing)
	}

	east, _ := env.tracker.SaveCoordinates(ctx, "driver-1", domain.Point{Lat: northOfOrig.Lat, Lng: northOfOrig.Lng + 0.01})
	if east.Bearing == nil || math.Abs(*east.Bearing-90) > 0.1 {
		t.Errorf("bearing = %v, want ~90 (east)", east.Bearing)
	}
}

func TestSaveCoordinates_UnknownDriver(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.tracker.SaveCoordinates(context.Background(), "ghost", origin); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveCoordinates_ConcurrentUpdatesKeepPairConsistent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addDriver(t, "driver-1", domain.VehicleTypeRegular, origin)

	const n = 50
	points := make(map[domain.Point]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		p := domain.Point{Lat: origin.Lat + float64(i+1)*0.0001, Lng: origin.Lng}
		points[p] = true
		wg.Add(1)
		go func(p domain.Point) {
			defer wg.Done()
			if _, err := env.tracker.SaveCoordinates(ctx, "driver-1", p); err != nil {
				t.Errorf("SaveCoordinates: %v", err)
			}
		}(p)
	}
	wg.Wait()

	d, _ := env.drivers.GetByID(ctx, "driver-1")
	if d.Location == nil || !points[*d.Location] {
		t.Fatalf("final location %+v was never written", d.Location)
	}
	if d.PreLocation == nil || d.PreLocation.Equal(*d.Location) {
		t.Errorf("previous point %+v should differ from current %+v", d.PreLocation, d.Location)
	}
	if !points[*d.PreLocation] && !d.PreLocation.Equal(origin) {
		t.Errorf("previous point %+v was never written", d.PreLocation)
	}
}

func TestSaveCoordinates_IndependentDriversInParallel(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	for i := 0; i < 10; i++ {
		env.addDriver(t, fmt.Sprintf("driver-%d", i), domain.VehicleTypeRegular, origin)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("driver-%d", i)
			for step := 1; step <= 20; step++ {
				p := domain.Point{Lat: origin.Lat + float64(step)*0.0001, Lng: origin.Lng + float64(i)*0.001}
				if _, err := env.tracker.SaveCoordinates(ctx, id, p); err != nil {
					t.Errorf("%s step %d: %v", id, step, err)
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		d, _ := env.drivers.GetByID(ctx, fmt.Sprintf("driver-%d", i))
		want := domain.Point{Lat: origin.Lat + 20*0.0001, Lng: origin.Lng + float64(i)*0.001}
		if !d.Location.Equal(want) {
			t.Errorf("driver-%d location = %+v, want %+v", i, d.Location, want)
		}
	}
}

func TestSetDriverOffline(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addDriver(t, "idle", domain.VehicleTypeRegular, origin)
	env.addDriver(t, "busy", domain.VehicleTypeRegular, origin)
	env.addRide(t, "ride-1", "passenger-1", domain.VehicleTypeRegular, origin)
	if _, err := env.dispatch.AssignDriver(ctx, "ride-1", "busy"); err != nil {
		t.Fatalf("AssignDriver: %v", err)
	}

	if err := env.tracker.SetDriverOffline(ctx, "busy"); !errors.Is(err, ErrDriverHasActiveRide) {
		t.Errorf("busy driver offline err = %v, want ErrDriverHasActiveRide", err)
	}

	if err := env.tracker.SetDriverOffline(ctx, "idle"); err != nil {
		t.Fatalf("SetDriverOffline: %v", err)
	}
	d, _ := env.drivers.GetByID(ctx, "idle")
	if d.IsOnline || d.IsAvailable {
		t.Errorf("idle driver = online %v available %v, want both false", d.IsOnline, d.IsAvailable)
	}
	hits, _ := env.geo.Nearby(ctx, domain.EntityDriver, origin, 1, 0)
	for _, h := range hits {
		if h.ID == "idle" {
			t.Error("offline driver still in geo index")
		}
	}

	if err := env.tracker.SetDriverOnline(ctx, "idle"); err != nil {
		t.Fatalf("SetDriverOnline: %v", err)
	}
	got, _ := env.dispatch.FindAvailableDrivers(ctx, DriverSearch{Location: origin})
	if len(got) != 1 || got[0].Driver.ID != "idle" {
		t.Errorf("available after online = %+v, want [idle]", got)
	}
}

func TestSetDriverOnline_DoesNotFreeBusyDriver(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addDriver(t, "driver-1", domain.VehicleTypeRegular, origin)
	env.addRide(t, "ride-1", "passenger-1", domain.VehicleTypeRegular, origin)
	env.addRide(t, "ride-2", "passenger-2", domain.VehicleTypeRegular, origin)

	if _, err := env.dispatch.AssignDriver(ctx, "ride-1", "driver-1"); err != nil {
		t.Fatalf("AssignDriver(ride-1): %v", err)
	}
	if err := env.tracker.SetDriverOnline(ctx, "driver-1"); err != nil {
		t.Fatalf("SetDriverOnline: %v", err)
	}

	if _, err := env.dispatch.AssignDriver(ctx, "ride-2", "driver-1"); !errors.Is(err, ErrDriverUnavailable) {
		t.Fatalf("AssignDriver(ride-2) err = %v, want ErrDriverUnavailable", err)
	}
	second, _ := env.rides.GetByID(ctx, "ride-2")
	if second.Status != domain.RideStatusRequested || second.DriverID != "" {
		t.Errorf("ride-2 = %s/%q, want REQUESTED with no driver", second.Status, second.DriverID)
	}
	if got, _ := env.dispatch.FindAvailableDrivers(ctx, DriverSearch{Location: origin}); len(got) != 0 {
		t.Errorf("busy driver listed as available: %+v", got)
	}
}

func TestSaveUserCoordinates(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	if err := env.tracker.SaveUserCoordinates(ctx, "user-1", domain.Point{Lat: 0, Lng: 200}); !errors.Is(err, ErrInvalidLocation) {
		t.Errorf("err = %v, want ErrInvalidLocation", err)
	}
	if err := env.tracker.SaveUserCoordinates(ctx, "", origin); !errors.Is(err, ErrInvalidUserID) {
		t.Errorf("err = %v, want ErrInvalidUserID", err)
	}
	if err := env.tracker.SaveUserCoordinates(ctx, "user-1", origin); err != nil {
		t.Fatalf("SaveUserCoordinates: %v", err)
	}
	hits, _ := env.geo.Nearby(ctx, domain.EntityUser, origin, 0.1, 0)
	if len(hits) != 1 || hits[0].ID != "user-1" {
		t.Errorf("user hits = %+v", hits)
	}

	if err := env.tracker.RemoveUser(ctx, "user-1"); err != nil {
		t.Fatalf("RemoveUser: %v", err)
	}
	if hits, _ := env.geo.Nearby(ctx, domain.EntityUser, origin, 0.1, 0); len(hits) != 0 {
		t.Errorf("user still indexed: %+v", hits)
	}
}

func TestCalculateDistance(t *testing.T) {
	env := newTestEnv(t)
	// One degree of latitude.
	got := env.tracker.CalculateDistance(domain.Point{Lat: 0, Lng: 0}, domain.Point{Lat: 1, Lng: 0})
	if math.Abs(got-111.19) > 0.01 {
		t.Errorf("distance = %v, want ~111.19", got)
	}
}
