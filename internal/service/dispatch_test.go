package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ridedispatch/internal/domain"
)

func TestFindAvailableDrivers_NearestFirstAndFiltered(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addDriver(t, "far", domain.VehicleTypeRegular, domain.Point{Lat: 40.7800, Lng: -73.9855})
	env.addDriver(t, "near", domain.VehicleTypeRegular, northOfOrig)
	env.addDriver(t, "ambulance", domain.VehicleTypeEmergency, northOfOrig)
	env.addDriver(t, "offline", domain.VehicleTypeRegular, northOfOrig)
	if err := env.tracker.SetDriverOffline(ctx, "offline"); err != nil {
		t.Fatalf("SetDriverOffline: %v", err)
	}
	env.addDriver(t, "out-of-range", domain.VehicleTypeRegular, domain.Point{Lat: 41.2, Lng: -73.9855})

	got, err := env.dispatch.FindAvailableDrivers(ctx, DriverSearch{Location: origin})
	if err != nil {
		t.Fatalf("FindAvailableDrivers: %v", err)
	}

	var ids []string
	for _, d := range got {
		ids = append(ids, d.Driver.ID)
	}
	if len(ids) != 2 || ids[0] != "near" || ids[1] != "far" {
		t.Fatalf("drivers = %v, want [near far]", ids)
	}
	if got[0].DistanceKm >= got[1].DistanceKm {
		t.Errorf("distances not ascending: %v, %v", got[0].DistanceKm, got[1].DistanceKm)
	}

	emergency, err := env.dispatch.FindAvailableDrivers(ctx, DriverSearch{Location: origin, Emergency: true})
	if err != nil {
		t.Fatalf("FindAvailableDrivers emergency: %v", err)
	}
	if len(emergency) != 1 || emergency[0].Driver.ID != "ambulance" {
		t.Errorf("emergency drivers = %+v, want [ambulance]", emergency)
	}
}

func TestFindAvailableDrivers_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		search DriverSearch
		want   error
	}{
		{"bad latitude", DriverSearch{Location: domain.Point{Lat: 91, Lng: 0}}, ErrInvalidLocation},
		{"negative radius", DriverSearch{Location: origin, RadiusKm: -1}, ErrInvalidRadius},
		{"negative limit", DriverSearch{Location: origin, Limit: -1}, ErrInvalidLimit},
		{"unknown vehicle", DriverSearch{Location: origin, VehicleType: "BUS"}, ErrInvalidVehicleType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.dispatch.FindAvailableDrivers(ctx, tc.search); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestFindAvailableDrivers_EmptyIsNotAnError(t *testing.T) {
	env := newTestEnv(t)
	got, err := env.dispatch.FindAvailableDrivers(context.Background(), DriverSearch{Location: origin})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil slice", got)
	}
}

func TestAssignDriver_ConcurrentDriversExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addRide(t, "ride-1", "passenger-1", domain.VehicleTypeRegular, origin)

	const n = 20
	for i := 0; i < n; i++ {
		env.addDriver(t, fmt.Sprintf("driver-%d", i), domain.VehicleTypeRegular, northOfOrig)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = env.dispatch.AssignDriver(ctx, "ride-1", fmt.Sprintf("driver-%d", i))
		}(i)
	}
	close(start)
	wg.Wait()

	winner := -1
	for i, err := range errs {
		switch {
		case err == nil:
			if winner != -1 {
				t.Fatalf("drivers %d and %d both won", winner, i)
			}
			winner = i
		case !errors.Is(err, ErrConflict):
			t.Errorf("driver-%d err = %v, want conflict", i, err)
		}
	}
	if winner == -1 {
		t.Fatal("no driver won the ride")
	}

	ride, _ := env.rides.GetByID(ctx, "ride-1")
	winnerID := fmt.Sprintf("driver-%d", winner)
	if ride.Status != domain.RideStatusDriverAssigned || ride.DriverID != winnerID {
		t.Errorf("ride = %s/%s, want DRIVER_ASSIGNED/%s", ride.Status, ride.DriverID, winnerID)
	}

	// Losers must be free again.
	for i := 0; i < n; i++ {
		d, _ := env.drivers.GetByID(ctx, fmt.Sprintf("driver-%d", i))
		if want := i != winner; d.IsAvailable != want {
			t.Errorf("driver-%d available = %v, want %v", i, d.IsAvailable, want)
		}
	}
}

func TestAssignDriver_SameDriverTwoRides(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addDriver(t, "driver-1", domain.VehicleTypeRegular, origin)
	env.addRide(t, "ride-1", "passenger-1", domain.VehicleTypeRegular, origin)
	env.addRide(t, "ride-2", "passenger-2", domain.VehicleTypeRegular, origin)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, rideID := range []string{"ride-1", "ride-2"} {
		wg.Add(1)
		go func(i int, rideID string) {
			defer wg.Done()
			_, errs[i] = env.dispatch.AssignDriver(ctx, rideID, "driver-1")
		}(i, rideID)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else if !errors.Is(err, ErrDriverUnavailable) {
			t.Errorf("err = %v, want ErrDriverUnavailable", err)
		}
	}
	if successes != 1 {
		t.Fatalf("successes = %d, want 1", successes)
	}
}

func TestAssignDriver_Rejections(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addDriver(t, "regular", domain.VehicleTypeRegular, origin)
	env.addDriver(t, "ambulance", domain.VehicleTypeEmergency, origin)
	env.addRide(t, "emergency-ride", "passenger-1", domain.VehicleTypeEmergency, origin)
	env.addRide(t, "cancelled-ride", "passenger-2", domain.VehicleTypeRegular, origin)
	if _, err := env.stateMachine.TransitionRideStatus(ctx, "cancelled-ride", domain.RideStatusCancelled, TransitionOptions{}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := env.dispatch.AssignDriver(ctx, "emergency-ride", "regular"); !errors.Is(err, ErrVehicleTypeMismatch) {
		t.Errorf("regular on emergency err = %v, want ErrVehicleTypeMismatch", err)
	}
	if _, err := env.dispatch.AssignDriver(ctx, "cancelled-ride", "regular"); !errors.Is(err, ErrConflict) {
		t.Errorf("cancelled ride err = %v, want conflict", err)
	}
	if _, err := env.dispatch.AssignDriver(ctx, "missing", "regular"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing ride err = %v, want ErrNotFound", err)
	}
	if _, err := env.dispatch.AssignDriver(ctx, "emergency-ride", ""); !errors.Is(err, ErrInvalidDriverID) {
		t.Errorf("empty driver err = %v, want ErrInvalidDriverID", err)
	}

	d, _ := env.drivers.GetByID(ctx, "regular")
	if !d.IsAvailable {
		t.Error("rejected driver lost availability")
	}
}

func TestDistributeRideOffers_TopKAndLocks(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	for i := 0; i < 7; i++ {
		env.addDriver(t, fmt.Sprintf("driver-%d", i), domain.VehicleTypeRegular,
			domain.Point{Lat: origin.Lat + float64(i+1)*0.001, Lng: origin.Lng})
	}
	env.addRide(t, "ride-1", "passenger-1", domain.VehicleTypeRegular, origin)
	env.addRide(t, "ride-2", "passenger-2", domain.VehicleTypeRegular, origin)

	offer, err := env.dispatch.DistributeRideOffers(ctx, "ride-1")
	if err != nil {
		t.Fatalf("DistributeRideOffers: %v", err)
	}
	want := []string{"driver-0", "driver-1", "driver-2", "driver-3", "driver-4"}
	if fmt.Sprint(offer.CandidateIDs) != fmt.Sprint(want) {
		t.Fatalf("candidates = %v, want %v", offer.CandidateIDs, want)
	}
	if got := len(env.gateway.byType(NotificationRideOffer)); got != 5 {
		t.Errorf("offers sent = %d, want 5", got)
	}

	// The second ride only gets drivers not reserved by the first.
	second, err := env.dispatch.DistributeRideOffers(ctx, "ride-2")
	if err != nil {
		t.Fatalf("DistributeRideOffers ride-2: %v", err)
	}
	if fmt.Sprint(second.CandidateIDs) != fmt.Sprint([]string{"driver-5", "driver-6"}) {
		t.Errorf("ride-2 candidates = %v", second.CandidateIDs)
	}

	// Accepting releases the other reservations.
	if _, err := env.dispatch.AssignDriver(ctx, "ride-1", "driver-2"); err != nil {
		t.Fatalf("AssignDriver: %v", err)
	}
	if _, ok := env.dispatch.GetOffer("ride-1"); ok {
		t.Error("offer still pending after acceptance")
	}
	holder, err := env.locks.DriverLockHolder(ctx, "driver-0")
	if err != nil || holder != "" {
		t.Errorf("driver-0 lock holder = %q (%v), want released", holder, err)
	}
}

func TestAssignDriver_KeepsOtherRidesReservation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addDriver(t, "driver-1", domain.VehicleTypeRegular, northOfOrig)
	env.addDriver(t, "driver-2", domain.VehicleTypeRegular, southOfOrig)
	env.addRide(t, "ride-1", "passenger-1", domain.VehicleTypeRegular, origin)

	// ride-1 reserves both drivers; ride-2 arrives afterwards with nobody
	// left to offer.
	if _, err := env.dispatch.DistributeRideOffers(ctx, "ride-1"); err != nil {
		t.Fatalf("DistributeRideOffers: %v", err)
	}
	env.addRide(t, "ride-2", "passenger-2", domain.VehicleTypeRegular, origin)

	// driver-2 takes ride-2 although it was offered ride-1.
	if _, err := env.dispatch.AssignDriver(ctx, "ride-2", "driver-2"); err != nil {
		t.Fatalf("AssignDriver: %v", err)
	}
	for _, id := range []string{"driver-1", "driver-2"} {
		holder, _ := env.locks.DriverLockHolder(ctx, id)
		if holder != "ride-1" {
			t.Errorf("%s lock holder = %q, want ride-1", id, holder)
		}
	}

	// An accepted offer frees the winner's own reservation.
	if _, err := env.dispatch.AssignDriver(ctx, "ride-1", "driver-1"); err != nil {
		t.Fatalf("AssignDriver ride-1: %v", err)
	}
	if holder, _ := env.locks.DriverLockHolder(ctx, "driver-1"); holder != "" {
		t.Errorf("driver-1 lock holder = %q, want released", holder)
	}
}

func TestDistributeRideOffers_NotRequested(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addRide(t, "ride-1", "passenger-1", domain.VehicleTypeRegular, origin)
	if _, err := env.stateMachine.TransitionRideStatus(ctx, "ride-1", domain.RideStatusCancelled, TransitionOptions{}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := env.dispatch.DistributeRideOffers(ctx, "ride-1"); !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want conflict", err)
	}
}

func TestGetOffer_Expires(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addDriver(t, "driver-1", domain.VehicleTypeRegular, northOfOrig)
	env.addRide(t, "ride-1", "passenger-1", domain.VehicleTypeRegular, origin)

	now := time.Now()
	env.dispatch.now = func() time.Time { return now }
	if _, err := env.dispatch.DistributeRideOffers(ctx, "ride-1"); err != nil {
		t.Fatalf("DistributeRideOffers: %v", err)
	}

	offer, ok := env.dispatch.GetOffer("ride-1")
	if !ok || offer.Status != OfferPending {
		t.Fatalf("offer = %+v, %v", offer, ok)
	}

	env.dispatch.now = func() time.Time { return now.Add(time.Minute) }
	offer, ok = env.dispatch.GetOffer("ride-1")
	if !ok || offer.Status != OfferExpired {
		t.Errorf("offer after ttl = %+v, %v, want EXPIRED", offer, ok)
	}
	if _, ok := env.dispatch.GetOffer("ride-1"); ok {
		t.Error("expired offer not forgotten")
	}
}

func TestGetAvailableDriversForRide_UsesRideVehicleType(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addDriver(t, "regular", domain.VehicleTypeRegular, northOfOrig)
	env.addDriver(t, "ambulance", domain.VehicleTypeEmergency, northOfOrig)
	env.addRide(t, "ride-1", "passenger-1", domain.VehicleTypeEmergency, origin)

	got, err := env.dispatch.GetAvailableDriversForRide(ctx, "ride-1")
	if err != nil {
		t.Fatalf("GetAvailableDriversForRide: %v", err)
	}
	if len(got) != 1 || got[0].Driver.ID != "ambulance" {
		t.Errorf("drivers = %+v, want [ambulance]", got)
	}
}
