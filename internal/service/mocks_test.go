package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/logging"
	"ridedispatch/internal/memstore"
	"ridedispatch/internal/repository/memory"
)

// recordingGateway records every notification it is given.
type recordingGateway struct {
	mu   sync.Mutex
	sent []Notification
	fail bool
}

func (g *recordingGateway) SendNotification(_ context.Context, n Notification) (*DeliveryResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, n)
	if g.fail {
		return nil, errors.New("gateway down")
	}
	return &DeliveryResult{Delivered: true, DeliveryChannels: []string{"test"}}, nil
}

func (g *recordingGateway) setFail(fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail = fail
}

func (g *recordingGateway) byType(t NotificationType) []Notification {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Notification
	for _, n := range g.sent {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

func (g *recordingGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

// testEnv wires every service over in-memory stores.
type testEnv struct {
	rides   *memory.RideRepository
	drivers *memory.DriverRepository
	users   *memory.UserRepository
	geo     *memstore.GeoIndex
	locks   *memstore.LockStore
	alerts  *memstore.AlertStore
	gateway *recordingGateway

	stateMachine *StateMachine
	dispatch     *DispatchEngine
	tracker      *LocationTracker
	corridor     *EmergencyCorridorDetector
	rideService  *RideService
	accounts     *AccountService
}

// newTestEnv builds the services without a background runner, so offer
// distribution and corridor detection run inline.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logging.Discard()

	env := &testEnv{
		rides:   memory.NewRideRepository(),
		drivers: memory.NewDriverRepository(),
		users:   memory.NewUserRepository(),
		geo:     memstore.NewGeoIndex(),
		locks:   memstore.NewLockStore(nil),
		alerts:  memstore.NewAlertStore(nil),
		gateway: &recordingGateway{},
	}
	env.stateMachine = NewStateMachine(env.rides, env.drivers, env.gateway, logger)
	env.dispatch = NewDispatchEngine(env.rides, env.drivers, env.geo, env.locks, env.stateMachine, env.gateway, logger, DefaultDispatchConfig())
	env.corridor = NewEmergencyCorridorDetector(env.rides, env.geo, env.alerts, env.gateway, nil, logger, DefaultCorridorConfig())
	env.tracker = NewLocationTracker(env.drivers, env.rides, env.geo, logger)
	env.tracker.SetCorridorTrigger(env.corridor)
	env.rideService = NewRideService(env.rides, env.users, env.stateMachine, env.dispatch, nil, NewFareCalculator(DefaultFareConfig()), nil, logger)
	env.accounts = NewAccountService(env.drivers, env.users)
	return env
}

func (env *testEnv) addUser(t *testing.T, id string) {
	t.Helper()
	if err := env.users.Create(context.Background(), &domain.User{ID: id, Name: id, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("create user %s: %v", id, err)
	}
}

// addDriver registers an online, available driver at p.
func (env *testEnv) addDriver(t *testing.T, id string, vt domain.VehicleType, p domain.Point) {
	t.Helper()
	ctx := context.Background()
	if err := env.drivers.Create(ctx, &domain.Driver{ID: id, Name: id, VehicleType: vt}); err != nil {
		t.Fatalf("create driver %s: %v", id, err)
	}
	if _, err := env.tracker.SaveCoordinates(ctx, id, p); err != nil {
		t.Fatalf("locate driver %s: %v", id, err)
	}
	if err := env.tracker.SetDriverOnline(ctx, id); err != nil {
		t.Fatalf("online driver %s: %v", id, err)
	}
}

// addRide stores a REQUESTED ride directly, without offers.
func (env *testEnv) addRide(t *testing.T, id, passengerID string, vt domain.VehicleType, pickup domain.Point) *domain.Ride {
	t.Helper()
	ride := &domain.Ride{
		ID:              id,
		PassengerID:     passengerID,
		Pickup:          pickup,
		Destination:     domain.Point{Lat: pickup.Lat + 0.05, Lng: pickup.Lng + 0.05},
		Status:          domain.RideStatusRequested,
		VehicleType:     vt,
		EstimatedFare:   10,
		SurgeMultiplier: 1.0,
		RequestedAt:     time.Now(),
	}
	if err := env.rides.Create(context.Background(), ride); err != nil {
		t.Fatalf("create ride %s: %v", id, err)
	}
	return ride
}

var (
	// Times Square and a few points around it.
	origin      = domain.Point{Lat: 40.7580, Lng: -73.9855}
	northOfOrig = domain.Point{Lat: 40.7620, Lng: -73.9855}
	southOfOrig = domain.Point{Lat: 40.7540, Lng: -73.9855}
	eastOfOrig  = domain.Point{Lat: 40.7580, Lng: -73.9800}
)
