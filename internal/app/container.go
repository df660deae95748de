package app

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"ridedispatch/internal/config"
	"ridedispatch/internal/handler"
	"ridedispatch/internal/memstore"
	internalRedis "ridedispatch/internal/redis"
	"ridedispatch/internal/repository"
	"ridedispatch/internal/repository/memory"
	"ridedispatch/internal/repository/postgres"
	"ridedispatch/internal/service"
)

const sweepInterval = time.Minute

// Stores groups the persistence and coordination backends.
type Stores struct {
	Rides     repository.RideRepository
	Drivers   repository.DriverRepository
	Users     repository.UserRepository
	Geo       internalRedis.GeoIndexInterface
	Locks     internalRedis.LockStoreInterface
	Alerts    internalRedis.AlertStoreInterface
	Responses internalRedis.ResponseCacheInterface
}

// PostgresStores builds stores on PostgreSQL and Redis.
func PostgresStores(db *sql.DB, client *redis.Client) Stores {
	return Stores{
		Rides:     postgres.NewRideRepository(db),
		Drivers:   postgres.NewDriverRepository(db),
		Users:     postgres.NewUserRepository(db),
		Geo:       internalRedis.NewGeoIndex(client),
		Locks:     internalRedis.NewLockStore(client),
		Alerts:    internalRedis.NewAlertStore(client),
		Responses: internalRedis.NewResponseCache(client),
	}
}

// MemoryStores builds in-process stores. Expired alert records and cached
// responses are swept until ctx is done.
func MemoryStores(ctx context.Context) Stores {
	alerts := memstore.NewAlertStore(nil)
	alerts.Run(ctx, sweepInterval)

	responses := memstore.NewResponseCache(nil)
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				responses.Sweep()
			}
		}
	}()

	return Stores{
		Rides:     memory.NewRideRepository(),
		Drivers:   memory.NewDriverRepository(),
		Users:     memory.NewUserRepository(),
		Geo:       memstore.NewGeoIndex(),
		Locks:     memstore.NewLockStore(nil),
		Alerts:    alerts,
		Responses: responses,
	}
}

// Container holds the wired services and handlers.
type Container struct {
	Rides    *service.RideService
	Dispatch *service.DispatchEngine
	Tracker  *service.LocationTracker
	Corridor *service.EmergencyCorridorDetector
	Accounts *service.AccountService
	Runner   *service.BackgroundRunner

	RideHandler   *handler.RideHandler
	DriverHandler *handler.DriverHandler
	UserHandler   *handler.UserHandler
}

// NewContainer wires services over the given stores and gateway.
func NewContainer(cfg *config.Config, stores Stores, gateway service.NotificationGateway, logger *slog.Logger) *Container {
	runner := service.NewBackgroundRunner(cfg.Background.Workers, cfg.Background.TaskTimeout, logger)

	stateMachine := service.NewStateMachine(stores.Rides, stores.Drivers, gateway, logger)
	dispatch := service.NewDispatchEngine(stores.Rides, stores.Drivers, stores.Geo, stores.Locks, stateMachine, gateway, logger,
		service.DispatchConfig{
			RadiusKm:          cfg.Dispatch.RadiusKm,
			EmergencyRadiusKm: cfg.Dispatch.EmergencyRadiusKm,
			OfferFanout:       cfg.Dispatch.OfferFanout,
			OfferTTL:          cfg.Dispatch.OfferTTL,
		})
	corridor := service.NewEmergencyCorridorDetector(stores.Rides, stores.Geo, stores.Alerts, gateway, runner, logger,
		service.CorridorConfig{
			RadiusKm:      cfg.Corridor.RadiusKm,
			ConeDegrees:   cfg.Corridor.ConeDegrees,
			Debounce:      cfg.Corridor.Debounce,
			MaxCandidates: cfg.Corridor.MaxCandidates,
		})

	tracker := service.NewLocationTracker(stores.Drivers, stores.Rides, stores.Geo, logger)
	tracker.SetCorridorTrigger(corridor)

	surge := service.NewSurgeService(stores.Geo, stores.Rides)
	fares := service.NewFareCalculator(service.DefaultFareConfig())
	rides := service.NewRideService(stores.Rides, stores.Users, stateMachine, dispatch, surge, fares, runner, logger)
	accounts := service.NewAccountService(stores.Drivers, stores.Users)

	return &Container{
		Rides:    rides,
		Dispatch: dispatch,
		Tracker:  tracker,
		Corridor: corridor,
		Accounts: accounts,
		Runner:   runner,

		RideHandler:   handler.NewRideHandler(rides, dispatch, corridor),
		DriverHandler: handler.NewDriverHandler(accounts, tracker, rides, dispatch),
		UserHandler:   handler.NewUserHandler(accounts, tracker),
	}
}
