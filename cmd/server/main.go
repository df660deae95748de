package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/newrelic"

	"ridedispatch/internal/app"
	"ridedispatch/internal/config"
	"ridedispatch/internal/logging"
	"ridedispatch/internal/notify"
	"ridedispatch/internal/repository/postgres"
	"ridedispatch/internal/service"
)

func main() {
	cfg := config.Load()
	logger := logging.NewLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled {
		var err error
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.Warn("failed to initialize New Relic", "error", err)
			nrApp = nil
		} else {
			logger.Info("New Relic enabled", "app", cfg.NewRelic.AppName)
			defer nrApp.Shutdown(5 * time.Second)
		}
	}

	stores, cleanup, err := openStores(rootCtx, cfg, nrApp, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	var gateway service.NotificationGateway = service.NewLogGateway(logger)
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaGateway := notify.NewKafkaGateway(cfg.Kafka.Brokers, cfg.Kafka.NotificationTopic)
		defer kafkaGateway.Close()
		gateway = kafkaGateway
		logger.Info("notifications via kafka", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.NotificationTopic)
	}

	container := app.NewContainer(cfg, stores, gateway, logger)

	gin.SetMode(gin.ReleaseMode)
	router := app.NewRouter(app.RouterDeps{
		RideHandler:   container.RideHandler,
		DriverHandler: container.DriverHandler,
		UserHandler:   container.UserHandler,
		ResponseCache: stores.Responses,
		NewRelicApp:   nrApp,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Server.Port, "store", cfg.Store.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
	case <-rootCtx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Let in-flight notifications and corridor checks finish before the
	// gateway and stores are closed.
	container.Runner.Wait()
	return nil
}

func openStores(ctx context.Context, cfg *config.Config, nrApp *newrelic.Application, logger *slog.Logger) (app.Stores, func(), error) {
	if cfg.Store.Backend == config.StoreBackendMemory {
		logger.Info("using in-memory stores")
		return app.MemoryStores(ctx), func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := app.NewDatabase(connectCtx, cfg.Database, nrApp)
	if err != nil {
		return app.Stores{}, nil, err
	}
	logger.Info("connected to PostgreSQL", "host", cfg.Database.Host, "db", cfg.Database.DBName)

	if cfg.Store.Migrate {
		if err := postgres.Migrate(connectCtx, db, logger); err != nil {
			db.Close()
			return app.Stores{}, nil, err
		}
	}

	redisClient, err := app.NewRedisClient(connectCtx, cfg.Redis, nrApp)
	if err != nil {
		db.Close()
		return app.Stores{}, nil, err
	}
	logger.Info("connected to Redis", "addr", cfg.Redis.Addr)

	cleanup := func() {
		redisClient.Close()
		db.Close()
	}
	return app.PostgresStores(db, redisClient), cleanup, nil
}
