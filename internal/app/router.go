package app

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ridedispatch/internal/handler"
	"ridedispatch/internal/middleware"
	internalRedis "ridedispatch/internal/redis"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	RideHandler   *handler.RideHandler
	DriverHandler *handler.DriverHandler
	UserHandler   *handler.UserHandler
	ResponseCache internalRedis.ResponseCacheInterface // optional
	NewRelicApp   *newrelic.Application                // optional
	Logger        *slog.Logger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.MetricsMiddleware(deps.Logger))

	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	if deps.ResponseCache != nil {
		router.Use(middleware.IdempotencyMiddleware(deps.ResponseCache, deps.Logger))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		users := v1.Group("/users")
		{
			users.POST("/register", deps.UserHandler.RegisterUser)
			users.POST("/:id/location", deps.UserHandler.UpdateLocation)
			users.DELETE("/:id/location", deps.UserHandler.ClearLocation)
		}

		rides := v1.Group("/rides")
		{
			rides.POST("", deps.RideHandler.CreateRide)
			rides.GET("/:id", deps.RideHandler.GetRide)
			rides.GET("/:id/history", deps.RideHandler.GetHistory)
			rides.GET("/:id/next-states", deps.RideHandler.GetNextStates)
			rides.GET("/:id/drivers", deps.RideHandler.GetAvailableDrivers)
			rides.POST("/:id/arriving", deps.RideHandler.MarkArriving)
			rides.POST("/:id/arrived", deps.RideHandler.MarkArrived)
			rides.POST("/:id/start", deps.RideHandler.StartRide)
			rides.POST("/:id/complete", deps.RideHandler.CompleteRide)
			rides.POST("/:id/cancel", deps.RideHandler.CancelRide)
			rides.POST("/:id/corridor", deps.RideHandler.CheckCorridor)
		}

		drivers := v1.Group("/drivers")
		{
			drivers.POST("/register", deps.DriverHandler.RegisterDriver)
			drivers.GET("/nearby", deps.DriverHandler.Nearby)
			drivers.GET("/:id", deps.DriverHandler.GetDriver)
			drivers.POST("/:id/location", deps.DriverHandler.UpdateLocation)
			drivers.POST("/:id/online", deps.DriverHandler.GoOnline)
			drivers.POST("/:id/offline", deps.DriverHandler.GoOffline)
			drivers.POST("/:id/accept", deps.DriverHandler.AcceptRide)
		}
	}

	return router
}
