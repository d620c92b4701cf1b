// README: HTTP router registration (gin).
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"honeycomb/internal/http/handlers"
	"honeycomb/internal/http/middleware"
	"honeycomb/internal/infra"
	"honeycomb/internal/logger"
)

type RouterDeps struct {
	Location handlers.LocationService
	Rides    handlers.RideService
	Metrics  handlers.MetricsService
	Settings handlers.SettingsService
	Verifier infra.TokenVerifier
	// Gatherer backs /metrics; the default registry when nil.
	Gatherer prometheus.Gatherer
	Log      logger.Logger
}

func NewRouter(d RouterDeps) *gin.Engine {
	if d.Log == nil {
		d.Log = logger.NopLogger{}
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	r := gin.New()
	r.Use(middleware.Recovery(d.Log), middleware.Logging(d.Log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	api.GET("/preview", handlers.Preview)

	authed := api.Group("", middleware.Auth(d.Verifier))

	driverHandler := handlers.NewDriverHandler(d.Location)
	authed.POST("/drivers/:id/location", driverHandler.Location)
	authed.PUT("/drivers/:id/availability", driverHandler.Availability)
	authed.POST("/drivers/:id/trips/complete", driverHandler.CompleteTrip)

	rideHandler := handlers.NewRideHandler(d.Rides)
	authed.POST("/rides", rideHandler.Create)
	authed.GET("/rides/:id", rideHandler.Get)
	authed.GET("/rides/:id/events", rideHandler.Events)
	authed.POST("/rides/:id/cancel", rideHandler.Cancel)
	authed.POST("/rides/:id/offers/respond", rideHandler.RespondOffer)

	zoneHandler := handlers.NewZoneHandler(d.Metrics, d.Settings)
	authed.GET("/zones/:zone/heatmap", zoneHandler.Heatmap)
	authed.GET("/zones/:zone/analytics", zoneHandler.Analytics)

	adminHandler := handlers.NewAdminHandler(d.Settings)
	admin := authed.Group("/admin", middleware.RequireRole(middleware.RoleAdmin))
	admin.GET("/zones/:zone/settings", adminHandler.GetSettings)
	admin.PUT("/zones/:zone/settings", adminHandler.PutSettings)

	return r
}
