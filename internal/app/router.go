package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"dispatch/internal/handler"
	"dispatch/internal/metrics"
	"dispatch/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	AssignmentHandler *handler.AssignmentHandler
	RouteHandler      *handler.RouteHandler
	DriverHandler     *handler.DriverHandler
	MonitorHandler    *handler.MonitorHandler
	RedisClient       *redis.Client
	NewRelicApp       *newrelic.Application
	// Gatherer serves /metrics; nil disables the endpoint.
	Gatherer    prometheus.Gatherer
	HTTPMetrics metrics.HTTPRecorder
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())

	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	router.Use(middleware.RequestObserver(deps.HTTPMetrics))
	router.Use(middleware.IdempotencyMiddleware(deps.RedisClient))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// API v1 routes.
	v1 := router.Group("/v1")
	{
		v1.POST("/bookings/:id/claim", deps.AssignmentHandler.Claim)

		assignments := v1.Group("/assignments")
		{
			assignments.POST("/:id/accept", deps.AssignmentHandler.Accept)
			assignments.POST("/:id/decline", deps.AssignmentHandler.Decline)
			assignments.POST("/:id/cancel", deps.AssignmentHandler.Cancel)
			assignments.POST("/:id/start", deps.AssignmentHandler.Start)
			assignments.POST("/:id/complete", deps.AssignmentHandler.Complete)
		}

		routes := v1.Group("/routes")
		{
			routes.POST("/optimize", deps.RouteHandler.Optimize)
			routes.GET("/:id", deps.RouteHandler.Get)
			routes.PATCH("/:id", deps.RouteHandler.Edit)
			routes.POST("/:id/assign", deps.RouteHandler.Assign)
			routes.POST("/:id/decline", deps.RouteHandler.Decline)
			routes.POST("/:id/reassign", deps.RouteHandler.Reassign)
		}

		v1.PUT("/drivers/:id/availability", deps.DriverHandler.UpdateAvailability)
		v1.GET("/monitor/stats", deps.MonitorHandler.Stats)
	}

	return router
}
