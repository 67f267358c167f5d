package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"dispatch/internal/config"
	"dispatch/internal/handler"
	"dispatch/internal/logger"
	"dispatch/internal/metrics"
	"dispatch/internal/notify"
	internalRedis "dispatch/internal/redis"
	"dispatch/internal/repository"
	"dispatch/internal/repository/memory"
	"dispatch/internal/repository/postgres"
	"dispatch/internal/routing"
	"dispatch/internal/service"
)

// App holds the wired dispatch core.
type App struct {
	Config     *config.Config
	DB         *sql.DB
	Redis      *redis.Client
	NewRelic   *newrelic.Application
	Registry   *prometheus.Registry
	Metrics    *metrics.PromSink
	Dispatcher *notify.Dispatcher
	Store      repository.Transactor

	Capacity *service.CapacityTracker
	Claims   *service.ClaimService
	Routes   *service.RouteService
	Monitor  *service.Monitor
	Reaper   *service.Reaper

	amqp *notify.AMQPSink
	log  logger.Logger
}

// Options overrides collaborators New would otherwise build from
// configuration.
type Options struct {
	Store repository.Transactor
	Clock service.Clock
	Redis *redis.Client
	// Sinks receive notifications alongside the log and broker sinks.
	Sinks []notify.Sink
}

// New connects to the configured backends and wires the services.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.New("app")

	nrApp, err := NewNewRelic(cfg.NewRelic)
	if err != nil {
		log.Warnf("%v", err)
	} else if nrApp != nil {
		log.Infof("New Relic enabled: app=%s", cfg.NewRelic.AppName)
	}

	var (
		db    *sql.DB
		store repository.Transactor
	)
	switch cfg.Database.Driver {
	case "memory":
		log.Warnf("using in-memory store; data is lost on exit")
		store = memory.NewStore()
	default:
		db, err = NewDatabase(ctx, cfg.Database, nrApp)
		if err != nil {
			return nil, err
		}
		log.Infof("connected to PostgreSQL at %s:%s", cfg.Database.Host, cfg.Database.Port)
		store = postgres.NewStore(db)
	}

	redisClient, err := NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}
	if redisClient != nil {
		log.Infof("connected to Redis at %s", cfg.Redis.Addr)
	}

	a, err := NewWithOptions(cfg, Options{Store: store, Redis: redisClient}, nrApp)
	if err != nil {
		if redisClient != nil {
			redisClient.Close()
		}
		if db != nil {
			db.Close()
		}
		return nil, err
	}
	a.DB = db
	return a, nil
}

// NewWithOptions wires the services on top of already opened backends.
func NewWithOptions(cfg *config.Config, opts Options, nrApp *newrelic.Application) (*App, error) {
	if opts.Store == nil {
		return nil, errors.New("app: store is required")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sink, err := metrics.NewPromSinkWithRegistry(registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	a := &App{
		Config:   cfg,
		Redis:    opts.Redis,
		NewRelic: nrApp,
		Registry: registry,
		Metrics:  sink,
		Store:    opts.Store,
		log:      logger.New("app"),
	}

	sinks := []notify.Sink{notify.NewLogSink(logger.New("notifications"))}
	if cfg.RabbitMQ.Enabled {
		amqpSink, err := notify.DialAMQP(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			a.log.Warnf("rabbitmq unavailable, notifications will only be logged: %v", err)
		} else {
			a.amqp = amqpSink
			sinks = append(sinks, amqpSink)
		}
	}
	sinks = append(sinks, opts.Sinks...)
	a.Dispatcher = notify.NewDispatcher(cfg.RabbitMQ.QueueSize, logger.New("notify"), sink, sinks...)

	deps := service.Deps{
		Store:    opts.Store,
		Notifier: a.Dispatcher,
		Clock:    opts.Clock,
		Metrics:  sink,
	}

	var (
		locker internalRedis.BookingLocker
		leases internalRedis.LeaseStore
		cache  internalRedis.StatsCache
	)
	if opts.Redis != nil {
		locks := internalRedis.NewLockStore(opts.Redis)
		locker, leases = locks, locks
		cache = internalRedis.NewCacheStore(opts.Redis)
	}

	a.Capacity = service.NewCapacityTracker(deps)
	routeCfg := RouteConfig(cfg.Optimizer)
	claimCfg := ClaimConfig(cfg.Claim)
	claimCfg.Constraints = routeCfg.Constraints
	a.Claims = service.NewClaimService(deps, a.Capacity, locker, claimCfg)
	a.Routes = service.NewRouteService(deps, a.Capacity, routeCfg)
	a.Reaper = service.NewReaper(a.Claims, cfg.Claim.ReaperInterval)
	if cfg.Monitor.Enabled {
		a.Monitor = service.NewMonitor(deps, MonitorConfig(cfg.Monitor), leases, cache, nrApp)
	}
	return a, nil
}

// ClaimConfig maps claim settings onto the service configuration.
func ClaimConfig(c config.ClaimConfig) service.ClaimConfig {
	return service.ClaimConfig{
		TTL:         c.TTL,
		MaxAttempts: c.MaxAttempts,
		LockTTL:     c.LockTTL,
		ReaperBatch: c.ReaperBatch,
	}
}

// RouteConfig maps optimizer settings onto the service configuration.
func RouteConfig(c config.OptimizerConfig) service.RouteConfig {
	return service.RouteConfig{
		Horizon: c.Horizon,
		Constraints: routing.Constraints{
			ClusterRadiusMiles:    c.ClusterRadiusMiles,
			MaxStops:              c.MaxStops,
			MaxLoadUnits:          c.MaxLoadUnits,
			AverageSpeedMph:       c.AverageSpeedMph,
			ServiceMinutesPerStop: c.ServiceMinutesPerStop,
			Weights: routing.Weights{
				StopsPerMile: c.WeightStopsPerMile,
				Value:        c.WeightValue,
				SlackHours:   c.WeightSlackHours,
			},
			MinScore: c.MinScore,
		},
	}
}

// MonitorConfig maps monitor settings onto the service configuration.
func MonitorConfig(c config.MonitorConfig) service.MonitorConfig {
	return service.MonitorConfig{
		Interval:        c.Interval,
		MinAge:          c.MinAge,
		UrgentThreshold: c.UrgentThreshold,
		HighAfter:       c.HighAfter,
		BreachThreshold: c.BreachThreshold,
		LeaseTTL:        c.LeaseTTL,
	}
}

// Router builds the HTTP router over the wired services.
func (a *App) Router() *gin.Engine {
	return NewRouter(RouterDeps{
		AssignmentHandler: handler.NewAssignmentHandler(a.Claims),
		RouteHandler:      handler.NewRouteHandler(a.Routes),
		DriverHandler:     handler.NewDriverHandler(a.Capacity),
		MonitorHandler:    handler.NewMonitorHandler(a.Monitor),
		RedisClient:       a.Redis,
		NewRelicApp:       a.NewRelic,
		Gatherer:          a.Registry,
		HTTPMetrics:       a.Metrics,
	})
}

// Server returns the HTTP server for the router.
func (a *App) Server() *http.Server {
	return &http.Server{
		Addr:         ":" + a.Config.Server.Port,
		Handler:      a.Router(),
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
}

// StartWorkers runs the claim reaper and, when enabled, the monitor until
// ctx is cancelled. The returned function waits for them to stop.
func (a *App) StartWorkers(ctx context.Context) (wait func()) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Reaper.Run(ctx)
	}()
	if a.Monitor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Monitor.Run(ctx)
		}()
	}
	return wg.Wait
}

// Close flushes pending notifications and releases backend connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Dispatcher.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush notifications: %w", err))
	}
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if a.NewRelic != nil {
		a.NewRelic.Shutdown(5 * time.Second)
	}
	return errors.Join(errs...)
}
