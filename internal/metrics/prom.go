package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records dispatch metrics in Prometheus collectors.
type PromSink struct {
	claims          *prometheus.CounterVec
	claimRetries    prometheus.Counter
	reaped          prometheus.Counter
	underflows      prometheus.Counter
	routesCreated   prometheus.Counter
	optimizerLeft   prometheus.Gauge
	optimizerRuns   prometheus.Histogram
	monitorCycles   *prometheus.HistogramVec
	monitorBreaches *prometheus.GaugeVec
	dropped         prometheus.Counter
	httpRequests    *prometheus.HistogramVec
}

var (
	_ Recorder     = (*PromSink)(nil)
	_ HTTPRecorder = (*PromSink)(nil)
)

// NewPromSink registers dispatch metrics on the default registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers dispatch metrics on reg. If the
// collectors are already registered, the existing ones are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_claims_total",
			Help: "Claim attempts by outcome",
		}, []string{"outcome"}),
		claimRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_claim_retries_total",
			Help: "Claim transactions retried after a storage conflict",
		}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_claims_expired_total",
			Help: "Claims released by the expiry reaper",
		}),
		underflows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_capacity_underflow_total",
			Help: "Capacity releases clamped at zero",
		}),
		routesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_routes_created_total",
			Help: "Multi-drop routes persisted by the optimizer",
		}),
		optimizerLeft: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_optimizer_unassigned",
			Help: "Eligible bookings left unrouted by the last optimization pass",
		}),
		optimizerRuns: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatch_optimizer_duration_seconds",
			Help:    "Duration of optimization passes",
			Buckets: prometheus.DefBuckets,
		}),
		monitorCycles: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatch_monitor_cycle_seconds",
			Help:    "Duration of unassigned-booking scan cycles",
			Buckets: prometheus.DefBuckets,
		}, []string{"failed"}),
		monitorBreaches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dispatch_monitor_breaches",
			Help: "Bookings breaching their dispatch SLA in the last scan, by class",
		}, []string{"class"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_notifications_dropped_total",
			Help: "Notifications discarded because the queue was full",
		}),
		httpRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatch_http_request_duration_seconds",
			Help:    "HTTP request latency by method, route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	var err error
	if s.claims, err = register(reg, s.claims); err != nil {
		return nil, err
	}
	if s.claimRetries, err = register(reg, s.claimRetries); err != nil {
		return nil, err
	}
	if s.reaped, err = register(reg, s.reaped); err != nil {
		return nil, err
	}
	if s.underflows, err = register(reg, s.underflows); err != nil {
		return nil, err
	}
	if s.routesCreated, err = register(reg, s.routesCreated); err != nil {
		return nil, err
	}
	if s.optimizerLeft, err = register(reg, s.optimizerLeft); err != nil {
		return nil, err
	}
	if s.optimizerRuns, err = register(reg, s.optimizerRuns); err != nil {
		return nil, err
	}
	if s.monitorCycles, err = register(reg, s.monitorCycles); err != nil {
		return nil, err
	}
	if s.monitorBreaches, err = register(reg, s.monitorBreaches); err != nil {
		return nil, err
	}
	if s.dropped, err = register(reg, s.dropped); err != nil {
		return nil, err
	}
	if s.httpRequests, err = register(reg, s.httpRequests); err != nil {
		return nil, err
	}
	return s, nil
}

// register adds c to reg, returning the already registered collector when
// one with the same descriptor exists.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (s *PromSink) ClaimOutcome(outcome string) { s.claims.WithLabelValues(outcome).Inc() }

func (s *PromSink) ClaimRetry() { s.claimRetries.Inc() }

func (s *PromSink) ClaimsReaped(n int) { s.reaped.Add(float64(n)) }

func (s *PromSink) CapacityUnderflow() { s.underflows.Inc() }

func (s *PromSink) OptimizerRun(routes, assigned, unassigned int, d time.Duration) {
	s.routesCreated.Add(float64(routes))
	s.optimizerLeft.Set(float64(unassigned))
	s.optimizerRuns.Observe(d.Seconds())
}

func (s *PromSink) MonitorCycle(d time.Duration, failed bool) {
	s.monitorCycles.WithLabelValues(strconv.FormatBool(failed)).Observe(d.Seconds())
}

func (s *PromSink) MonitorBreaches(class string, n int) {
	s.monitorBreaches.WithLabelValues(class).Set(float64(n))
}

func (s *PromSink) NotificationDropped() { s.dropped.Inc() }

func (s *PromSink) HTTPRequest(method, route string, status int, d time.Duration) {
	s.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
