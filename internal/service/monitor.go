package service

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"

	"dispatch/internal/domain"
	"dispatch/internal/logger"
	"dispatch/internal/notify"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
)

// Breach classes assigned by the monitor.
const (
	ClassUrgent = "urgent"
	ClassHigh   = "high"
	ClassNormal = "normal"
)

// monitorLease names the cross-instance lease for scan cycles.
const monitorLease = "monitor"

// MonitorConfig tunes the unassigned-booking monitor.
type MonitorConfig struct {
	Interval        time.Duration
	MinAge          time.Duration
	UrgentThreshold time.Duration
	HighAfter       time.Duration
	BreachThreshold time.Duration
	LeaseTTL        time.Duration
	// Instance identifies this process as lease holder. Defaults to the hostname.
	Instance string
}

// DefaultMonitorConfig returns the monitor settings used when none are configured.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:        5 * time.Minute,
		MinAge:          5 * time.Minute,
		UrgentThreshold: 5 * time.Minute,
		HighAfter:       15 * time.Minute,
		BreachThreshold: 30 * time.Minute,
		LeaseTTL:        4 * time.Minute,
	}
}

// Breach is a booking that waited too long without a driver.
type Breach struct {
	BookingID      string          `json:"bookingId"`
	Reference      string          `json:"reference"`
	Priority       domain.Priority `json:"priority"`
	Class          string          `json:"class"`
	WaitingMinutes float64         `json:"waitingMinutes"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// MonitorStats is a snapshot of the monitor's recent activity.
type MonitorStats struct {
	LastScanAt       time.Time      `json:"lastScanAt"`
	LastDuration     time.Duration  `json:"lastDurationNs"`
	Cycles           int64          `json:"cycles"`
	FailedCycles     int64          `json:"failedCycles"`
	SkippedCycles    int64          `json:"skippedCycles"`
	LastError        string         `json:"lastError,omitempty"`
	Unassigned       int            `json:"unassigned"`
	Breaches         int            `json:"breaches"`
	BreachesByClass  map[string]int `json:"breachesByClass"`
	TotalEscalations int64          `json:"totalEscalations"`
}

// Monitor periodically looks for confirmed bookings nobody has taken and
// escalates the ones waiting past their priority's threshold. Escalation is
// level-triggered: a breach is reported again every cycle until resolved.
type Monitor struct {
	deps   Deps
	cfg    MonitorConfig
	leases redis.LeaseStore
	cache  redis.StatsCache
	nrApp  *newrelic.Application
	log    logger.Logger

	mu    sync.RWMutex
	stats MonitorStats
}

// NewMonitor creates a new Monitor. leases, cache and nrApp may be nil.
func NewMonitor(deps Deps, cfg MonitorConfig, leases redis.LeaseStore, cache redis.StatsCache, nrApp *newrelic.Application) *Monitor {
	def := DefaultMonitorConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.UrgentThreshold <= 0 {
		cfg.UrgentThreshold = def.UrgentThreshold
	}
	if cfg.HighAfter <= 0 {
		cfg.HighAfter = def.HighAfter
	}
	if cfg.BreachThreshold <= 0 {
		cfg.BreachThreshold = def.BreachThreshold
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = def.LeaseTTL
	}
	if cfg.Instance == "" {
		cfg.Instance, _ = os.Hostname()
	}
	return &Monitor{
		deps:   deps.withDefaults(),
		cfg:    cfg,
		leases: leases,
		cache:  cache,
		nrApp:  nrApp,
		log:    logger.New("monitor"),
		stats:  MonitorStats{BreachesByClass: map[string]int{}},
	}
}

// Run scans immediately, then every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.log.Infof("unassigned booking monitor started, interval %s", m.cfg.Interval)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := m.ScanOnce(ctx); err != nil && ctx.Err() == nil {
			m.log.Errorf("monitor cycle failed: %v", err)
		}
		select {
		case <-ctx.Done():
			if m.leases != nil {
				if err := m.leases.ReleaseLease(context.WithoutCancel(ctx), monitorLease, m.cfg.Instance); err != nil {
					m.log.Warnf("release monitor lease: %v", err)
				}
			}
			m.log.Infof("unassigned booking monitor stopped")
			return
		case <-ticker.C:
		}
	}
}

// ScanOnce runs a single cycle and returns the breaches it escalated. A
// cycle skipped because another instance holds the lease returns no
// breaches and no error.
func (m *Monitor) ScanOnce(ctx context.Context) (breaches []Breach, err error) {
	if m.leases != nil {
		ok, lerr := m.leases.AcquireLease(ctx, monitorLease, m.cfg.Instance, m.cfg.LeaseTTL)
		if lerr != nil {
			m.log.Warnf("monitor lease unavailable, scanning anyway: %v", lerr)
		} else if !ok {
			m.mu.Lock()
			m.stats.SkippedCycles++
			m.mu.Unlock()
			m.log.Debugf("monitor lease held by another instance, skipping cycle")
			return nil, nil
		}
	}

	if m.nrApp != nil {
		txn := m.nrApp.StartTransaction("monitor-scan")
		defer txn.End()
		ctx = newrelic.NewContext(ctx, txn)
	}

	started := time.Now()
	var unassigned int
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("monitor cycle panicked: %v", r)
			breaches = nil
		}
		if err != nil {
			if txn := newrelic.FromContext(ctx); txn != nil {
				txn.NoticeError(err)
			}
		}
		m.record(ctx, started, unassigned, breaches, err)
	}()

	unassigned, breaches, err = m.scan(ctx)
	return breaches, err
}

func (m *Monitor) scan(ctx context.Context) (int, []Breach, error) {
	now := m.deps.Clock.Now()

	var pending []*domain.Booking
	err := m.deps.Store.Run(ctx, repository.CommandFunc(func(ctx context.Context, tx repository.Tx) error {
		var err error
		pending, err = tx.Bookings().ListUnassigned(ctx, now.Add(-m.cfg.MinAge))
		return err
	}))
	if err != nil {
		return 0, nil, fmt.Errorf("list unassigned bookings: %w", err)
	}

	var breaches []Breach
	for _, b := range pending {
		class, breached := Classify(b, now, m.cfg)
		if !breached {
			continue
		}
		breach := Breach{
			BookingID:      b.ID,
			Reference:      b.Reference,
			Priority:       b.Priority,
			Class:          class,
			WaitingMinutes: now.Sub(b.CreatedAt).Minutes(),
			CreatedAt:      b.CreatedAt,
		}
		breaches = append(breaches, breach)
		m.deps.Notifier.Publish(ctx, notify.AdminChannel, EventUnassignedEscalation, map[string]any{
			"bookingId":      breach.BookingID,
			"reference":      breach.Reference,
			"priority":       string(breach.Priority),
			"class":          breach.Class,
			"waitingMinutes": breach.WaitingMinutes,
			"createdAt":      breach.CreatedAt,
		})
	}

	if len(breaches) > 0 {
		ids := make([]string, len(breaches))
		for i, b := range breaches {
			ids[i] = b.BookingID
		}
		m.deps.Notifier.Publish(ctx, notify.AdminChannel, EventUnassignedSummary, map[string]any{
			"unassigned": len(pending),
			"breaches":   len(breaches),
			"byClass":    countByClass(breaches),
			"bookingIds": ids,
		})
	}
	return len(pending), breaches, nil
}

// Classify places a waiting booking in a breach class and reports whether
// it has breached. Urgent bookings breach at UrgentThreshold; others become
// high after HighAfter and breach past BreachThreshold.
func Classify(b *domain.Booking, now time.Time, cfg MonitorConfig) (string, bool) {
	waiting := now.Sub(b.CreatedAt)
	switch {
	case b.Priority == domain.PriorityUrgent:
		return ClassUrgent, waiting >= cfg.UrgentThreshold
	case waiting > cfg.HighAfter:
		return ClassHigh, waiting > cfg.BreachThreshold
	default:
		return ClassNormal, waiting > cfg.BreachThreshold
	}
}

func countByClass(breaches []Breach) map[string]int {
	out := map[string]int{ClassUrgent: 0, ClassHigh: 0, ClassNormal: 0}
	for _, b := range breaches {
		out[b.Class]++
	}
	return out
}

func (m *Monitor) record(ctx context.Context, started time.Time, unassigned int, breaches []Breach, err error) {
	elapsed := time.Since(started)
	byClass := countByClass(breaches)

	m.mu.Lock()
	m.stats.LastScanAt = m.deps.Clock.Now()
	m.stats.LastDuration = elapsed
	m.stats.Cycles++
	if err != nil {
		m.stats.FailedCycles++
		m.stats.LastError = err.Error()
	} else {
		m.stats.LastError = ""
		m.stats.Unassigned = unassigned
		m.stats.Breaches = len(breaches)
		m.stats.BreachesByClass = byClass
		m.stats.TotalEscalations += int64(len(breaches))
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.deps.Metrics.MonitorCycle(elapsed, err != nil)
	if err == nil {
		classes := make([]string, 0, len(byClass))
		for c := range byClass {
			classes = append(classes, c)
		}
		sort.Strings(classes)
		for _, c := range classes {
			m.deps.Metrics.MonitorBreaches(c, byClass[c])
		}
		if len(breaches) > 0 {
			m.log.Warnf("%d of %d unassigned bookings breached their threshold", len(breaches), unassigned)
		} else {
			m.log.Debugf("monitor cycle clean: %d unassigned", unassigned)
		}
	}

	if m.cache != nil {
		if cerr := m.cache.SetMonitorStats(context.WithoutCancel(ctx), m.cached(snap)); cerr != nil {
			m.log.Warnf("cache monitor stats: %v", cerr)
		}
	}
}

// Stats returns a copy of the latest cycle statistics.
func (m *Monitor) Stats() MonitorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// SharedStats returns the snapshot last written by any instance, falling
// back to local statistics when the cache is empty or unavailable.
func (m *Monitor) SharedStats(ctx context.Context) *redis.CachedMonitorStats {
	if m.cache != nil {
		cached, err := m.cache.GetMonitorStats(ctx)
		switch {
		case err != nil:
			m.log.Warnf("read cached monitor stats: %v", err)
		case cached != nil:
			return cached
		}
	}
	return m.cached(m.Stats())
}

func (m *Monitor) snapshotLocked() MonitorStats {
	s := m.stats
	s.BreachesByClass = make(map[string]int, len(m.stats.BreachesByClass))
	for k, v := range m.stats.BreachesByClass {
		s.BreachesByClass[k] = v
	}
	return s
}

func (m *Monitor) cached(s MonitorStats) *redis.CachedMonitorStats {
	return &redis.CachedMonitorStats{
		Instance:         m.cfg.Instance,
		LastScanAt:       s.LastScanAt,
		LastDurationMs:   s.LastDuration.Milliseconds(),
		Cycles:           s.Cycles,
		FailedCycles:     s.FailedCycles,
		LastError:        s.LastError,
		Unassigned:       s.Unassigned,
		Breaches:         s.Breaches,
		BreachesByClass:  s.BreachesByClass,
		TotalEscalations: s.TotalEscalations,
	}
}
