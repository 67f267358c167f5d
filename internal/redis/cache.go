package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// MonitorStatsTTL keeps the last published snapshot readable for a while
// after the monitor stops.
const MonitorStatsTTL = 30 * time.Minute

const monitorStatsKey = "cache:monitor:stats"

// CachedMonitorStats is the monitor snapshot shared between instances.
type CachedMonitorStats struct {
	Instance         string         `json:"instance"`
	LastScanAt       time.Time      `json:"last_scan_at"`
	LastDurationMs   int64          `json:"last_duration_ms"`
	Cycles           int64          `json:"cycles"`
	FailedCycles     int64          `json:"failed_cycles"`
	LastError        string         `json:"last_error,omitempty"`
	Unassigned       int            `json:"unassigned"`
	Breaches         int            `json:"breaches"`
	BreachesByClass  map[string]int `json:"breaches_by_class"`
	TotalEscalations int64          `json:"total_escalations"`
}

// CacheStore handles shared snapshots in Redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// GetMonitorStats retrieves the last monitor snapshot. A miss returns nil, nil.
func (s *CacheStore) GetMonitorStats(ctx context.Context) (*CachedMonitorStats, error) {
	data, err := s.client.Get(ctx, monitorStatsKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, err
	}

	var stats CachedMonitorStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// SetMonitorStats stores the monitor snapshot.
func (s *CacheStore) SetMonitorStats(ctx context.Context, stats *CachedMonitorStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, monitorStatsKey, data, MonitorStatsTTL).Err()
}
