package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/config"
	"dispatch/internal/repository/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Database.Driver = "memory"
	cfg.Redis.Enabled = false
	return &cfg
}

func TestNew_MemoryStoreWithoutRedis(t *testing.T) {
	a, err := New(context.Background(), memoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	assert.Nil(t, a.DB)
	assert.Nil(t, a.Redis)
	assert.IsType(t, &memory.Store{}, a.Store)
	assert.NotNil(t, a.Monitor)
}

func TestNewWithOptions_RequiresStore(t *testing.T) {
	_, err := NewWithOptions(memoryConfig(), Options{}, nil)
	require.Error(t, err)
}

func TestNewWithOptions_MonitorDisabled(t *testing.T) {
	cfg := memoryConfig()
	cfg.Monitor.Enabled = false
	a, err := NewWithOptions(cfg, Options{Store: memory.NewStore()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	assert.Nil(t, a.Monitor)

	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/monitor/stats", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	a, err := NewWithOptions(memoryConfig(), Options{Store: memory.NewStore()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	router := a.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/routes/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dispatch_http_request_duration_seconds")
	assert.Contains(t, w.Body.String(), `route="/v1/routes/:id"`)
}

func TestNewWithOptions_RedisBackedStores(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := memoryConfig()
	cfg.Monitor.LeaseTTL = time.Minute
	a, err := NewWithOptions(cfg, Options{Store: memory.NewStore(), Redis: client}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	_, err = a.Monitor.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, mr.Exists("lease:monitor"))
	assert.True(t, mr.Exists("cache:monitor:stats"))
}

func TestConfigMapping(t *testing.T) {
	cfg := config.Default()
	cfg.Optimizer.MaxLoadUnits = 12
	cfg.Optimizer.MinScore = 1.5

	rc := RouteConfig(cfg.Optimizer)
	assert.Equal(t, cfg.Optimizer.Horizon, rc.Horizon)
	assert.Equal(t, 8, rc.Constraints.MaxStops)
	assert.Equal(t, 12.0, rc.Constraints.MaxLoadUnits)
	assert.Equal(t, 1.5, rc.Constraints.MinScore)
	assert.Equal(t, cfg.Optimizer.WeightValue, rc.Constraints.Weights.Value)

	cc := ClaimConfig(cfg.Claim)
	assert.Equal(t, 5*time.Minute, cc.TTL)
	assert.Equal(t, 3, cc.MaxAttempts)

	mc := MonitorConfig(cfg.Monitor)
	assert.Equal(t, cfg.Monitor.UrgentThreshold, mc.UrgentThreshold)
	assert.Equal(t, cfg.Monitor.BreachThreshold, mc.BreachThreshold)
}

func TestKeyFamily(t *testing.T) {
	tests := []struct {
		args []any
		want string
	}{
		{[]any{"set", "lock:booking:b1", "tok"}, "lock"},
		{[]any{"evalsha", "abc123", 1, "lease:monitor", "host"}, "lease"},
		{[]any{"get", "cache:monitor:stats"}, "cache"},
		{[]any{"ping"}, "redis"},
		{nil, "redis"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, keyFamily(tt.args))
	}
}
