package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Claim.TTL)
	assert.Equal(t, 3, cfg.Claim.MaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.Optimizer.Horizon)
	assert.Equal(t, 5.0, cfg.Optimizer.ClusterRadiusMiles)
	assert.Equal(t, 8, cfg.Optimizer.MaxStops)
	assert.Equal(t, 5*time.Minute, cfg.Monitor.Interval)
	assert.Equal(t, 30*time.Minute, cfg.Monitor.BreachThreshold)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatch.yaml")
	data := []byte(`
server:
  port: "9090"
database:
  driver: memory
optimizer:
  weight_value: 0.5
  max_stops: 6
monitor:
  interval: 1m
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	t.Setenv("DISPATCH_OPTIMIZER__MAX_STOPS", "4")
	t.Setenv("DISPATCH_CLAIM__TTL", "2m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 0.5, cfg.Optimizer.WeightValue)
	assert.Equal(t, 4, cfg.Optimizer.MaxStops)
	assert.Equal(t, time.Minute, cfg.Monitor.Interval)
	assert.Equal(t, 2*time.Minute, cfg.Claim.TTL)
	// untouched keys keep their defaults
	assert.Equal(t, 5.0, cfg.Optimizer.ClusterRadiusMiles)
}

func TestLoad_EnvOverridesNestedDefaults(t *testing.T) {
	t.Setenv("DISPATCH_OPTIMIZER__WEIGHT_STOPS_PER_MILE", "0.7")
	t.Setenv("DISPATCH_MONITOR__BREACH_THRESHOLD", "45m")
	t.Setenv("DISPATCH_SERVER__PORT", "7070")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 0.7, cfg.Optimizer.WeightStopsPerMile)
	assert.Equal(t, 45*time.Minute, cfg.Monitor.BreachThreshold)
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, 8, cfg.Optimizer.MaxStops)
}

func TestLoad_UnsupportedFormat(t *testing.T) {
	_, err := Load("dispatch.toml")
	require.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("DISPATCH_DATABASE__DRIVER", "mysql")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.driver")
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Claim.TTL = 0
	cfg.Monitor.HighAfter = time.Hour

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claim.ttl")
	assert.Contains(t, err.Error(), "monitor.high_after")
}
