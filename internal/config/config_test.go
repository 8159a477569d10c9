package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 3000, cfg.HTTPPort)
	require.Equal(t, 0, cfg.GRPCPort)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "/gun", cfg.HTTP.RelayPath)
	require.Equal(t, "/metrics", cfg.HTTP.MetricsPath)
	require.Equal(t, 10*time.Second, cfg.Startup.Timeout)
	require.Equal(t, "overlap", cfg.Startup.ReadinessKey)
	require.Equal(t, StorageBadger, cfg.Storage.Backend)
	require.Equal(t, "radata", cfg.Storage.DataDir)
	require.Equal(t, 30*time.Second, cfg.Storage.HealthInterval)
	require.Equal(t, EventsMemory, cfg.Events.Backend)
	require.False(t, cfg.UsesRedis())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("STARTUP_TIMEOUT", "250ms")
	t.Setenv("STORAGE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 8081, cfg.HTTPPort)
	require.Equal(t, 250*time.Millisecond, cfg.Startup.Timeout)
	require.Equal(t, StorageRedis, cfg.Storage.Backend)
	require.Equal(t, "redis:6379", cfg.Redis.Addr)
	require.True(t, cfg.UsesRedis())
}

func TestLoadRejectsMalformedPort(t *testing.T) {
	t.Setenv("PORT", "not-a-port")

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		t.Helper()
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.HTTPPort = 70000 }},
		{"grpc port collides", func(c *Config) { c.GRPCPort = c.HTTPPort }},
		{"relay path root", func(c *Config) { c.HTTP.RelayPath = "/" }},
		{"relay path relative", func(c *Config) { c.HTTP.RelayPath = "gun" }},
		{"metrics under relay", func(c *Config) { c.HTTP.MetricsPath = "/gun/metrics" }},
		{"zero startup timeout", func(c *Config) { c.Startup.Timeout = 0 }},
		{"empty readiness key", func(c *Config) { c.Startup.ReadinessKey = "" }},
		{"zero peer buffer", func(c *Config) { c.Relay.PeerBuffer = 0 }},
		{"zero dedup ttl", func(c *Config) { c.Relay.DedupTTL = 0 }},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "s3" }},
		{"badger without dir", func(c *Config) { c.Storage.DataDir = "" }},
		{"negative health interval", func(c *Config) { c.Storage.HealthInterval = -time.Second }},
		{"unknown events", func(c *Config) { c.Events.Backend = "kafka" }},
		{"redis without addr", func(c *Config) {
			c.Events.Backend = EventsRedis
			c.Redis.Addr = ""
		}},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestValidateAllowsDisabledMetrics(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.HTTP.MetricsPath = ""
	require.NoError(t, cfg.Validate())
}
