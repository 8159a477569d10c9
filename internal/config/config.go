package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Storage backends
const (
	StorageBadger = "badger"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

// Event bus backends
const (
	EventsMemory = "memory"
	EventsRedis  = "redis"
)

// Config holds all configuration for the overlap relay server
type Config struct {
	// Server configuration
	HTTPPort int    `env:"PORT" envDefault:"3000"`
	GRPCPort int    `env:"GRPC_PORT" envDefault:"0"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP surface
	HTTP HTTPConfig

	// Startup sequencing
	Startup StartupConfig

	// Relay configuration
	Relay RelayConfig

	// Persistence configuration
	Storage StorageConfig

	// Event bus configuration
	Events EventsConfig

	// Redis configuration
	Redis RedisConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// HTTPConfig holds the routes served next to the relay
type HTTPConfig struct {
	RelayPath   string `env:"RELAY_PATH" envDefault:"/gun"`
	MetricsPath string `env:"METRICS_PATH" envDefault:"/metrics"`
	StaticFile  string `env:"STATIC_FILE"`
}

// StartupConfig holds the readiness gate settings
type StartupConfig struct {
	Timeout      time.Duration `env:"STARTUP_TIMEOUT" envDefault:"10s"`
	ReadinessKey string        `env:"READINESS_KEY" envDefault:"overlap"`
}

// RelayConfig holds relay tuning
type RelayConfig struct {
	DedupTTL        time.Duration `env:"RELAY_DEDUP_TTL" envDefault:"5m"`
	MaxDrift        time.Duration `env:"RELAY_MAX_DRIFT" envDefault:"24h"`
	PeerBuffer      int           `env:"RELAY_PEER_BUFFER" envDefault:"256"`
	MaxMessageBytes int64         `env:"RELAY_MAX_MESSAGE_BYTES" envDefault:"1048576"`
}

// StorageConfig selects where the graph is persisted
type StorageConfig struct {
	Backend string        `env:"STORAGE_BACKEND" envDefault:"badger"`
	DataDir string        `env:"DATA_DIR" envDefault:"radata"`
	TTL     time.Duration `env:"STORAGE_TTL" envDefault:"0s"`

	// HealthInterval is how often the store is probed; zero disables probing
	HealthInterval time.Duration `env:"STORAGE_HEALTH_INTERVAL" envDefault:"30s"`
}

// EventsConfig selects how puts are fanned out between relay instances
type EventsConfig struct {
	Backend    string `env:"EVENTS_BACKEND" envDefault:"memory"`
	InstanceID string `env:"INSTANCE_ID"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}
	if c.GRPCPort != 0 && c.GRPCPort == c.HTTPPort {
		return fmt.Errorf("gRPC port must differ from HTTP port: %d", c.GRPCPort)
	}

	// Validate routes
	if !strings.HasPrefix(c.HTTP.RelayPath, "/") || c.HTTP.RelayPath == "/" {
		return fmt.Errorf("invalid relay path: %q", c.HTTP.RelayPath)
	}
	if c.HTTP.MetricsPath != "" && !strings.HasPrefix(c.HTTP.MetricsPath, "/") {
		return fmt.Errorf("invalid metrics path: %q", c.HTTP.MetricsPath)
	}
	if c.HTTP.MetricsPath != "" && strings.HasPrefix(c.HTTP.MetricsPath, c.HTTP.RelayPath) {
		return fmt.Errorf("metrics path %q is shadowed by relay path %q", c.HTTP.MetricsPath, c.HTTP.RelayPath)
	}

	// Validate startup gate
	if c.Startup.Timeout <= 0 {
		return fmt.Errorf("startup timeout must be positive")
	}
	if c.Startup.ReadinessKey == "" {
		return fmt.Errorf("readiness key is required")
	}

	// Validate relay config
	if c.Relay.PeerBuffer < 1 {
		return fmt.Errorf("relay peer buffer must be at least 1")
	}
	if c.Relay.DedupTTL <= 0 {
		return fmt.Errorf("relay dedup TTL must be positive")
	}
	if c.Relay.MaxDrift < 0 {
		return fmt.Errorf("relay max drift must not be negative")
	}
	if c.Storage.HealthInterval < 0 {
		return fmt.Errorf("storage health interval must not be negative")
	}
	if c.Relay.MaxMessageBytes < 1 {
		return fmt.Errorf("relay max message size must be at least 1 byte")
	}

	// Validate storage config
	switch c.Storage.Backend {
	case StorageBadger:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("data directory is required for badger storage")
		}
	case StorageRedis, StorageMemory:
	default:
		return fmt.Errorf("unsupported storage backend: %s (must be badger, redis, or memory)", c.Storage.Backend)
	}

	// Validate events config
	switch c.Events.Backend {
	case EventsMemory, EventsRedis:
	default:
		return fmt.Errorf("unsupported events backend: %s (must be memory or redis)", c.Events.Backend)
	}

	// Validate Redis config
	if c.UsesRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// UsesRedis reports whether any component needs a Redis connection
func (c *Config) UsesRedis() bool {
	return c.Storage.Backend == StorageRedis || c.Events.Backend == EventsRedis
}
