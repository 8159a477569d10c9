package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentivo/overlap/internal/application/health"
	"github.com/agentivo/overlap/internal/application/startup"
	"github.com/agentivo/overlap/internal/config"
	eventsmemory "github.com/agentivo/overlap/pkg/adapters/events/memory"
	eventsredis "github.com/agentivo/overlap/pkg/adapters/events/redis"
	"github.com/agentivo/overlap/pkg/adapters/metrics/prometheus"
	"github.com/agentivo/overlap/pkg/adapters/storage/badger"
	storagememory "github.com/agentivo/overlap/pkg/adapters/storage/memory"
	storageredis "github.com/agentivo/overlap/pkg/adapters/storage/redis"
	"github.com/agentivo/overlap/pkg/api/grpc"
	"github.com/agentivo/overlap/pkg/api/http"
	"github.com/agentivo/overlap/pkg/api/websocket"
	"github.com/agentivo/overlap/pkg/ports"
	"github.com/agentivo/overlap/pkg/relay"

	"github.com/google/uuid"
	prom "github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Elapsed startup time is measured from here
	clock := startup.NewClock()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	instanceID := cfg.Events.InstanceID
	if instanceID == "" {
		instanceID = uuid.New().String()
	}

	logger.Info("starting overlap",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("instance_id", instanceID))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Redis client when a backend needs it
	var redisClient *goredis.Client
	if cfg.UsesRedis() {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	// Initialize adapters
	store, err := newGraphStore(cfg, redisClient, logger)
	if err != nil {
		logger.Fatal("failed to open graph store", zap.Error(err))
	}

	eventBus, err := newEventBus(cfg, redisClient, instanceID, logger)
	if err != nil {
		logger.Fatal("failed to create event bus", zap.Error(err))
	}

	metricsCollector := prometheus.NewCollector(prom.DefaultRegisterer)

	// Initialize the relay
	gunRelay, err := relay.New(&relay.Config{
		InstanceID: instanceID,
		Store:      store,
		Bus:        eventBus,
		Metrics:    metricsCollector,
		Logger:     logger,
		DedupTTL:   cfg.Relay.DedupTTL,
		MaxDrift:   cfg.Relay.MaxDrift,
		PeerBuffer: cfg.Relay.PeerBuffer,
	})
	if err != nil {
		logger.Fatal("failed to create relay", zap.Error(err))
	}
	if err := gunRelay.Start(ctx); err != nil {
		logger.Fatal("failed to start relay", zap.Error(err))
	}

	storeMonitor := health.NewMonitor(store, metricsCollector, cfg.Storage.HealthInterval, logger)
	storeMonitor.Start()

	// Initialize API servers; the HTTP socket is bound by the sequencer
	wsHandler := websocket.NewHandler(gunRelay, cfg.Relay.MaxMessageBytes, logger)
	httpServer := http.NewServer(&http.Config{
		Port:        cfg.HTTPPort,
		RelayPath:   cfg.HTTP.RelayPath,
		MetricsPath: cfg.HTTP.MetricsPath,
		StaticFile:  cfg.HTTP.StaticFile,
		Relay:       wsHandler,
		Logger:      logger,
	})

	sequencer := startup.NewSequencer(&startup.Config{
		Loader:   gunRelay,
		Listener: httpServer,
		Metrics:  metricsCollector,
		Logger:   logger,
		Clock:    clock,
		Key:      cfg.Startup.ReadinessKey,
		Timeout:  cfg.Startup.Timeout,
	})

	var grpcServer *grpc.Server
	if cfg.GRPCPort != 0 {
		grpcServer, err = grpc.NewServer(&grpc.Config{
			Port:   cfg.GRPCPort,
			Ready:  sequencer.Done(),
			Logger: logger,
		})
		if err != nil {
			logger.Fatal("failed to create gRPC server", zap.Error(err))
		}

		go func() {
			if err := grpcServer.Start(); err != nil {
				logger.Fatal("gRPC server failed", zap.Error(err))
			}
		}()
	}

	// Hold the listener back until persisted data is read or the timeout fires
	outcome, err := sequencer.Run(ctx)
	if err != nil && ctx.Err() == nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	if err == nil {
		logger.Info("overlap started",
			zap.String("trigger", string(outcome.Trigger)),
			zap.Bool("data_found", outcome.Found),
			zap.Duration("elapsed", outcome.Elapsed),
			zap.Int("http_port", cfg.HTTPPort),
			zap.Int("grpc_port", cfg.GRPCPort))

		// Wait for interrupt signal or a serve failure
		select {
		case <-ctx.Done():
		case err, ok := <-httpServer.Errors():
			if ok && err != nil {
				logger.Error("HTTP server stopped", zap.Error(err))
			}
		}
	}

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	// Shutdown components
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if grpcServer != nil {
		if err := grpcServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("gRPC server shutdown error", zap.Error(err))
		}
	}

	if err := gunRelay.Shutdown(shutdownCtx); err != nil {
		logger.Error("relay shutdown error", zap.Error(err))
	}

	storeMonitor.Stop()

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if err := store.Close(); err != nil {
		logger.Error("graph store close error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("overlap shut down complete")
}

// newGraphStore opens the configured persistence backend
func newGraphStore(cfg *config.Config, client *goredis.Client, logger *zap.Logger) (ports.GraphStore, error) {
	switch cfg.Storage.Backend {
	case config.StorageRedis:
		return storageredis.NewGraphStore(client, cfg.Storage.TTL, logger), nil
	case config.StorageMemory:
		return storagememory.NewInMemoryGraphStore(), nil
	default:
		return badger.Open(badger.Options{
			Dir: cfg.Storage.DataDir,
			TTL: cfg.Storage.TTL,
		}, logger)
	}
}

// newEventBus creates the bus that fans puts out between relay instances
func newEventBus(cfg *config.Config, client *goredis.Client, instanceID string, logger *zap.Logger) (ports.EventBus, error) {
	if cfg.Events.Backend == config.EventsRedis {
		return eventsredis.NewStreamsEventBus(
			client,
			fmt.Sprintf("overlap-%s", instanceID),
			instanceID,
			logger,
		)
	}
	return eventsmemory.NewInMemoryEventBus(), nil
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
