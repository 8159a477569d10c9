package health

import (
	"context"
	"sync"
	"time"

	"github.com/agentivo/overlap/pkg/ports"
	"go.uber.org/zap"
)

// probeTimeout bounds a single store health check
const probeTimeout = 5 * time.Second

// Checker is anything that can report its own health
type Checker interface {
	Healthcheck(ctx context.Context) error
}

// Status is the result of the most recent probe
type Status struct {
	Healthy   bool
	Err       error
	Timestamp time.Time
}

// Monitor probes the graph store on an interval and reports the result to
// logs and metrics
type Monitor struct {
	store    Checker
	metrics  ports.MetricsCollector
	interval time.Duration
	logger   *zap.Logger

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
	last    Status
}

// NewMonitor creates a new store health monitor
func NewMonitor(store Checker, metrics ports.MetricsCollector, interval time.Duration, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		store:    store,
		metrics:  metrics,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start probes once immediately and then on every interval
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running || m.interval <= 0 {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	go m.run()
}

// Stop stops the monitor and waits for an in-flight probe
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopCh)
	<-m.done
}

// run is the main monitoring loop
func (m *Monitor) run() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check probes the store once and records the result
func (m *Monitor) Check() Status {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	err := m.store.Healthcheck(ctx)
	status := Status{Healthy: err == nil, Err: err, Timestamp: time.Now()}

	m.mu.Lock()
	wasHealthy := m.last.Timestamp.IsZero() || m.last.Healthy
	m.last = status
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetStoreHealthy(status.Healthy)
	}

	switch {
	case !status.Healthy:
		m.logger.Warn("graph store is unhealthy", zap.Error(err))
	case !wasHealthy:
		m.logger.Info("graph store recovered")
	default:
		m.logger.Debug("graph store health check passed")
	}

	return status
}

// Status returns the most recent probe result
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.last
}

// IsHealthy returns false only after a failed probe
func (m *Monitor) IsHealthy() bool {
	status := m.Status()
	return status.Timestamp.IsZero() || status.Healthy
}
