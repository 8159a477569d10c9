package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	peersConnected   prometheus.Gauge
	messagesReceived *prometheus.CounterVec
	putFields        *prometheus.CounterVec
	outboundDropped  prometheus.Counter
	storeDuration    *prometheus.HistogramVec
	storeErrors      *prometheus.CounterVec
	startupTrigger   *prometheus.CounterVec
	startupDuration  prometheus.Histogram
	storeHealthy     prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector registered on reg
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		peersConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "overlap_relay_peers_connected",
				Help: "Number of peers currently connected to the relay",
			},
		),
		messagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overlap_relay_messages_received_total",
				Help: "Total number of relay messages received by kind",
			},
			[]string{"kind"},
		),
		putFields: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overlap_relay_put_fields_total",
				Help: "Total number of put fields by merge outcome",
			},
			[]string{"outcome"},
		),
		outboundDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "overlap_relay_outbound_dropped_total",
				Help: "Total number of messages dropped because a peer queue was full",
			},
		),
		storeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "overlap_store_operation_duration_seconds",
				Help:    "Graph store operation duration in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"op"},
		),
		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overlap_store_operation_errors_total",
				Help: "Total number of failed graph store operations",
			},
			[]string{"op"},
		),
		startupTrigger: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overlap_startup_gate_fired_total",
				Help: "Startup gate firings by winning trigger",
			},
			[]string{"trigger"},
		),
		startupDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "overlap_startup_load_duration_seconds",
				Help:    "Time from process start until the listener was started",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),
		storeHealthy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "overlap_store_healthy",
				Help: "1 when the last graph store health check passed",
			},
		),
	}
}

// SetPeersConnected sets the number of connected peers
func (c *Collector) SetPeersConnected(count int) {
	c.peersConnected.Set(float64(count))
}

// IncMessagesReceived increments the count of received messages of a kind
func (c *Collector) IncMessagesReceived(kind string) {
	c.messagesReceived.WithLabelValues(kind).Inc()
}

// IncPutFields adds merged, deferred or rejected put fields
func (c *Collector) IncPutFields(outcome string, count int) {
	if count <= 0 {
		return
	}
	c.putFields.WithLabelValues(outcome).Add(float64(count))
}

// IncOutboundDropped increments the count of dropped outbound messages
func (c *Collector) IncOutboundDropped() {
	c.outboundDropped.Inc()
}

// ObserveStoreOperation records the duration and outcome of a store operation
func (c *Collector) ObserveStoreOperation(op string, duration time.Duration, err error) {
	c.storeDuration.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		c.storeErrors.WithLabelValues(op).Inc()
	}
}

// RecordStartup records which trigger fired the startup gate and when
func (c *Collector) RecordStartup(trigger string, elapsed time.Duration) {
	c.startupTrigger.WithLabelValues(trigger).Inc()
	c.startupDuration.Observe(elapsed.Seconds())
}

// SetStoreHealthy records the result of the last store health check
func (c *Collector) SetStoreHealthy(healthy bool) {
	if healthy {
		c.storeHealthy.Set(1)
		return
	}
	c.storeHealthy.Set(0)
}
