package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the node-level metrics exported for the relay pipeline.
type Metrics struct {
	RelaysTotal       *prometheus.CounterVec
	TargetsReached    *prometheus.CounterVec
	TargetsFailed     *prometheus.CounterVec
	RelayLatency      *prometheus.HistogramVec
	BufferedTotal     prometheus.Counter
	BufferDepth       prometheus.Gauge
	BufferRetries     *prometheus.CounterVec
	BufferExpired     prometheus.Counter
	RuleMatches       *prometheus.CounterVec
	RollupDuration    prometheus.Histogram
	HealthCheckStatus *prometheus.GaugeVec
	NATSConnected     prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all node metrics registered
// under the "synapse_relay" namespace.
func NewMetrics() *Metrics {
	return &Metrics{
		RelaysTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "synapse_relay",
				Subsystem: "delivery",
				Name:      "relays_total",
				Help:      "Total number of relaySignal calls, labeled by outcome.",
			},
			[]string{"outcome"},
		),

		TargetsReached: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "synapse_relay",
				Subsystem: "delivery",
				Name:      "targets_reached_total",
				Help:      "Total number of per-target sends that reached their peer.",
			},
			[]string{"target"},
		),

		TargetsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "synapse_relay",
				Subsystem: "delivery",
				Name:      "targets_failed_total",
				Help:      "Total number of per-target sends that failed.",
			},
			[]string{"target"},
		),

		RelayLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "synapse_relay",
				Subsystem: "delivery",
				Name:      "latency_seconds",
				Help:      "relaySignal wall-clock latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"signal_type"},
		),

		BufferedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "synapse_relay",
				Subsystem: "buffer",
				Name:      "buffered_total",
				Help:      "Total number of signals enqueued to the offline buffer.",
			},
		),

		BufferDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "synapse_relay",
				Subsystem: "buffer",
				Name:      "pending_depth",
				Help:      "Current number of pending rows in the offline buffer.",
			},
		),

		BufferRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "synapse_relay",
				Subsystem: "buffer",
				Name:      "retries_total",
				Help:      "Total number of buffer retry attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		),

		BufferExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "synapse_relay",
				Subsystem: "buffer",
				Name:      "expired_total",
				Help:      "Total number of buffered rows expired by TTL.",
			},
		),

		RuleMatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "synapse_relay",
				Subsystem: "rules",
				Name:      "matches_total",
				Help:      "Total number of rule matches, labeled by rule id.",
			},
			[]string{"rule_id"},
		),

		RollupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "synapse_relay",
				Subsystem: "stats",
				Name:      "rollup_duration_seconds",
				Help:      "Duration of a stats aggregator rollup tick.",
				Buckets:   prometheus.DefBuckets,
			},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "synapse_relay",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy) per component.",
			},
			[]string{"component"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "synapse_relay",
				Subsystem: "eventbus",
				Name:      "nats_connected",
				Help:      "NATS-backed event bus connection status (0=disconnected, 1=connected).",
			},
		),
	}
}

// RecordRelay records the outcome of one relaySignal call.
func (m *Metrics) RecordRelay(outcome string, signalType uint16, latency time.Duration) {
	m.RelaysTotal.WithLabelValues(outcome).Inc()
	m.RelayLatency.WithLabelValues(signalTypeLabel(signalType)).Observe(latency.Seconds())
}

// RecordTargetReached increments the reached counter for a target.
func (m *Metrics) RecordTargetReached(target string) {
	m.TargetsReached.WithLabelValues(target).Inc()
}

// RecordTargetFailed increments the failed counter for a target.
func (m *Metrics) RecordTargetFailed(target string) {
	m.TargetsFailed.WithLabelValues(target).Inc()
}

// RecordBuffered increments the buffered-signal counter.
func (m *Metrics) RecordBuffered() {
	m.BufferedTotal.Inc()
}

// RecordBufferDepth sets the current pending buffer depth gauge.
func (m *Metrics) RecordBufferDepth(n int) {
	m.BufferDepth.Set(float64(n))
}

// RecordBufferRetry records a retry attempt outcome ("delivered", "failed", "skipped").
func (m *Metrics) RecordBufferRetry(outcome string) {
	m.BufferRetries.WithLabelValues(outcome).Inc()
}

// RecordBufferExpired increments the TTL-expiry counter.
func (m *Metrics) RecordBufferExpired(n int) {
	m.BufferExpired.Add(float64(n))
}

// RecordRuleMatch increments the match counter for a rule.
func (m *Metrics) RecordRuleMatch(ruleID int64) {
	m.RuleMatches.WithLabelValues(ruleIDLabel(ruleID)).Inc()
}

// RecordRollup records the duration of a stats rollup tick.
func (m *Metrics) RecordRollup(d time.Duration) {
	m.RollupDuration.Observe(d.Seconds())
}

// RecordHealthStatus updates the per-component health gauge.
func (m *Metrics) RecordHealthStatus(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.HealthCheckStatus.WithLabelValues(component).Set(value)
}

// RecordNATSStatus updates the event bus's NATS connection gauge.
func (m *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.NATSConnected.Set(value)
}
