package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nohuiam/synapse-relay/metric"
)

// engineMetrics holds Prometheus metrics for relay engine operations.
type engineMetrics struct {
	relays         *prometheus.CounterVec // by status
	relayDuration  prometheus.Histogram
	bufferedTotal  prometheus.Counter
	configureTotal *prometheus.CounterVec // by action
}

// newEngineMetrics registers relay engine metrics with registry. A nil
// registry disables metrics and newEngineMetrics returns nil, nil.
func newEngineMetrics(registry *metric.MetricsRegistry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &engineMetrics{
		relays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synapse_relay",
			Subsystem: "engine",
			Name:      "relays_total",
			Help:      "Total number of relay_signal operations",
		}, []string{"status"}),
		relayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "synapse_relay",
			Subsystem: "engine",
			Name:      "relay_duration_seconds",
			Help:      "Latency of relay_signal operations",
		}),
		bufferedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "synapse_relay",
			Subsystem: "engine",
			Name:      "buffered_total",
			Help:      "Total number of targets buffered for later retry",
		}),
		configureTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synapse_relay",
			Subsystem: "engine",
			Name:      "configure_relay_total",
			Help:      "Total number of configure_relay operations by action",
		}, []string{"action"}),
	}

	if err := registry.RegisterCounterVec("engine", "relays_total", m.relays); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("engine", "relay_duration_seconds", m.relayDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("engine", "buffered_total", m.bufferedTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "configure_relay_total", m.configureTotal); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *engineMetrics) recordRelay(success bool, seconds float64) {
	if m == nil {
		return
	}
	status := "failure"
	if success {
		status = "success"
	}
	m.relays.WithLabelValues(status).Inc()
	m.relayDuration.Observe(seconds)
}

func (m *engineMetrics) recordBuffered(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.bufferedTotal.Add(float64(count))
}

func (m *engineMetrics) recordConfigure(action string) {
	if m == nil {
		return
	}
	m.configureTotal.WithLabelValues(action).Inc()
}
