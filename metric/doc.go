// Package metric provides Prometheus-based metrics collection for the relay
// node's delivery, buffer, rule, stats, and event bus subsystems.
//
// The package centers on a MetricsRegistry managing both core node metrics
// (Metrics type, registered automatically) and component-specific metrics
// registered through the MetricsRegistrar interface. Exposing the registry
// over HTTP is the caller's responsibility (see cmd/relayd), typically via
// promhttp.HandlerFor(registry.PrometheusRegistry(), ...).
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	coreMetrics := registry.CoreMetrics()
//
//	coreMetrics.RecordRelay("reached", 0x50, elapsed)
//	coreMetrics.RecordTargetReached("nav-computer")
//	coreMetrics.RecordBuffered()
//
//	http.Handle("/metrics", promhttp.HandlerFor(registry.PrometheusRegistry(),
//	    promhttp.HandlerOpts{}))
//
// # Core Metrics
//
// All core metrics are registered under the "synapse_relay" namespace:
//
//   - delivery: relays_total, targets_reached_total, targets_failed_total, latency_seconds
//   - buffer: buffered_total, pending_depth, retries_total, expired_total
//   - rules: matches_total
//   - stats: rollup_duration_seconds
//   - health: status
//   - eventbus: nats_connected
//
// # Component-Specific Metrics
//
// Components register custom metrics through the MetricsRegistrar interface:
//
//	requestCounter := prometheus.NewCounter(prometheus.CounterOpts{
//	    Name: "udp_datagrams_total",
//	    Help: "Total UDP datagrams received",
//	})
//	err := registry.RegisterCounter("transport", "udp_datagrams_total", requestCounter)
//
// # Thread Safety
//
// Registration methods use mutex protection; metric recording is lock-free
// per the underlying Prometheus client guarantees.
package metric
