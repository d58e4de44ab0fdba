// Package health tracks per-component health status for the relay node and
// aggregates it into a system-wide view for the /healthz endpoint.
//
// # States
//
//   - Healthy: component operating normally
//   - Degraded: component operating with reduced functionality
//   - Unhealthy: component not functioning properly
//
// # Usage
//
//	monitor := health.NewMonitor()
//	monitor.UpdateHealthy("udp_listener", "bound on port 3025")
//	monitor.UpdateDegraded("buffer_manager", err.Error())
//
//	status := monitor.AggregateHealth("synapse-relay")
//	// any unhealthy component -> system unhealthy
//	// any degraded component (no unhealthy) -> system degraded
//	// all healthy -> system healthy
//
// StaleAfter downgrades components whose last update predates a cutoff,
// so a ticker goroutine that stopped reporting does not leave the
// aggregate stuck on its last known-good status. The relay engine calls it
// before every AggregateHealth.
//
// # Thread safety
//
// Monitor uses an RWMutex so reads never block on each other. Status is a
// value type; WithMetrics and WithSubStatus return copies rather than
// mutating the receiver.
package health
