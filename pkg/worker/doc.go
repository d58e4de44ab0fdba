// Package worker provides a generic, thread-safe worker pool for concurrent
// task processing.
//
// # Overview
//
// The pool manages a fixed number of goroutines draining a bounded channel,
// giving callers resource control (fixed goroutine/memory overhead),
// backpressure (Submit fails fast with ErrQueueFull rather than blocking),
// and built-in statistics.
//
// The buffer manager's retry pass is this package's caller: each offline
// redelivery attempt for a buffered signal is a unit of work distributed
// across a small pool sized by Config.RetryWorkers, so one slow or
// unreachable peer does not stall delivery to the rest.
//
//	pool := worker.NewPool[types.BufferedSignal](
//	    workers, len(rows),
//	    func(ctx context.Context, row types.BufferedSignal) error {
//	        return deliver(ctx, row)
//	    },
//	)
//	_ = pool.Start(ctx)
//	for _, row := range rows {
//	    _ = pool.Submit(row)
//	}
//	_ = pool.Stop(30 * time.Second)
//
// # Observability
//
// Stats() always tracks submitted/processed/failed/dropped counts and
// queue depth using atomic operations. WithMetricsRegistry additionally
// publishes the same counters as Prometheus gauges/counters whose names
// start with the pool's metrics prefix.
//
// # Thread safety
//
// Submit, Start, Stop, and Stats may all be called concurrently. Start and
// Stop are each idempotent-safe to call once; Stop blocks until in-flight
// work completes or the timeout elapses, whichever comes first.
package worker
