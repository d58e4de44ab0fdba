// Package buffermgr is the relay node's durable offline buffer manager:
// it enqueues signals for unreachable targets, drives the periodic
// processBuffer retry pass with a per-retry-count backoff schedule and TTL
// expiry, and exposes retry/flush/clear/list operations over the buffer.
package buffermgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nohuiam/synapse-relay/errors"
	"github.com/nohuiam/synapse-relay/eventbus"
	"github.com/nohuiam/synapse-relay/pkg/timestamp"
	"github.com/nohuiam/synapse-relay/pkg/worker"
	"github.com/nohuiam/synapse-relay/store"
	"github.com/nohuiam/synapse-relay/types"
)

var defaultRetryIntervalsMs = []int64{1000, 5000, 15000}

const (
	defaultMaxRetries = 3
	defaultTTLHours   = 24
	defaultWorkers    = 8
)

// DeliveryCallback is the single installed function the retry scheduler
// invokes for each eligible row. It is write-once and read-many, set at
// startup by the host.
type DeliveryCallback func(ctx context.Context, sig types.BufferedSignal) error

// Config controls retry scheduling and buffered-row defaults.
type Config struct {
	RetryIntervalsMs []int64
	MaxRetries       int
	TTLHours         int
	RetryWorkers     int
}

func (c Config) intervals() []int64 {
	if len(c.RetryIntervalsMs) == 0 {
		return defaultRetryIntervalsMs
	}
	return c.RetryIntervalsMs
}

func (c Config) maxRetries() int {
	if c.MaxRetries == 0 {
		return defaultMaxRetries
	}
	return c.MaxRetries
}

func (c Config) ttlHours() int {
	if c.TTLHours == 0 {
		return defaultTTLHours
	}
	return c.TTLHours
}

func (c Config) retryWorkers() int {
	if c.RetryWorkers <= 0 {
		return defaultWorkers
	}
	return c.RetryWorkers
}

// Manager is the buffer manager. Safe for concurrent use.
type Manager struct {
	store    *store.Store
	bus      eventbus.Bus
	callback DeliveryCallback
	cfg      Config
	logger   *slog.Logger
}

// New builds a Manager. A nil logger falls back to slog.Default().
func New(st *store.Store, bus eventbus.Bus, callback DeliveryCallback, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: st, bus: bus, callback: callback, cfg: cfg, logger: logger}
}

// BufferSignal writes a new pending row, applying the manager's configured
// defaults for max_retries and ttl_hours when the signal does not specify
// its own.
func (m *Manager) BufferSignal(ctx context.Context, sig types.BufferedSignal) (string, error) {
	if sig.BufferedAt == 0 {
		sig.BufferedAt = timestamp.Now()
	}
	if sig.MaxRetries == 0 {
		sig.MaxRetries = m.cfg.maxRetries()
	}
	if sig.ExpiresAt == 0 {
		sig.ExpiresAt = sig.BufferedAt + int64(m.cfg.ttlHours())*3600_000
	}
	sig.RetryCount = 0
	sig.Status = types.StatusPending

	row, err := m.store.BufferSignal(ctx, sig)
	if err != nil {
		return "", err
	}
	return row.ID, nil
}

// ProcessResult summarizes one processBuffer pass.
type ProcessResult struct {
	ExpiredCount   int
	RetriedCount   int
	DeliveredCount int
	FailedCount    int
}

// ProcessBuffer is the periodic driver: expire sweep, then a backoff-gated
// retry pass over eligible pending rows.
func (m *Manager) ProcessBuffer(ctx context.Context) (ProcessResult, error) {
	now := timestamp.Now()

	expired, err := m.store.ExpireSweep(ctx, now)
	if err != nil {
		return ProcessResult{}, err
	}
	if expired > 0 && m.bus != nil {
		_ = m.bus.Publish(ctx, "buffer:expired", eventbus.NewEvent("buffer:expired", map[string]any{"count": expired}))
	}

	result := ProcessResult{ExpiredCount: expired}

	retryable, err := m.store.SelectRetryable(ctx, now)
	if err != nil {
		return result, err
	}

	intervals := m.cfg.intervals()
	eligible := make([]types.BufferedSignal, 0, len(retryable))
	for _, row := range retryable {
		last := row.LastRetryAt
		if last == 0 {
			last = row.BufferedAt
		}
		idx := row.RetryCount
		if idx >= len(intervals) {
			idx = len(intervals) - 1
		}
		if now-last >= intervals[idx] {
			eligible = append(eligible, row)
		}
	}
	if len(eligible) == 0 {
		return result, nil
	}

	delivered, failed := m.runDeliveryPass(ctx, eligible)
	result.RetriedCount = len(eligible)
	result.DeliveredCount = int(delivered)
	result.FailedCount = int(failed)
	return result, nil
}

// runDeliveryPass fans the callback out over rows using a bounded worker
// pool, the same concurrency primitive the corpus uses for bounded
// parallel batch work.
func (m *Manager) runDeliveryPass(ctx context.Context, rows []types.BufferedSignal) (delivered, failed int64) {
	pool := worker.NewPool[types.BufferedSignal](m.cfg.retryWorkers(), len(rows), func(workCtx context.Context, row types.BufferedSignal) error {
		m.attemptDelivery(workCtx, row, &delivered, &failed)
		return nil
	})

	if err := pool.Start(ctx); err != nil {
		m.logger.Error("buffermgr: retry pool failed to start", "error", err)
		return 0, 0
	}
	for _, row := range rows {
		if err := pool.Submit(row); err != nil {
			m.logger.Warn("buffermgr: dropped retry row, pool queue full", "buffer_id", row.ID, "error", err)
		}
	}
	if err := pool.Stop(30 * time.Second); err != nil {
		m.logger.Error("buffermgr: retry pool did not drain in time", "error", err)
	}
	return delivered, failed
}

func (m *Manager) attemptDelivery(ctx context.Context, row types.BufferedSignal, delivered, failed *int64) {
	err := m.callback(ctx, row)
	if err == nil {
		row.Status = types.StatusDelivered
		if updErr := m.store.UpdateBufferedSignal(ctx, row); updErr != nil {
			m.logger.Error("buffermgr: failed to mark row delivered", "buffer_id", row.ID, "error", updErr)
			return
		}
		atomic.AddInt64(delivered, 1)
		if m.bus != nil {
			_ = m.bus.Publish(ctx, "relay:sent", eventbus.NewEvent("relay:sent", row))
		}
		return
	}

	row.RetryCount++
	row.LastRetryAt = timestamp.Now()
	if row.RetryCount >= row.MaxRetries {
		row.Status = types.StatusFailed
	}
	if updErr := m.store.UpdateBufferedSignal(ctx, row); updErr != nil {
		m.logger.Error("buffermgr: failed to record retry outcome", "buffer_id", row.ID, "error", updErr)
	}
	atomic.AddInt64(failed, 1)
}

// RetryResult summarizes a RetryBufferedSignals or FlushBuffer pass.
type RetryResult struct {
	DeliveredCount int
	FailedCount    int
}

// RetryBufferedSignals attempts delivery of the listed pending rows exactly
// once each, bypassing the backoff check.
func (m *Manager) RetryBufferedSignals(ctx context.Context, ids []string) (RetryResult, error) {
	rows, err := m.store.ListBufferedSignals(ctx, store.BufferFilter{IDs: ids})
	if err != nil {
		return RetryResult{}, err
	}

	var delivered, failed int64
	for _, row := range rows {
		if row.Status != types.StatusPending {
			continue
		}
		m.attemptDelivery(ctx, row, &delivered, &failed)
	}
	return RetryResult{DeliveredCount: int(delivered), FailedCount: int(failed)}, nil
}

// FlushBuffer iterates every pending row (optionally filtered by target);
// each is marked delivered or failed on this pass, with no further retries
// scheduled afterward.
func (m *Manager) FlushBuffer(ctx context.Context, target string) (RetryResult, error) {
	pending := types.StatusPending
	filter := store.BufferFilter{Status: &pending}
	if target != "" {
		filter.TargetServer = target
	}

	rows, err := m.store.ListBufferedSignals(ctx, filter)
	if err != nil {
		return RetryResult{}, err
	}

	var delivered, failed int64
	for _, row := range rows {
		err := m.callback(ctx, row)
		if err == nil {
			row.Status = types.StatusDelivered
			delivered++
		} else {
			row.Status = types.StatusFailed
			failed++
		}
		if updErr := m.store.UpdateBufferedSignal(ctx, row); updErr != nil {
			m.logger.Error("buffermgr: flush failed to persist row", "buffer_id", row.ID, "error", updErr)
		}
	}
	return RetryResult{DeliveredCount: int(delivered), FailedCount: int(failed)}, nil
}

// ClearFilter narrows ClearBufferedSignals. At least one field must be set.
type ClearFilter struct {
	IDs         []string
	Target      string
	SignalType  *uint16
	MaxAgeHours *float64
}

func (f ClearFilter) empty() bool {
	return len(f.IDs) == 0 && f.Target == "" && f.SignalType == nil && f.MaxAgeHours == nil
}

// ClearBufferedSignals deletes matching rows. ids take precedence over the
// other filters when both are given. Returns an Invalid-classified error if
// filter has no criteria set.
func (m *Manager) ClearBufferedSignals(ctx context.Context, filter ClearFilter) (int, error) {
	if filter.empty() {
		return 0, errors.WrapInvalid(fmt.Errorf("clearBufferedSignals requires at least one filter"), "buffermgr", "ClearBufferedSignals", "validate filter")
	}

	storeFilter := store.BufferFilter{
		IDs:          filter.IDs,
		TargetServer: filter.Target,
		SignalType:   filter.SignalType,
		MaxAgeHours:  filter.MaxAgeHours,
	}
	return m.store.ClearBufferedSignals(ctx, storeFilter)
}

// ListBufferedSignals lists rows matching filter.
func (m *Manager) ListBufferedSignals(ctx context.Context, filter store.BufferFilter) ([]types.BufferedSignal, error) {
	return m.store.ListBufferedSignals(ctx, filter)
}
