// Package engine wires the relay node's subsystems behind one explicit
// handle: store, peer-port map, rule engine, delivery engine, buffer
// manager, stats aggregator, event bus, and protocol/heartbeat drivers.
// Every operator-facing operation is a method on Engine.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/nohuiam/synapse-relay/buffermgr"
	"github.com/nohuiam/synapse-relay/codec"
	"github.com/nohuiam/synapse-relay/config"
	"github.com/nohuiam/synapse-relay/delivery"
	"github.com/nohuiam/synapse-relay/errors"
	"github.com/nohuiam/synapse-relay/eventbus"
	"github.com/nohuiam/synapse-relay/health"
	"github.com/nohuiam/synapse-relay/heartbeat"
	"github.com/nohuiam/synapse-relay/metric"
	"github.com/nohuiam/synapse-relay/protocol"
	"github.com/nohuiam/synapse-relay/rules"
	"github.com/nohuiam/synapse-relay/stats"
	"github.com/nohuiam/synapse-relay/store"
	"github.com/nohuiam/synapse-relay/storage"
	"github.com/nohuiam/synapse-relay/transport/udp"
	"github.com/nohuiam/synapse-relay/types"
)

// Engine is the relay node's single composition root. Construction order:
// store, rule engine, stats aggregator, UDP socket, delivery engine (wired
// to the buffer manager via the BufferEnqueuer seam), buffer manager (wired
// to the delivery engine's sender via its delivery callback), protocol
// handler, heartbeat ticker, listener.
type Engine struct {
	cfg       *config.SafeConfig
	store     *store.Store
	rules     *rules.Engine
	delivery  *delivery.Engine
	buffer    *buffermgr.Manager
	stats     *stats.Aggregator
	bus       eventbus.Bus
	protocol  *protocol.Handler
	heartbeat *heartbeat.Ticker
	listener  *udp.Listener
	conn      udp.Datagram
	metrics   *engineMetrics
	health    *health.Monitor
	logger    *slog.Logger
}

// New builds an Engine over backend, cfg, and bus. metricsRegistry may be
// nil to disable metrics.
func New(backend storage.Store, cfg *config.Config, bus eventbus.Bus, metricsRegistry *metric.MetricsRegistry, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = eventbus.NewLocal()
	}

	metrics, err := newEngineMetrics(metricsRegistry)
	if err != nil {
		logger.Error("engine: failed to initialize metrics", "error", err)
		metrics = nil
	}

	st := store.New(backend)
	ruleEngine := rules.New(logger)
	statsAgg := stats.New(st)

	e := &Engine{
		cfg:     config.NewSafeConfig(cfg),
		store:   st,
		rules:   ruleEngine,
		stats:   statsAgg,
		bus:     bus,
		metrics: metrics,
		health:  health.NewMonitor(),
		logger:  logger,
	}

	conn, err := udp.Bind(cfg.Port)
	if err != nil {
		e.health.UpdateUnhealthy("udp_listener", err.Error())
		return nil, errors.WrapFatal(err, "engine", "New", "bind udp socket")
	}
	e.conn = conn
	e.health.UpdateHealthy("udp_listener", fmt.Sprintf("bound on port %d", cfg.Port))

	sender := delivery.NewUDPSender(conn, delivery.PortMap(cfg.PeerPorts))
	bufferEnqueuer := &lazyBufferEnqueuer{}
	e.delivery = delivery.New(sender, ruleEngine, st, bus, bufferEnqueuer)

	bufCfg := buffermgr.Config{
		RetryIntervalsMs: cfg.BufferConfig.RetryIntervalsMs,
		TTLHours:         cfg.BufferConfig.TTLHours,
	}
	e.buffer = buffermgr.New(st, bus, e.deliverBufferedSignal, bufCfg, logger)
	bufferEnqueuer.manager = e.buffer

	e.protocol = protocol.New(e.delivery, statsAgg, &udpReplier{conn: conn}, logger)

	e.heartbeat = heartbeat.New(sender, func() []string { return e.cfg.Get().SortedPeers() }, 30*time.Second, logger)

	e.listener = udp.NewListener(conn, e.handleDatagram, logger)
	e.health.UpdateHealthy("buffer_manager", "ready")
	e.health.UpdateHealthy("stats_aggregator", "ready")
	return e, nil
}

// healthStaleness bounds how long a subsystem's last health update may age
// before it is treated as unresponsive rather than still in its last known
// state. It is kept comfortably above the buffer retry ticker's 5s period.
const healthStaleness = 2 * time.Minute

// Health reports the aggregate health of the engine's subsystems, suitable
// for serving over a health endpoint. Components whose ticker has not
// reported in healthStaleness are downgraded before aggregation so a
// wedged goroutine surfaces as unhealthy instead of frozen-healthy.
func (e *Engine) Health() health.Status {
	e.health.StaleAfter(healthStaleness, "no health update received within expected interval")
	return e.health.AggregateHealth("synapse-relay")
}

// lazyBufferEnqueuer defers to buffer manager once it exists, breaking the
// delivery-engine/buffer-manager construction cycle (delivery needs a
// BufferEnqueuer at construction time; the buffer manager needs the
// delivery engine's sender as its delivery callback).
type lazyBufferEnqueuer struct {
	manager *buffermgr.Manager
}

func (l *lazyBufferEnqueuer) BufferSignal(ctx context.Context, sig types.BufferedSignal) (string, error) {
	if l.manager == nil {
		return "", fmt.Errorf("engine: buffer manager not yet initialized")
	}
	return l.manager.BufferSignal(ctx, sig)
}

// deliverBufferedSignal is the buffer manager's installed delivery
// callback: it re-sends a previously failed (signal, target) pair.
func (e *Engine) deliverBufferedSignal(ctx context.Context, sig types.BufferedSignal) error {
	result, err := e.delivery.RelaySignal(ctx, delivery.Request{
		SignalType:    sig.SignalType,
		SourceServer:  sig.SourceServer,
		TargetServers: []string{sig.TargetServer},
		Payload:       sig.Payload,
		Priority:      sig.Priority,
	})
	if err != nil {
		return err
	}
	if len(result.TargetsFailed) > 0 {
		return fmt.Errorf("engine: buffered retry to %q still failed", sig.TargetServer)
	}
	return nil
}

type udpReplier struct {
	conn udp.Datagram
}

const senderName = "synapse-relay"

func (r *udpReplier) Reply(addr *net.UDPAddr, signalType uint16, payload map[string]any) {
	datagram := codec.Encode(signalType, senderName, payload)
	_, _ = r.conn.WriteTo(datagram, addr)
}

func (e *Engine) handleDatagram(datagram []byte, sender *net.UDPAddr) {
	msg := codec.Decode(datagram)
	if msg == nil {
		return
	}
	e.protocol.Handle(context.Background(), msg, sender)
}

// Start begins the inbound listener, buffer retry ticker, stats rollup
// ticker, and heartbeat ticker.
func (e *Engine) Start(ctx context.Context) {
	e.listener.Start(ctx)
	e.heartbeat.Start(ctx)
	go e.runBufferRetryTicker(ctx)
	go e.runStatsTicker(ctx)
}

// Stop stops the heartbeat ticker and the listener, then closes the socket.
// The buffer retry and stats tickers exit when the context given to Start
// is canceled.
func (e *Engine) Stop(timeout time.Duration) error {
	e.heartbeat.Stop()
	if err := e.listener.Stop(timeout); err != nil {
		e.logger.Warn("engine: listener stop timed out", "error", err)
	}
	return e.conn.Close()
}

func (e *Engine) runBufferRetryTicker(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.buffer.ProcessBuffer(ctx); err != nil {
				e.logger.Error("engine: buffer retry pass failed", "error", err)
				e.health.UpdateDegraded("buffer_manager", err.Error())
			} else {
				e.health.UpdateHealthy("buffer_manager", "ready")
			}
		}
	}
}

func (e *Engine) runStatsTicker(ctx context.Context) {
	interval := time.Duration(e.cfg.Get().StatsAggregationIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.stats.Rollup(ctx, time.Now()); err != nil {
				e.logger.Error("engine: stats rollup failed", "error", err)
				e.health.UpdateDegraded("stats_aggregator", err.Error())
				continue
			}
			e.health.UpdateHealthy("stats_aggregator", "ready")
			if e.bus != nil {
				_ = e.bus.Publish(ctx, "stats:update", eventbus.NewEvent("stats:update", nil))
			}
		}
	}
}

// RelaySignalInput is the relay_signal operator operation's input.
type RelaySignalInput struct {
	SignalType      uint16
	TargetServers   []string
	Payload         map[string]any
	Priority        types.Priority
	BufferIfOffline bool
}

// RelaySignal is the relay_signal operator operation.
func (e *Engine) RelaySignal(ctx context.Context, in RelaySignalInput) (types.RelayResult, error) {
	start := time.Now()
	result, err := e.delivery.RelaySignal(ctx, delivery.Request{
		SignalType:      in.SignalType,
		TargetServers:   in.TargetServers,
		Payload:         in.Payload,
		Priority:        in.Priority,
		BufferIfOffline: in.BufferIfOffline,
	})
	e.metrics.recordRelay(err == nil && result.Relayed, time.Since(start).Seconds())
	e.metrics.recordBuffered(len(result.TargetsBuffered))
	return result, err
}

// ConfigureRelayInput is the configure_relay operator operation's input.
type ConfigureRelayInput struct {
	Action string // add, update, remove, list
	RuleID int64
	Rule   types.RelayRule
}

// ConfigureRelayResult is the configure_relay operator operation's output.
type ConfigureRelayResult struct {
	RuleID  int64
	Action  string
	Success bool
	Rules   []types.RelayRule
}

// ConfigureRelay is the configure_relay operator operation.
func (e *Engine) ConfigureRelay(_ context.Context, in ConfigureRelayInput) (ConfigureRelayResult, error) {
	e.metrics.recordConfigure(in.Action)
	switch in.Action {
	case "add":
		id := e.rules.Add(in.Rule)
		return ConfigureRelayResult{RuleID: id, Action: in.Action, Success: true}, nil
	case "update":
		ok := e.rules.Update(in.RuleID, in.Rule)
		return ConfigureRelayResult{RuleID: in.RuleID, Action: in.Action, Success: ok}, nil
	case "remove":
		ok := e.rules.Remove(in.RuleID)
		return ConfigureRelayResult{RuleID: in.RuleID, Action: in.Action, Success: ok}, nil
	case "list":
		return ConfigureRelayResult{Action: in.Action, Success: true, Rules: e.rules.List()}, nil
	default:
		return ConfigureRelayResult{}, errors.WrapInvalid(fmt.Errorf("unknown configure_relay action %q", in.Action), "engine", "ConfigureRelay", "validate action")
	}
}

// GetRelayStats is the get_relay_stats operator operation. A zero Since
// defaults to 24 hours before now.
func (e *Engine) GetRelayStats(ctx context.Context, q stats.Query) (stats.Result, error) {
	if q.Since == 0 {
		q.Since = time.Now().Add(-24 * time.Hour).UnixMilli()
	}
	return e.stats.Query(ctx, q)
}

// BufferSignalsInput is the buffer_signals operator operation's input.
type BufferSignalsInput struct {
	Action      string // list, retry, clear, flush
	BufferIDs   []string
	Target      string
	SignalType  *uint16
	MaxAgeHours *float64
}

// BufferSignalsResult is the buffer_signals operator operation's output.
type BufferSignalsResult struct {
	Action        string
	AffectedCount int
	BufferItems   []types.BufferedSignal
}

// BufferSignals is the buffer_signals operator operation.
func (e *Engine) BufferSignals(ctx context.Context, in BufferSignalsInput) (BufferSignalsResult, error) {
	switch in.Action {
	case "list":
		items, err := e.buffer.ListBufferedSignals(ctx, store.BufferFilter{
			IDs: in.BufferIDs, TargetServer: in.Target, SignalType: in.SignalType, MaxAgeHours: in.MaxAgeHours,
		})
		if err != nil {
			return BufferSignalsResult{}, err
		}
		return BufferSignalsResult{Action: in.Action, AffectedCount: len(items), BufferItems: items}, nil
	case "retry":
		result, err := e.buffer.RetryBufferedSignals(ctx, in.BufferIDs)
		if err != nil {
			return BufferSignalsResult{}, err
		}
		return BufferSignalsResult{Action: in.Action, AffectedCount: result.DeliveredCount + result.FailedCount}, nil
	case "flush":
		result, err := e.buffer.FlushBuffer(ctx, in.Target)
		if err != nil {
			return BufferSignalsResult{}, err
		}
		return BufferSignalsResult{Action: in.Action, AffectedCount: result.DeliveredCount + result.FailedCount}, nil
	case "clear":
		count, err := e.buffer.ClearBufferedSignals(ctx, buffermgr.ClearFilter{
			IDs: in.BufferIDs, Target: in.Target, SignalType: in.SignalType, MaxAgeHours: in.MaxAgeHours,
		})
		if err != nil {
			return BufferSignalsResult{}, err
		}
		return BufferSignalsResult{Action: in.Action, AffectedCount: count}, nil
	default:
		return BufferSignalsResult{}, errors.WrapInvalid(fmt.Errorf("unknown buffer_signals action %q", in.Action), "engine", "BufferSignals", "validate action")
	}
}
