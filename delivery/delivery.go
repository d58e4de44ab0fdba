// Package delivery is the relay node's fan-out engine: relaySignal resolves
// routing rules, transforms the payload, sends one datagram per target
// concurrently, records a RelayRecord, and hands failed targets to the
// buffer manager when buffering is requested.
package delivery

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nohuiam/synapse-relay/codec"
	"github.com/nohuiam/synapse-relay/errors"
	"github.com/nohuiam/synapse-relay/eventbus"
	"github.com/nohuiam/synapse-relay/pkg/retry"
	"github.com/nohuiam/synapse-relay/rules"
	"github.com/nohuiam/synapse-relay/store"
	"github.com/nohuiam/synapse-relay/transport/udp"
	"github.com/nohuiam/synapse-relay/types"
)

const senderName = "synapse-relay"

// Sender abstracts the per-target datagram send so the delivery engine
// does not depend on a concrete transport.
type Sender interface {
	Send(target string, datagram []byte) error
}

// PortMap resolves a peer name to a UDP address. A name absent from the
// map is classified as failed, but is still eligible for buffering —
// targets may come online later once their port mapping is corrected.
type PortMap map[string]int

// sendRetryConfig governs retry of a single datagram write. UDP writes fail
// almost exclusively on transient conditions (a momentarily full send
// buffer, an interface hiccup) since there is no handshake to time out, so
// a couple of fast retries absorb those before the target is reported
// failed and handed to the buffer manager.
var sendRetryConfig = errors.DefaultRetryConfig().ToRetryConfig()

// UDPSender sends one datagram per target over conn, resolving target
// names against a PortMap (loopback deployment default).
type UDPSender struct {
	conn  udp.Datagram
	ports PortMap
}

// NewUDPSender builds a Sender over conn using ports for name resolution.
func NewUDPSender(conn udp.Datagram, ports PortMap) *UDPSender {
	return &UDPSender{conn: conn, ports: ports}
}

func (s *UDPSender) Send(target string, datagram []byte) error {
	port, ok := s.ports[target]
	if !ok {
		return retry.NonRetryable(fmt.Errorf("delivery: unknown target %q, not present in peer-port map", target))
	}
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return retry.NonRetryable(fmt.Errorf("delivery: resolve target %q: %w", target, err))
	}
	return retry.Do(context.Background(), sendRetryConfig, func() error {
		_, werr := s.conn.WriteTo(datagram, addr)
		return werr
	})
}

// BufferEnqueuer is the subset of the buffer manager the delivery engine
// calls into when a send fails and buffering is requested.
type BufferEnqueuer interface {
	BufferSignal(ctx context.Context, sig types.BufferedSignal) (string, error)
}

// Engine is the delivery engine. Safe for concurrent use.
type Engine struct {
	sender Sender
	rules  *rules.Engine
	store  *store.Store
	bus    eventbus.Bus
	buffer BufferEnqueuer
}

// New builds a delivery Engine.
func New(sender Sender, ruleEngine *rules.Engine, st *store.Store, bus eventbus.Bus, buffer BufferEnqueuer) *Engine {
	return &Engine{sender: sender, rules: ruleEngine, store: st, bus: bus, buffer: buffer}
}

// Request is the relaySignal input.
type Request struct {
	SignalType      uint16
	SourceServer    string
	TargetServers   []string
	Payload         map[string]any
	Priority        types.Priority
	BufferIfOffline bool
}

type sendOutcome struct {
	target string
	err    error
}

// RelaySignal runs the full relaySignal algorithm: rule resolution and
// transform, concurrent per-target send, buffering of failures, and
// RelayRecord persistence.
func (e *Engine) RelaySignal(ctx context.Context, req Request) (types.RelayResult, error) {
	start := time.Now()
	relayID := uuid.NewString()

	payload := req.Payload
	if e.rules != nil {
		matched := e.rules.Match(req.SignalType, req.SourceServer)
		for _, rule := range matched {
			if rule.Transform != nil {
				payload = rules.ApplyTransform(payload, rule.Transform)
			}
		}
	}

	priority := req.Priority
	if priority == "" {
		priority = types.PriorityNormal
	}

	datagram := codec.Encode(req.SignalType, senderName, payload)

	outcomes := make([]sendOutcome, len(req.TargetServers))
	g, _ := errgroup.WithContext(ctx)
	for i, target := range req.TargetServers {
		i, target := i, target
		g.Go(func() error {
			outcomes[i] = sendOutcome{target: target, err: e.sender.Send(target, datagram)}
			return nil
		})
	}
	_ = g.Wait()

	var reached, failed, buffered []string
	for _, o := range outcomes {
		if o.err == nil {
			reached = append(reached, o.target)
			continue
		}
		failed = append(failed, o.target)
		if req.BufferIfOffline && e.buffer != nil {
			now := time.Now().UnixMilli()
			_, bufErr := e.buffer.BufferSignal(ctx, types.BufferedSignal{
				SignalType:   req.SignalType,
				SourceServer: req.SourceServer,
				TargetServer: o.target,
				Payload:      payload,
				Priority:     priority,
				BufferedAt:   now,
			})
			if bufErr == nil {
				buffered = append(buffered, o.target)
			}
		}
	}

	latency := time.Since(start).Milliseconds()
	success := len(reached) > 0

	record := types.RelayRecord{
		ID:             relayID,
		SignalType:     req.SignalType,
		SourceServer:   req.SourceServer,
		TargetServers:  req.TargetServers,
		Payload:        payload,
		Priority:       priority,
		RelayedAt:      time.Now().UnixMilli(),
		Success:        success,
		TargetsReached: reached,
		TargetsFailed:  failed,
		LatencyMs:      latency,
	}
	if e.store != nil {
		if _, err := e.store.InsertRelayRecord(ctx, record); err != nil {
			return types.RelayResult{}, err
		}
	}

	if e.bus != nil {
		topic := "relay:sent"
		if !success {
			topic = "relay:failed"
		}
		_ = e.bus.Publish(ctx, topic, eventbus.NewEvent(topic, record))
		if len(buffered) > 0 {
			_ = e.bus.Publish(ctx, "relay:buffered", eventbus.NewEvent("relay:buffered", map[string]any{
				"relay_id": relayID,
				"targets":  buffered,
			}))
		}
	}

	return types.RelayResult{
		RelayID:         relayID,
		Relayed:         success,
		TargetsReached:  reached,
		TargetsFailed:   failed,
		TargetsBuffered: buffered,
		LatencyMs:       latency,
	}, nil
}

// Multicast expands to every peer in ports except those in exclude, then
// delegates to RelaySignal.
func (e *Engine) Multicast(ctx context.Context, ports PortMap, signalType uint16, source string, payload map[string]any, priority types.Priority, exclude map[string]struct{}) (types.RelayResult, error) {
	var targets []string
	for name := range ports {
		if _, skip := exclude[name]; skip {
			continue
		}
		targets = append(targets, name)
	}
	return e.RelaySignal(ctx, Request{
		SignalType:      signalType,
		SourceServer:    source,
		TargetServers:   targets,
		Payload:         payload,
		Priority:        priority,
		BufferIfOffline: true,
	})
}
