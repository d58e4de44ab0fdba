// Package protocol dispatches decoded inbound datagrams onto the engine's
// behavior by signal_type: PING/PONG keepalive, RELAY_REQUEST fan-out, and
// observational HEARTBEAT recording. Everything else is logged and dropped.
package protocol

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"time"

	"github.com/nohuiam/synapse-relay/codec"
	"github.com/nohuiam/synapse-relay/delivery"
	"github.com/nohuiam/synapse-relay/stats"
	"github.com/nohuiam/synapse-relay/types"
)

// Replier sends a reply datagram back to sender.
type Replier interface {
	Reply(sender *net.UDPAddr, signalType uint16, payload map[string]any)
}

// Handler dispatches decoded messages to the relay node's behavior.
type Handler struct {
	delivery *delivery.Engine
	stats    *stats.Aggregator
	replier  Replier
	logger   *slog.Logger
}

// New builds a Handler.
func New(deliveryEngine *delivery.Engine, statsAggregator *stats.Aggregator, replier Replier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{delivery: deliveryEngine, stats: statsAggregator, replier: replier, logger: logger}
}

// Handle dispatches one decoded message, arrived from sender, on signal_type.
func (h *Handler) Handle(ctx context.Context, msg *codec.DecodedMessage, sender *net.UDPAddr) {
	switch msg.SignalType {
	case types.SignalPing:
		h.handlePing(ctx, msg, sender)
	case types.SignalRelayRequest:
		h.handleRelayRequest(ctx, msg, sender)
	case types.SignalHeartbeat:
		h.logger.Debug("protocol: heartbeat received", "sender", sender.String())
	default:
		h.logger.Debug("protocol: dropped unhandled signal type", "signal_type", msg.SignalType, "sender", sender.String())
	}
}

func (h *Handler) handlePing(ctx context.Context, msg *codec.DecodedMessage, sender *net.UDPAddr) {
	var totalRelayed int64
	var successRate float64
	if h.stats != nil {
		since := time.Now().Add(-time.Hour).UnixMilli()
		result, err := h.stats.Query(ctx, stats.Query{Since: since})
		if err == nil {
			totalRelayed = result.TotalRelayed
			successRate = result.SuccessRate
		}
	}
	h.reply(sender, types.SignalPong, map[string]any{
		"echo":          msg.Payload,
		"status":        "operational",
		"total_relayed": totalRelayed,
		"success_rate":  successRate,
	})
}

// relayRequestPayload is the {signal_type, target_servers, payload,
// priority?} shape extracted from a RELAY_REQUEST body.
type relayRequestPayload struct {
	SignalType    uint16         `json:"signal_type"`
	TargetServers []string       `json:"target_servers"`
	Payload       map[string]any `json:"payload"`
	Priority      types.Priority `json:"priority,omitempty"`
}

func (h *Handler) handleRelayRequest(ctx context.Context, msg *codec.DecodedMessage, sender *net.UDPAddr) {
	req, err := decodeRelayRequest(msg.Payload)
	if err != nil {
		h.reply(sender, types.SignalRelayFailed, map[string]any{"error": err.Error()})
		return
	}

	result, err := h.delivery.RelaySignal(ctx, delivery.Request{
		SignalType:      req.SignalType,
		SourceServer:    senderName(msg.Payload),
		TargetServers:   req.TargetServers,
		Payload:         req.Payload,
		Priority:        req.Priority,
		BufferIfOffline: true,
	})
	if err != nil {
		h.reply(sender, types.SignalRelayFailed, map[string]any{"error": err.Error()})
		return
	}

	h.reply(sender, types.SignalRelayResponse, map[string]any{
		"relay_id":         result.RelayID,
		"relayed":          result.Relayed,
		"targets_reached":  result.TargetsReached,
		"targets_buffered": result.TargetsBuffered,
		"latency_ms":       result.LatencyMs,
	})
}

func decodeRelayRequest(payload map[string]any) (relayRequestPayload, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return relayRequestPayload{}, err
	}
	var req relayRequestPayload
	if err := json.Unmarshal(data, &req); err != nil {
		return relayRequestPayload{}, err
	}
	return req, nil
}

func senderName(payload map[string]any) string {
	if s, ok := payload["sender"].(string); ok {
		return s
	}
	return ""
}

func (h *Handler) reply(sender *net.UDPAddr, signalType uint16, payload map[string]any) {
	if h.replier == nil {
		return
	}
	h.replier.Reply(sender, signalType, payload)
}
