// Package tumbler is the relay node's inbound admission filter: it checks
// a decoded message's signal-type whitelist membership and freshness
// window, and throttles sustained overload with a token-bucket limiter.
// The peer whitelist is accepted but deliberately advisory only — unknown
// senders are never rejected on that basis (heartbeats from anyone are
// welcomed; see DESIGN.md for why this is kept rather than "fixed").
package tumbler

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/nohuiam/synapse-relay/codec"
)

const (
	maxFutureSkewMs = 60_000
	maxStalenessMs  = 300_000
)

// Config controls tumbler admission.
type Config struct {
	// IncomingSignalTypes, if non-empty, is the whitelist of acceptable
	// signal_type values. An empty whitelist accepts every signal type.
	IncomingSignalTypes map[uint16]struct{}

	// Peers is the advisory sender whitelist — logged when a sender is
	// unrecognized, never a rejection reason.
	Peers map[string]struct{}

	// RateLimit and RateBurst configure the inbound token-bucket limiter.
	// Zero RateLimit disables throttling.
	RateLimit rate.Limit
	RateBurst int
}

// Tumbler is the admission filter. Safe for concurrent use.
type Tumbler struct {
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New builds a Tumbler from cfg. A nil logger falls back to slog.Default().
func New(cfg Config, logger *slog.Logger) *Tumbler {
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}
	return &Tumbler{cfg: cfg, limiter: limiter, logger: logger}
}

// Admit reports whether a decoded message should be accepted. Rejections
// are always silent to the wire (logged here, dropped by the caller).
func (t *Tumbler) Admit(msg *codec.DecodedMessage) bool {
	if msg == nil {
		return false
	}

	if t.limiter != nil && !t.limiter.Allow() {
		t.logger.Warn("tumbler: dropped message, rate limit exceeded", "signal_type", msg.SignalType)
		return false
	}

	if len(t.cfg.IncomingSignalTypes) > 0 {
		if _, ok := t.cfg.IncomingSignalTypes[msg.SignalType]; !ok {
			t.logger.Debug("tumbler: dropped message, signal type not whitelisted", "signal_type", msg.SignalType)
			return false
		}
	}

	nowMs := time.Now().UnixMilli()
	tsMs := msg.Timestamp * 1000
	if diff := nowMs - tsMs; diff > maxStalenessMs || diff < -maxFutureSkewMs {
		t.logger.Debug("tumbler: dropped message, stale or future timestamp",
			"signal_type", msg.SignalType, "now_ms", nowMs, "ts_ms", tsMs)
		return false
	}

	return true
}

// KnownPeer reports whether sender is in the (advisory) peer whitelist.
// Never used to reject admission — only to annotate logs/metrics.
func (t *Tumbler) KnownPeer(sender string) bool {
	if len(t.cfg.Peers) == 0 {
		return true
	}
	_, ok := t.cfg.Peers[sender]
	return ok
}
