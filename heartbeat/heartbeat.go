// Package heartbeat drives the relay node's fire-and-forget HEARTBEAT
// emission: every tick, one HEARTBEAT datagram is sent to each configured
// peer. Failures are logged, never retried or buffered.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/nohuiam/synapse-relay/codec"
	"github.com/nohuiam/synapse-relay/types"
)

const defaultInterval = 30 * time.Second

const senderName = "synapse-relay"

// Sender sends a raw datagram to a named peer.
type Sender interface {
	Send(target string, datagram []byte) error
}

// Ticker drives the periodic heartbeat emission.
type Ticker struct {
	sender   Sender
	peers    func() []string
	interval time.Duration
	logger   *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// New builds a Ticker. peers is called fresh on every tick so peer-list
// changes take effect without restarting the ticker. interval <= 0 uses
// the 30s default. A nil logger falls back to slog.Default().
func New(sender Sender, peers func() []string, interval time.Duration, logger *slog.Logger) *Ticker {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ticker{sender: sender, peers: peers, interval: interval, logger: logger}
}

// Start begins firing in a background goroutine until ctx is canceled or
// Stop is called.
func (t *Ticker) Start(ctx context.Context) {
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.run(ctx)
}

// Stop signals the ticker goroutine to exit and waits for it to do so.
func (t *Ticker) Stop() {
	if t.stop == nil {
		return
	}
	close(t.stop)
	<-t.done
}

func (t *Ticker) run(ctx context.Context) {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.fire()
		}
	}
}

func (t *Ticker) fire() {
	datagram := codec.Encode(types.SignalHeartbeat, senderName, map[string]any{})
	for _, peer := range t.peers() {
		if err := t.sender.Send(peer, datagram); err != nil {
			t.logger.Debug("heartbeat: send failed", "peer", peer, "error", err)
		}
	}
}
