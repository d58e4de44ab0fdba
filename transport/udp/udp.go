// Package udp provides the relay node's datagram transport seam: a thin
// abstraction over a bound UDP socket, plus a listener that drives a
// read loop with the read-deadline-and-retry shutdown pattern (short
// deadlines so a shutdown signal is observed promptly instead of blocking
// forever on a read).
package udp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nohuiam/synapse-relay/errors"
)

const readDeadline = 100 * time.Millisecond

// Datagram is the minimal send/receive-with-peer-address-resolution
// contract the rest of the relay node depends on, so its components never
// import net directly.
type Datagram interface {
	ReadFrom(buf []byte) (n int, addr *net.UDPAddr, err error)
	WriteTo(b []byte, addr *net.UDPAddr) (int, error)
	Close() error
}

// conn adapts *net.UDPConn to Datagram.
type conn struct {
	*net.UDPConn
}

func (c *conn) ReadFrom(buf []byte) (int, *net.UDPAddr, error) {
	return c.UDPConn.ReadFromUDP(buf)
}

func (c *conn) WriteTo(b []byte, addr *net.UDPAddr) (int, error) {
	return c.UDPConn.WriteToUDP(b, addr)
}

// Bind opens a UDP socket on the given port across all interfaces.
func Bind(port int) (Datagram, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, errors.Wrap(err, "udp", "Bind", "resolve address")
	}
	c, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.WrapTransient(err, "udp", "Bind", "listen")
	}
	return &conn{c}, nil
}

// Handler processes one decoded-or-not datagram from sender.
type Handler func(datagram []byte, sender *net.UDPAddr)

// Listener drives the inbound read loop on a Datagram.
type Listener struct {
	conn    Datagram
	handler Handler
	logger  *slog.Logger

	running  atomic.Bool
	shutdown chan struct{}
	done     chan struct{}
	mu       sync.Mutex
}

// NewListener builds a Listener over conn. A nil logger falls back to
// slog.Default().
func NewListener(conn Datagram, handler Handler, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{conn: conn, handler: handler, logger: logger}
}

// Start begins the read loop in a background goroutine. Idempotent.
func (l *Listener) Start(ctx context.Context) {
	if !l.running.CompareAndSwap(false, true) {
		return
	}

	l.mu.Lock()
	l.shutdown = make(chan struct{})
	l.done = make(chan struct{})
	l.mu.Unlock()

	go l.readLoop(ctx)
}

// Stop signals the read loop to exit and waits up to timeout for it to do
// so.
func (l *Listener) Stop(timeout time.Duration) error {
	if !l.running.CompareAndSwap(true, false) {
		return nil
	}

	l.mu.Lock()
	close(l.shutdown)
	done := l.done
	l.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("listener stop timeout after %v", timeout), "udp", "Stop", "graceful shutdown")
	}
}

type deadlineSetter interface {
	SetReadDeadline(t time.Time) error
}

func (l *Listener) readLoop(ctx context.Context) {
	defer close(l.done)

	buf := make([]byte, 65536)
	ds, hasDeadline := l.conn.(deadlineSetter)

	for l.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-l.shutdown:
			return
		default:
		}

		if hasDeadline {
			_ = ds.SetReadDeadline(time.Now().Add(readDeadline))
		}

		n, addr, err := l.conn.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-l.shutdown:
				return
			default:
				l.logger.Warn("udp: read error", "error", err)
				continue
			}
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		l.handler(datagram, addr)
	}
}
