package udp

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenerDeliversDatagrams(t *testing.T) {
	serverConn, err := Bind(0)
	require.NoError(t, err)
	defer serverConn.Close()

	udpConn := serverConn.(*conn).UDPConn
	serverPort := udpConn.LocalAddr().(*net.UDPAddr).Port

	var mu sync.Mutex
	var received []byte
	got := make(chan struct{})

	listener := NewListener(serverConn, func(datagram []byte, _ *net.UDPAddr) {
		mu.Lock()
		received = datagram
		mu.Unlock()
		close(got)
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	listener.Start(ctx)
	defer listener.Stop(time.Second)

	clientAddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:"+strconv.Itoa(serverPort))
	require.NoError(t, err)
	clientConn, err := net.DialUDP("udp", nil, clientAddr)
	require.NoError(t, err)
	defer clientConn.Close()

	_, err = clientConn.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "hello", string(received))
}

func TestListenerStopIsIdempotent(t *testing.T) {
	serverConn, err := Bind(0)
	require.NoError(t, err)
	defer serverConn.Close()

	listener := NewListener(serverConn, func([]byte, *net.UDPAddr) {}, nil)
	listener.Start(context.Background())

	require.NoError(t, listener.Stop(time.Second))
	require.NoError(t, listener.Stop(time.Second))
}
