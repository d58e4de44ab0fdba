package delivery

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nohuiam/synapse-relay/eventbus"
	"github.com/nohuiam/synapse-relay/pkg/retry"
	"github.com/nohuiam/synapse-relay/rules"
	"github.com/nohuiam/synapse-relay/store"
	"github.com/nohuiam/synapse-relay/storage"
	"github.com/nohuiam/synapse-relay/types"
)

type fakeSender struct {
	mu   sync.Mutex
	fail map[string]bool
	sent map[string][]byte
}

func newFakeSender(fail ...string) *fakeSender {
	f := &fakeSender{fail: map[string]bool{}, sent: map[string][]byte{}}
	for _, t := range fail {
		f.fail[t] = true
	}
	return f
}

func (f *fakeSender) Send(target string, datagram []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[target] {
		return errors.New("simulated send failure")
	}
	f.sent[target] = datagram
	return nil
}

type fakeBuffer struct {
	mu          sync.Mutex
	bufferedFor []string
}

func (f *fakeBuffer) BufferSignal(_ context.Context, sig types.BufferedSignal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bufferedFor = append(f.bufferedFor, sig.TargetServer)
	return "buf-1", nil
}

func newTestEngine(sender Sender, buffer BufferEnqueuer) (*Engine, *store.Store) {
	st := store.New(storage.NewMemStore())
	return New(sender, rules.New(nil), st, eventbus.NewLocal(), buffer), st
}

func TestRelaySignalAllReach(t *testing.T) {
	sender := newFakeSender()
	engine, st := newTestEngine(sender, nil)

	result, err := engine.RelaySignal(context.Background(), Request{
		SignalType:    0x50,
		TargetServers: []string{"A", "B"},
		Payload:       map[string]any{"x": 1},
	})
	require.NoError(t, err)
	assert.True(t, result.Relayed)
	assert.ElementsMatch(t, []string{"A", "B"}, result.TargetsReached)
	assert.Empty(t, result.TargetsFailed)

	recs, err := st.ListRelayRecords(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Success)
}

func TestRelaySignalBuffersFailedTarget(t *testing.T) {
	sender := newFakeSender("B")
	buffer := &fakeBuffer{}
	engine, _ := newTestEngine(sender, buffer)

	result, err := engine.RelaySignal(context.Background(), Request{
		SignalType:      0x50,
		TargetServers:   []string{"A", "B"},
		Payload:         map[string]any{"x": 1},
		BufferIfOffline: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, result.TargetsReached)
	assert.Equal(t, []string{"B"}, result.TargetsFailed)
	assert.Equal(t, []string{"B"}, result.TargetsBuffered)
	assert.Equal(t, []string{"B"}, buffer.bufferedFor)
}

func TestRelaySignalAllFail(t *testing.T) {
	sender := newFakeSender("A", "B")
	engine, _ := newTestEngine(sender, nil)

	result, err := engine.RelaySignal(context.Background(), Request{
		SignalType:    0x50,
		TargetServers: []string{"A", "B"},
		Payload:       map[string]any{},
	})
	require.NoError(t, err)
	assert.False(t, result.Relayed)
	assert.Empty(t, result.TargetsReached)
}

func TestMulticastExcludesListedPeers(t *testing.T) {
	sender := newFakeSender()
	engine, _ := newTestEngine(sender, nil)

	ports := PortMap{"A": 1, "B": 2, "C": 3}
	result, err := engine.Multicast(context.Background(), ports, 0x50, "src", map[string]any{}, types.PriorityNormal, map[string]struct{}{"B": {}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "C"}, result.TargetsReached)
}

func TestRelaySignalAppliesRuleTransform(t *testing.T) {
	sender := newFakeSender()
	ruleEngine := rules.New(nil)
	ruleEngine.Add(types.RelayRule{
		SignalPattern: 0x50,
		RelayTo:       []string{"C"},
		Enabled:       true,
		Transform: &types.TransformSpec{
			Fields: []string{"new", "old"},
			Ops: map[string]types.TransformOp{
				"new": {Rename: "old"},
				"old": {Delete: true},
			},
		},
	})
	st := store.New(storage.NewMemStore())
	engine := New(sender, ruleEngine, st, eventbus.NewLocal(), nil)

	_, err := engine.RelaySignal(context.Background(), Request{
		SignalType:    0x50,
		SourceServer:  "src",
		TargetServers: []string{"C"},
		Payload:       map[string]any{"old": "v", "keep": true},
	})
	require.NoError(t, err)

	recs, _ := st.ListRelayRecords(context.Background(), 0, 0)
	require.Len(t, recs, 1)
	assert.Equal(t, "v", recs[0].Payload["new"])
	assert.NotContains(t, recs[0].Payload, "old")
	assert.Equal(t, true, recs[0].Payload["keep"])
}

type fakeDatagram struct {
	mu         sync.Mutex
	failsLeft  int
	writeCount int
}

func (f *fakeDatagram) ReadFrom([]byte) (int, *net.UDPAddr, error) { return 0, nil, nil }
func (f *fakeDatagram) Close() error                               { return nil }

func (f *fakeDatagram) WriteTo(b []byte, _ *net.UDPAddr) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeCount++
	if f.failsLeft > 0 {
		f.failsLeft--
		return 0, errors.New("simulated transient write failure")
	}
	return len(b), nil
}

func TestUDPSenderSendRetriesTransientWriteFailure(t *testing.T) {
	conn := &fakeDatagram{failsLeft: 1}
	sender := NewUDPSender(conn, PortMap{"north": 4100})

	err := sender.Send("north", []byte("datagram"))

	require.NoError(t, err)
	assert.Equal(t, 2, conn.writeCount)
}

func TestUDPSenderSendUnknownTargetIsNonRetryable(t *testing.T) {
	conn := &fakeDatagram{}
	sender := NewUDPSender(conn, PortMap{"north": 4100})

	err := sender.Send("nowhere", []byte("datagram"))

	require.Error(t, err)
	assert.True(t, retry.IsNonRetryable(err))
	assert.Equal(t, 0, conn.writeCount)
}
