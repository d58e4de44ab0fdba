package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nohuiam/synapse-relay/config"
	"github.com/nohuiam/synapse-relay/stats"
	"github.com/nohuiam/synapse-relay/storage"
	"github.com/nohuiam/synapse-relay/types"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := &config.Config{Port: 0, PeerPorts: map[string]int{}}
	e, err := New(storage.NewMemStore(), cfg, nil, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.conn.Close() })
	return e
}

func TestConfigureRelayAddListUpdateRemove(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	added, err := e.ConfigureRelay(ctx, ConfigureRelayInput{
		Action: "add",
		Rule:   types.RelayRule{SignalPattern: 0x50, RelayTo: []string{"A"}, Enabled: true},
	})
	require.NoError(t, err)
	assert.True(t, added.Success)
	assert.NotZero(t, added.RuleID)

	listed, err := e.ConfigureRelay(ctx, ConfigureRelayInput{Action: "list"})
	require.NoError(t, err)
	require.Len(t, listed.Rules, 1)

	updated, err := e.ConfigureRelay(ctx, ConfigureRelayInput{
		Action: "update",
		RuleID: added.RuleID,
		Rule:   types.RelayRule{SignalPattern: 0x51, RelayTo: []string{"B"}, Enabled: true},
	})
	require.NoError(t, err)
	assert.True(t, updated.Success)

	removed, err := e.ConfigureRelay(ctx, ConfigureRelayInput{Action: "remove", RuleID: added.RuleID})
	require.NoError(t, err)
	assert.True(t, removed.Success)
}

func TestConfigureRelayRejectsUnknownAction(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.ConfigureRelay(context.Background(), ConfigureRelayInput{Action: "bogus"})
	assert.Error(t, err)
}

func TestRelaySignalUnknownTargetIsFailedNotError(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.RelaySignal(context.Background(), RelaySignalInput{
		SignalType:      0x50,
		TargetServers:   []string{"ghost"},
		Payload:         map[string]any{"x": 1},
		BufferIfOffline: true,
	})
	require.NoError(t, err)
	assert.False(t, result.Relayed)
	assert.Equal(t, []string{"ghost"}, result.TargetsFailed)
	assert.Equal(t, []string{"ghost"}, result.TargetsBuffered)
}

func TestGetRelayStatsOnEmptyStoreReturnsZeroValues(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.GetRelayStats(context.Background(), stats.Query{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.TotalRelayed)
}

func TestBufferSignalsListAndClear(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.RelaySignal(ctx, RelaySignalInput{
		SignalType:      0x50,
		TargetServers:   []string{"ghost"},
		Payload:         map[string]any{},
		BufferIfOffline: true,
	})
	require.NoError(t, err)

	listed, err := e.BufferSignals(ctx, BufferSignalsInput{Action: "list"})
	require.NoError(t, err)
	assert.Equal(t, 1, listed.AffectedCount)

	cleared, err := e.BufferSignals(ctx, BufferSignalsInput{Action: "clear", Target: "ghost"})
	require.NoError(t, err)
	assert.Equal(t, 1, cleared.AffectedCount)
}

func TestBufferSignalsRejectsUnknownAction(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.BufferSignals(context.Background(), BufferSignalsInput{Action: "bogus"})
	assert.Error(t, err)
}

func TestHealthReportsHealthyAfterConstruction(t *testing.T) {
	e := newTestEngine(t)
	status := e.Health()
	assert.True(t, status.IsHealthy())
}
