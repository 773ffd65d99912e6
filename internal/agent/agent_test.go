package agent

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumen-agent/internal/config"
	"lumen-agent/internal/core"
	"lumen-agent/internal/session"
)

func testAgent(t *testing.T, sessCfg *session.Config) *Agent {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	cfg.Endpoints = []config.EndpointConfig{{ID: "test", Transport: "null", Pixels: 8}}
	cfg.Stream.Endpoint = "test"
	cfg.SchedulesFile = filepath.Join(t.TempDir(), "schedules.json")

	a, err := New(cfg, sessCfg)
	require.NoError(t, err)
	t.Cleanup(a.Shutdown)
	return a
}

func submit(t *testing.T, a *Agent, raw string, source core.Source) core.Outcome {
	t.Helper()
	cmd, err := core.ParseCommand([]byte(raw), source)
	require.NoError(t, err)
	cmd.Reply = make(chan core.Outcome, 1)
	a.handleCommand(cmd)

	select {
	case outcome := <-cmd.Reply:
		assert.Equal(t, cmd.ID, outcome.ID)
		return outcome
	default:
		t.Fatal("no outcome delivered")
		return core.Outcome{}
	}
}

func TestHandleCommand_SetEffect(t *testing.T) {
	a := testAgent(t, nil)
	sub := a.bus.Subscribe(core.EffectChangedEvent)

	outcome := submit(t, a, `{"type": "set_effect", "effect": "solid", "params": {"color": "#ff0000"}}`, core.SourceLocal)
	require.True(t, outcome.Applied())
	assert.Equal(t, uint64(1), outcome.Generation)

	snap := a.status.Clone()
	assert.Equal(t, "solid", snap.ActiveEffect)
	assert.Equal(t, uint64(1), snap.Generation)

	event := <-sub
	assert.Equal(t, "solid", event.Payload["effect"])
}

func TestHandleCommand_InvalidEffectLeavesStateUntouched(t *testing.T) {
	a := testAgent(t, nil)
	require.True(t, submit(t, a, `{"type": "set_effect", "effect": "rainbow"}`, core.SourceLocal).Applied())

	outcome := submit(t, a, `{"type": "set_effect", "effect": "solid", "params": {"color": "nope"}}`, core.SourceLocal)
	require.False(t, outcome.Applied())
	assert.ErrorIs(t, outcome.Err, core.ErrInvalidEffectConfig)
	assert.Equal(t, uint64(1), a.engine.Generation())
	assert.Equal(t, "rainbow", a.status.Clone().ActiveEffect)
}

// Commands are applied strictly in submission order, visible through strictly
// increasing generations.
func TestHandleCommand_OrderedGenerations(t *testing.T) {
	a := testAgent(t, nil)

	envelopes := []string{
		`{"type": "set_effect", "effect": "rainbow"}`,
		`{"type": "set_effect", "effect": "solid", "params": {"color": "#ffffff"}}`,
		`{"type": "stop"}`,
	}
	for i, raw := range envelopes {
		outcome := submit(t, a, raw, core.SourceLocal)
		require.True(t, outcome.Applied())
		assert.Equal(t, uint64(i+1), outcome.Generation)
	}
	assert.Equal(t, "off", a.status.Clone().ActiveEffect)
}

func TestHandleCommand_RemoteRejectedWithoutSession(t *testing.T) {
	a := testAgent(t, nil)
	outcome := submit(t, a, `{"type": "set_effect", "effect": "rainbow"}`, core.SourceRemote)
	require.False(t, outcome.Applied())
	assert.ErrorIs(t, outcome.Err, core.ErrUntrustedSource)
	assert.Equal(t, uint64(0), a.engine.Generation())
}

func TestHandleCommand_RemoteRejectedWhileDisconnected(t *testing.T) {
	a := testAgent(t, &session.Config{Host: "example.test", ClientID: "tester"})
	outcome := submit(t, a, `{"type": "stop"}`, core.SourceRemote)
	assert.ErrorIs(t, outcome.Err, core.ErrUntrustedSource)
}

func TestHandleCommand_LocalSourcesAlwaysTrusted(t *testing.T) {
	a := testAgent(t, nil)
	for _, source := range []core.Source{core.SourceLocal, core.SourceScheduler, core.SourceMQTT} {
		outcome := submit(t, a, `{"type": "stop"}`, source)
		assert.True(t, outcome.Applied(), "source %s", source)
	}
}

func TestHandleCommand_Brightness(t *testing.T) {
	a := testAgent(t, nil)
	sub := a.bus.Subscribe(core.BrightnessChangedEvent)

	outcome := submit(t, a, `{"type": "set_brightness", "brightness": 0.25}`, core.SourceLocal)
	require.True(t, outcome.Applied())
	assert.Equal(t, 0.25, a.streamer.Brightness())
	assert.Equal(t, 0.25, a.status.Clone().Brightness)

	event := <-sub
	assert.Equal(t, 0.25, event.Payload["brightness"])

	// out-of-range values are rejected, not clamped
	outcome = submit(t, a, `{"type": "set_brightness", "brightness": 1.5}`, core.SourceLocal)
	require.False(t, outcome.Applied())
	assert.Equal(t, 0.25, a.streamer.Brightness())
}

func TestHandleCommand_PingReportsGeneration(t *testing.T) {
	a := testAgent(t, nil)
	require.True(t, submit(t, a, `{"type": "set_effect", "effect": "rainbow"}`, core.SourceLocal).Applied())

	outcome := submit(t, a, `{"type": "ping"}`, core.SourceLocal)
	require.True(t, outcome.Applied())
	assert.Equal(t, uint64(1), outcome.Generation)
	assert.Equal(t, uint64(1), a.engine.Generation())
}

// End-to-end over the command channel: a running agent drains submissions in
// order while the streamer ticks against the null endpoint.
func TestAgent_RunDrainsSubmissions(t *testing.T) {
	a := testAgent(t, nil)
	done := make(chan error, 1)
	go func() { done <- a.Run() }()

	cmd, err := core.ParseCommand([]byte(`{"type": "set_effect", "effect": "pulse", "params": {"color": "#0000ff", "period": 2}}`), core.SourceLocal)
	require.NoError(t, err)
	cmd.Reply = make(chan core.Outcome, 1)
	a.Submit(cmd)

	select {
	case outcome := <-cmd.Reply:
		require.True(t, outcome.Applied())
		assert.Equal(t, uint64(1), outcome.Generation)
	case <-time.After(3 * time.Second):
		t.Fatal("running agent never applied the command")
	}

	a.Shutdown()
	require.NoError(t, <-done)
}
