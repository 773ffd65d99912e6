package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumen-agent/internal/core"
	"lumen-agent/internal/device"
	"lumen-agent/internal/effect"
	"lumen-agent/internal/render"
)

// fakeConn records frames and fails on demand.
type fakeConn struct {
	mu      sync.Mutex
	frames  [][]byte
	fail    int // fail the next N writes
	failErr error
	closed  bool
}

func (c *fakeConn) WriteFrame(rgb []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail > 0 {
		c.fail--
		return c.failErr
	}
	buf := make([]byte, len(rgb))
	copy(buf, rgb)
	c.frames = append(c.frames, buf)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeConn) setFail(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = n
	c.failErr = core.ErrTransmitFailure
}

// fakeOpener hands out queued conns or errors, one per Open call.
type fakeOpener struct {
	mu    sync.Mutex
	queue []func() (device.Conn, error)
	opens int
}

func (o *fakeOpener) push(f func() (device.Conn, error)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queue = append(o.queue, f)
}

func (o *fakeOpener) Open(id string) (device.Conn, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if len(o.queue) == 0 {
		return nil, core.ErrDeviceUnavailable
	}
	f := o.queue[0]
	o.queue = o.queue[1:]
	return f()
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

func testConfig() Config {
	return Config{
		EndpointID:       "strip",
		Pixels:           4,
		FPS:              200,
		FailureThreshold: 3,
		ReopenBackoffMin: time.Millisecond,
		ReopenBackoffMax: 4 * time.Millisecond,
		ReopenAttempts:   5,
		RateLimit:        1000,
		RateBurst:        100,
	}
}

func solidEngine(t *testing.T, color string) *effect.Engine {
	t.Helper()
	e := effect.NewEngine(t.TempDir())
	_, err := e.Commit("solid", map[string]interface{}{"color": color})
	require.NoError(t, err)
	return e
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStreamer_TransmitsFrames(t *testing.T) {
	conn := &fakeConn{}
	opener := &fakeOpener{}
	opener.push(func() (device.Conn, error) { return conn, nil })

	s := New(testConfig(), opener, solidEngine(t, "#102030"), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool { return conn.frameCount() >= 5 }, "no frames transmitted")
	cancel()
	require.NoError(t, <-done)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, []byte{0x10, 0x20, 0x30, 0x10, 0x20, 0x30, 0x10, 0x20, 0x30, 0x10, 0x20, 0x30}, conn.frames[0])
	assert.True(t, conn.closed)
}

func TestStreamer_BrightnessScalesOutput(t *testing.T) {
	conn := &fakeConn{}
	opener := &fakeOpener{}
	opener.push(func() (device.Conn, error) { return conn, nil })

	s := New(testConfig(), opener, solidEngine(t, "#643214"), nil)
	s.SetBrightness(0.5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool { return conn.frameCount() >= 1 }, "no frames transmitted")
	cancel()
	require.NoError(t, <-done)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, []byte{0x32, 0x19, 0x0a}, conn.frames[0][:3])
}

func TestStreamer_SetBrightnessClamps(t *testing.T) {
	s := New(testConfig(), &fakeOpener{}, solidEngine(t, "#ffffff"), nil)
	s.SetBrightness(-0.5)
	assert.Equal(t, 0.0, s.Brightness())
	s.SetBrightness(1.5)
	assert.Equal(t, 1.0, s.Brightness())
	s.SetBrightness(0.42)
	assert.Equal(t, 0.42, s.Brightness())
}

// Consecutive failures below the threshold must not trigger a reopen; once the
// threshold is hit the endpoint is reopened and streaming resumes with the
// failure counter reset.
func TestStreamer_ReopensAfterThreshold(t *testing.T) {
	first := &fakeConn{}
	first.setFail(1000) // keeps failing until replaced
	second := &fakeConn{}

	opener := &fakeOpener{}
	opener.push(func() (device.Conn, error) { return first, nil })
	opener.push(func() (device.Conn, error) { return second, nil })

	s := New(testConfig(), opener, solidEngine(t, "#ffffff"), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool { return second.frameCount() >= 3 }, "never resumed on the reopened endpoint")
	cancel()
	require.NoError(t, <-done)

	first.mu.Lock()
	assert.True(t, first.closed)
	first.mu.Unlock()
	assert.Equal(t, 2, opener.openCount())
}

func TestStreamer_FailuresBelowThresholdRecover(t *testing.T) {
	conn := &fakeConn{}
	conn.setFail(2) // below the threshold of 3

	opener := &fakeOpener{}
	opener.push(func() (device.Conn, error) { return conn, nil })

	s := New(testConfig(), opener, solidEngine(t, "#ffffff"), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool { return conn.frameCount() >= 3 }, "never recovered in place")
	cancel()
	require.NoError(t, <-done)

	// no reopen happened
	assert.Equal(t, 1, opener.openCount())
}

func TestStreamer_DeviceLostAfterReopenBudget(t *testing.T) {
	opener := &fakeOpener{} // empty queue: every Open is unavailable

	s := New(testConfig(), opener, solidEngine(t, "#ffffff"), nil)
	err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDeviceLost)
	// initial open plus the full reopen budget
	assert.Equal(t, 1+testConfig().ReopenAttempts, opener.openCount())
}

func TestStreamer_MissingEndpointIsFatalImmediately(t *testing.T) {
	opener := &fakeOpener{}
	opener.push(func() (device.Conn, error) { return nil, core.ErrDeviceNotFound })

	s := New(testConfig(), opener, solidEngine(t, "#ffffff"), nil)
	err := s.Run(context.Background())
	assert.ErrorIs(t, err, core.ErrDeviceNotFound)
	assert.Equal(t, 1, opener.openCount())
}

func TestStreamer_PublishesDeviceStatus(t *testing.T) {
	conn := &fakeConn{}
	opener := &fakeOpener{}
	opener.push(func() (device.Conn, error) { return conn, nil })

	bus := core.NewEventBus()
	sub := bus.Subscribe(core.DeviceStatusEvent)

	s := New(testConfig(), opener, solidEngine(t, "#ffffff"), bus)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case event := <-sub:
		assert.Equal(t, "strip", event.Payload["endpoint"])
		assert.Equal(t, true, event.Payload["online"])
	case <-time.After(2 * time.Second):
		t.Fatal("no device status event published")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestEncode_AppliesBrightness(t *testing.T) {
	f := render.Frame{Pixels: []effect.Color{{R: 100, G: 50, B: 10}, {R: 255, G: 255, B: 255}}}
	assert.Equal(t, []byte{100, 50, 10, 255, 255, 255}, encode(f, 1.0))
	assert.Equal(t, []byte{50, 25, 5, 128, 128, 128}, encode(f, 0.5))
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0}, encode(f, 0))
}
