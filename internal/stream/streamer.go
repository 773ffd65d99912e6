// Package stream owns the tick clock: at a fixed rate it advances the effect
// engine, renders a frame, applies the brightness scalar, and transmits to
// the open device endpoint. Transmit failures are retried tick by tick and
// escalate to an endpoint reopen with exponential backoff.
package stream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"lumen-agent/internal/core"
	"lumen-agent/internal/device"
	"lumen-agent/internal/effect"
	"lumen-agent/internal/render"
)

// Opener abstracts the device registry for the streamer.
type Opener interface {
	Open(id string) (device.Conn, error)
}

// Config tunes the streaming loop.
type Config struct {
	EndpointID       string
	Pixels           int
	FPS              int
	FailureThreshold int           // consecutive transmit failures before reopening
	ReopenBackoffMin time.Duration // first reopen delay
	ReopenBackoffMax time.Duration // backoff ceiling
	ReopenAttempts   int           // reopen budget before the device counts as lost
	RateLimit        float64       // transmit token rate, frames per second
	RateBurst        int
}

// Streamer drives the render/transmit loop for one endpoint.
type Streamer struct {
	cfg     Config
	opener  Opener
	engine  *effect.Engine
	bus     *core.EventBus
	limiter *rate.Limiter

	brightness atomic.Uint64 // float64 bits
	tick       uint64
}

// New creates a Streamer at full brightness.
func New(cfg Config, opener Opener, engine *effect.Engine, bus *core.EventBus) *Streamer {
	s := &Streamer{
		cfg:     cfg,
		opener:  opener,
		engine:  engine,
		bus:     bus,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
	s.brightness.Store(math.Float64bits(1.0))
	return s
}

// SetBrightness sets the scalar applied to every rendered frame just before
// transmission. Clamped to [0, 1].
func (s *Streamer) SetBrightness(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	s.brightness.Store(math.Float64bits(v))
}

// Brightness returns the current brightness scalar.
func (s *Streamer) Brightness() float64 {
	return math.Float64frombits(s.brightness.Load())
}

// Run streams until the context is cancelled (returns nil) or the device is
// lost for good (returns an error wrapping core.ErrDeviceLost). A missing or
// already-claimed endpoint at startup is fatal immediately.
func (s *Streamer) Run(ctx context.Context) error {
	conn, err := s.opener.Open(s.cfg.EndpointID)
	if errors.Is(err, core.ErrDeviceUnavailable) {
		log.Warn().Err(err).Msg("endpoint unreachable at startup, retrying")
		conn, err = s.reopen(ctx)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	s.setDeviceOnline(true)
	log.Info().Str("endpoint", s.cfg.EndpointID).Int("fps", s.cfg.FPS).Msg("streaming started")

	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.FPS))
	defer ticker.Stop()

	last := time.Now()
	failures := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		now := time.Now()
		delta := now.Sub(last).Seconds()
		last = now

		st := s.engine.Advance(delta)
		s.tick++
		frame := render.Render(st, s.cfg.Pixels)
		frame.Tick = s.tick
		buf := encode(frame, s.Brightness())

		if err := s.limiter.Wait(ctx); err != nil {
			return nil
		}

		if err := conn.WriteFrame(buf); err != nil {
			failures++
			log.Warn().Err(err).Int("consecutive", failures).Msg("frame transmit failed")
			if failures < s.cfg.FailureThreshold {
				continue
			}

			s.setDeviceOnline(false)
			conn.Close()
			conn, err = s.reopen(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			failures = 0
			// Fresh elapsed-time baseline; no catching up on missed frames.
			last = time.Now()
			s.setDeviceOnline(true)
			log.Info().Str("endpoint", s.cfg.EndpointID).Msg("endpoint reopened, streaming resumed")
		} else {
			failures = 0
		}
	}
}

// reopen retries Open with exponential backoff up to the configured budget.
func (s *Streamer) reopen(ctx context.Context) (device.Conn, error) {
	backoff := s.cfg.ReopenBackoffMin
	for attempt := 1; attempt <= s.cfg.ReopenAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		conn, err := s.opener.Open(s.cfg.EndpointID)
		if err == nil {
			return conn, nil
		}
		if errors.Is(err, core.ErrDeviceNotFound) {
			return nil, fmt.Errorf("%w: endpoint %q disappeared: %v", core.ErrDeviceLost, s.cfg.EndpointID, err)
		}
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("endpoint reopen failed")

		backoff *= 2
		if backoff > s.cfg.ReopenBackoffMax {
			backoff = s.cfg.ReopenBackoffMax
		}
	}
	return nil, fmt.Errorf("%w: endpoint %q: reopen budget of %d attempts exhausted",
		core.ErrDeviceLost, s.cfg.EndpointID, s.cfg.ReopenAttempts)
}

func (s *Streamer) setDeviceOnline(online bool) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(core.Event{
		Type:    core.DeviceStatusEvent,
		Payload: map[string]interface{}{"endpoint": s.cfg.EndpointID, "online": online},
	})
}

// encode flattens a frame into the RGB wire buffer, applying brightness.
func encode(f render.Frame, brightness float64) []byte {
	rgb := make([]byte, 3*len(f.Pixels))
	for i, p := range f.Pixels {
		p = p.Scale(brightness)
		rgb[i*3+0] = p.R
		rgb[i*3+1] = p.G
		rgb[i*3+2] = p.B
	}
	return rgb
}
