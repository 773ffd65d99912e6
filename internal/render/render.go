// Package render turns an effect state snapshot into one pixel frame. It
// holds no state of its own: identical (snapshot, pixel count) inputs always
// produce identical frames.
package render

import (
	"math"

	"github.com/rs/zerolog/log"

	"lumen-agent/internal/effect"
)

// Frame is one rendered pixel buffer, stamped by the streamer with the tick
// index it was rendered for. Immutable once produced.
type Frame struct {
	Tick   uint64
	Pixels []effect.Color
}

// strobeHz is the flash rate of the strobe modifier: lights blank during
// alternating half-periods.
const strobeHz = 4.0

// Render evaluates the snapshot's effect at its elapsed time for n pixels.
func Render(st effect.State, n int) Frame {
	pixels := make([]effect.Color, n)
	cfg := st.Config

	switch cfg.Kind {
	case effect.KindSolid:
		fill(pixels, cfg.Color)

	case effect.KindWipe:
		frac := st.Elapsed / cfg.Duration
		if frac > 1 {
			frac = 1
		}
		lit := int(math.Round(frac * float64(n)))
		for i := range pixels {
			if i < lit {
				pixels[i] = cfg.Color
			} else {
				pixels[i] = cfg.Base
			}
		}

	case effect.KindRainbow:
		for i := range pixels {
			hue := math.Mod(st.Elapsed*cfg.Speed+float64(i)/float64(n), 1.0)
			pixels[i] = effect.HSV(hue, 1, 1)
		}

	case effect.KindPulse:
		level := math.Abs(math.Sin(st.Elapsed * 2 * math.Pi / cfg.Period))
		fill(pixels, cfg.Color.Scale(level))

	case effect.KindKeyframes:
		fill(pixels, evalKeyframes(cfg.Frames, st.Elapsed, cfg.Loop))

	case effect.KindScript:
		out, err := cfg.Script.Frame(st.Elapsed, n)
		if err != nil {
			log.Warn().Err(err).Msg("script frame failed, rendering blank")
			break
		}
		copy(pixels, out)

	case effect.KindOff:
		// pixels stay black
	}

	if cfg.Strobe && int(math.Floor(st.Elapsed*strobeHz*2))%2 == 1 {
		for i := range pixels {
			pixels[i] = effect.Black
		}
	}

	return Frame{Pixels: pixels}
}

func fill(pixels []effect.Color, c effect.Color) {
	for i := range pixels {
		pixels[i] = c
	}
}

// evalKeyframes interpolates piecewise-linearly between ordered keyframes,
// clamping to the endpoint colors outside the covered time range. With loop
// set, time wraps at the last keyframe.
func evalKeyframes(frames []effect.Keyframe, t float64, loop bool) effect.Color {
	last := frames[len(frames)-1]
	if loop && last.Time > 0 {
		t = math.Mod(t, last.Time)
	}
	if t <= frames[0].Time {
		return frames[0].Color
	}
	if t >= last.Time {
		return last.Color
	}
	for i := 1; i < len(frames); i++ {
		if t <= frames[i].Time {
			a, b := frames[i-1], frames[i]
			span := b.Time - a.Time
			return effect.Lerp(a.Color, b.Color, (t-a.Time)/span)
		}
	}
	return last.Color
}
