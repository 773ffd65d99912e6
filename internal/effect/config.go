package effect

import (
	"fmt"
	"sort"

	"lumen-agent/internal/core"
)

// Kind names one of the supported effect kinds.
type Kind string

const (
	KindSolid     Kind = "solid"
	KindWipe      Kind = "wipe"
	KindRainbow   Kind = "rainbow"
	KindPulse     Kind = "pulse"
	KindKeyframes Kind = "keyframes"
	KindScript    Kind = "script"
	KindOff       Kind = "off"
)

// Keyframe is one (time, color) point of a keyframe sequence.
type Keyframe struct {
	Time  float64
	Color Color
}

// Config is a fully validated effect configuration. Fields are populated
// according to Kind; a Config is immutable once built.
type Config struct {
	Kind Kind

	Color    Color      // solid, wipe, pulse
	Base     Color      // wipe: color of not-yet-wiped pixels
	Duration float64    // wipe: seconds for a full sweep
	Period   float64    // pulse: seconds per cycle
	Speed    float64    // rainbow: hue cycles per second
	Frames   []Keyframe // keyframes
	Loop     bool       // keyframes
	Strobe   bool       // any kind: blank alternating half-periods

	ScriptFile string  // script: file name inside the scripts dir
	Script     *Script // script: compiled chunk, attached by the engine
}

type builder func(p *paramSet) (Config, error)

var schemas = map[Kind]builder{
	KindSolid: func(p *paramSet) (Config, error) {
		c, err := p.color("color", true, Black)
		if err != nil {
			return Config{}, err
		}
		return Config{Kind: KindSolid, Color: c}, nil
	},
	KindWipe: func(p *paramSet) (Config, error) {
		c, err := p.color("color", true, Black)
		if err != nil {
			return Config{}, err
		}
		base, err := p.color("base", false, Black)
		if err != nil {
			return Config{}, err
		}
		d, err := p.positiveNumber("duration", true, 0)
		if err != nil {
			return Config{}, err
		}
		return Config{Kind: KindWipe, Color: c, Base: base, Duration: d}, nil
	},
	KindRainbow: func(p *paramSet) (Config, error) {
		s, err := p.positiveNumber("speed", false, 1.0)
		if err != nil {
			return Config{}, err
		}
		return Config{Kind: KindRainbow, Speed: s}, nil
	},
	KindPulse: func(p *paramSet) (Config, error) {
		c, err := p.color("color", true, Black)
		if err != nil {
			return Config{}, err
		}
		period, err := p.positiveNumber("period", true, 0)
		if err != nil {
			return Config{}, err
		}
		return Config{Kind: KindPulse, Color: c, Period: period}, nil
	},
	KindKeyframes: func(p *paramSet) (Config, error) {
		frames, err := p.frames("frames")
		if err != nil {
			return Config{}, err
		}
		loop, err := p.boolean("loop", false)
		if err != nil {
			return Config{}, err
		}
		return Config{Kind: KindKeyframes, Frames: frames, Loop: loop}, nil
	},
	KindScript: func(p *paramSet) (Config, error) {
		file, err := p.str("file", true)
		if err != nil {
			return Config{}, err
		}
		return Config{Kind: KindScript, ScriptFile: file}, nil
	},
	KindOff: func(p *paramSet) (Config, error) {
		return Config{Kind: KindOff}, nil
	},
}

// Kinds returns the supported effect kind names, sorted.
func Kinds() []string {
	out := make([]string, 0, len(schemas))
	for k := range schemas {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}

// BuildConfig validates raw parameters against the schema of the named effect
// kind and returns a typed Config. Unknown, missing, or malformed parameters
// are rejected with core.ErrInvalidEffectConfig naming the parameter; nothing
// is silently coerced.
func BuildConfig(name string, params map[string]interface{}) (Config, error) {
	build, ok := schemas[Kind(name)]
	if !ok {
		return Config{}, fmt.Errorf("%w: unknown effect kind %q", core.ErrInvalidEffectConfig, name)
	}

	p := newParamSet(params)
	cfg, err := build(p)
	if err != nil {
		return Config{}, err
	}

	strobe, err := p.boolean("strobe", false)
	if err != nil {
		return Config{}, err
	}
	cfg.Strobe = strobe

	if extra := p.remaining(); extra != "" {
		return Config{}, fmt.Errorf("%w: unknown parameter %q for effect %q",
			core.ErrInvalidEffectConfig, extra, name)
	}
	return cfg, nil
}

// paramSet tracks which input parameters a schema consumed, so leftovers can
// be rejected.
type paramSet struct {
	raw  map[string]interface{}
	used map[string]bool
}

func newParamSet(raw map[string]interface{}) *paramSet {
	return &paramSet{raw: raw, used: make(map[string]bool, len(raw))}
}

func (p *paramSet) take(name string) (interface{}, bool) {
	v, ok := p.raw[name]
	if ok {
		p.used[name] = true
	}
	return v, ok
}

func (p *paramSet) remaining() string {
	keys := make([]string, 0)
	for k := range p.raw {
		if !p.used[k] {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	return keys[0]
}

func (p *paramSet) color(name string, required bool, def Color) (Color, error) {
	v, ok := p.take(name)
	if !ok {
		if required {
			return Color{}, fmt.Errorf("%w: %s: required parameter missing", core.ErrInvalidEffectConfig, name)
		}
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return Color{}, fmt.Errorf("%w: %s: expected a color string", core.ErrInvalidEffectConfig, name)
	}
	c, err := ParseColor(s)
	if err != nil {
		return Color{}, fmt.Errorf("%w: %s: %v", core.ErrInvalidEffectConfig, name, err)
	}
	return c, nil
}

func (p *paramSet) positiveNumber(name string, required bool, def float64) (float64, error) {
	v, ok := p.take(name)
	if !ok {
		if required {
			return 0, fmt.Errorf("%w: %s: required parameter missing", core.ErrInvalidEffectConfig, name)
		}
		return def, nil
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("%w: %s: expected a number", core.ErrInvalidEffectConfig, name)
	}
	if f <= 0 {
		return 0, fmt.Errorf("%w: %s: must be positive", core.ErrInvalidEffectConfig, name)
	}
	return f, nil
}

func (p *paramSet) boolean(name string, def bool) (bool, error) {
	v, ok := p.take(name)
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s: expected a boolean", core.ErrInvalidEffectConfig, name)
	}
	return b, nil
}

func (p *paramSet) str(name string, required bool) (string, error) {
	v, ok := p.take(name)
	if !ok {
		if required {
			return "", fmt.Errorf("%w: %s: required parameter missing", core.ErrInvalidEffectConfig, name)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s: expected a non-empty string", core.ErrInvalidEffectConfig, name)
	}
	return s, nil
}

func (p *paramSet) frames(name string) ([]Keyframe, error) {
	v, ok := p.take(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s: required parameter missing", core.ErrInvalidEffectConfig, name)
	}
	list, ok := v.([]interface{})
	if !ok || len(list) < 2 {
		return nil, fmt.Errorf("%w: %s: expected a list of at least two keyframes", core.ErrInvalidEffectConfig, name)
	}

	frames := make([]Keyframe, 0, len(list))
	prev := -1.0
	for i, entry := range list {
		m, ok := entry.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d]: expected an object with time and color", core.ErrInvalidEffectConfig, name, i)
		}
		t, ok := toFloat(m["time"])
		if !ok || t < 0 {
			return nil, fmt.Errorf("%w: %s[%d]: time must be a non-negative number", core.ErrInvalidEffectConfig, name, i)
		}
		if t <= prev {
			return nil, fmt.Errorf("%w: %s[%d]: keyframe times must be strictly increasing", core.ErrInvalidEffectConfig, name, i)
		}
		cs, ok := m["color"].(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d]: expected a color string", core.ErrInvalidEffectConfig, name, i)
		}
		c, err := ParseColor(cs)
		if err != nil {
			return nil, fmt.Errorf("%w: %s[%d]: %v", core.ErrInvalidEffectConfig, name, i, err)
		}
		for k := range m {
			if k != "time" && k != "color" {
				return nil, fmt.Errorf("%w: %s[%d]: unknown field %q", core.ErrInvalidEffectConfig, name, i, k)
			}
		}
		frames = append(frames, Keyframe{Time: t, Color: c})
		prev = t
	}
	return frames, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
