// Scripted effects let a Lua chunk compute frames the builtin kinds cannot
// express. A script lives in the configured scripts directory and must define
// a global function frame(t, n) returning a table of n {r, g, b} tables with
// channel values 0..255.
package effect

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"lumen-agent/internal/core"

	lua "github.com/yuin/gopher-lua"
)

// Script is a compiled Lua effect. The Lua state is created when the effect
// is committed and closed when it is replaced; calls are serialized by a
// mutex because commit and render run on different goroutines.
type Script struct {
	name string

	mu     sync.Mutex
	state  *lua.LState
	fn     lua.LValue
	closed bool
}

// LoadScript loads and runs a script file so its frame function is defined.
// Compile and runtime errors at load time are validation failures.
func LoadScript(dir, name string) (*Script, error) {
	clean, err := sanitizeScriptName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: file: %v", core.ErrInvalidEffectConfig, err)
	}

	L := lua.NewState()
	if err := L.DoFile(filepath.Join(dir, clean)); err != nil {
		L.Close()
		return nil, fmt.Errorf("%w: file: %v", core.ErrInvalidEffectConfig, err)
	}

	fn := L.GetGlobal("frame")
	if fn.Type() != lua.LTFunction {
		L.Close()
		return nil, fmt.Errorf("%w: file: script %q must define frame(t, n)", core.ErrInvalidEffectConfig, clean)
	}

	return &Script{name: clean, state: L, fn: fn}, nil
}

// Name returns the script file name.
func (s *Script) Name() string { return s.name }

// Frame calls the script's frame(t, n) function and converts the result into
// n pixel colors. Entries the script leaves out come back black.
func (s *Script) Frame(t float64, n int) ([]Color, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("script %q: already closed", s.name)
	}

	err := s.state.CallByParam(
		lua.P{Fn: s.fn, NRet: 1, Protect: true},
		lua.LNumber(t), lua.LNumber(n),
	)
	if err != nil {
		return nil, fmt.Errorf("script %q: %w", s.name, err)
	}

	ret := s.state.Get(-1)
	s.state.Pop(1)

	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("script %q: frame() must return a table", s.name)
	}

	pixels := make([]Color, n)
	for i := 0; i < n; i++ {
		entry, ok := tbl.RawGetInt(i + 1).(*lua.LTable)
		if !ok {
			continue
		}
		pixels[i] = Color{
			R: luaChannel(entry.RawGetInt(1)),
			G: luaChannel(entry.RawGetInt(2)),
			B: luaChannel(entry.RawGetInt(3)),
		}
	}
	return pixels, nil
}

// Close releases the Lua state. Safe to call once the script is replaced;
// an in-flight Frame call finishes first.
func (s *Script) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.state.Close()
}

func luaChannel(v lua.LValue) uint8 {
	n, ok := v.(lua.LNumber)
	if !ok {
		return 0
	}
	f := float64(n)
	if f <= 0 {
		return 0
	}
	if f >= 255 {
		return 255
	}
	return uint8(f + 0.5)
}

// sanitizeScriptName rejects directory traversal and enforces the .lua extension.
func sanitizeScriptName(name string) (string, error) {
	if !strings.HasSuffix(name, ".lua") {
		return "", fmt.Errorf("script name must end with .lua")
	}
	clean := filepath.Base(name)
	if clean == "" || clean == ".lua" || strings.Contains(clean, "..") {
		return "", fmt.Errorf("invalid script name %q", name)
	}
	return clean, nil
}
