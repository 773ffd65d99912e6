package effect

import (
	"sync"
	"sync/atomic"
)

// State is the live instance of a committed effect: its config, the
// elapsed-time accumulator, and the generation counter that identifies it.
// States are replaced wholesale on commit; a reader never observes a
// half-updated one.
type State struct {
	Gen     uint64
	Config  Config
	Elapsed float64
}

// Engine owns exactly one active State and hands consistent snapshots to the
// render loop without blocking it. Writers (Commit/Stop) are serialized by a
// mutex; readers go through an atomic pointer.
type Engine struct {
	scriptsDir string

	mu     sync.Mutex // serializes writers and guards gen
	gen    uint64
	active atomic.Pointer[State]
}

// NewEngine returns an Engine holding the blank effect at generation zero.
func NewEngine(scriptsDir string) *Engine {
	e := &Engine{scriptsDir: scriptsDir}
	e.active.Store(&State{Config: Config{Kind: KindOff}})
	return e
}

// Commit validates params against the schema of the named effect kind and,
// on success, atomically replaces the active state with elapsed time reset
// and generation incremented. On failure the previous state is untouched and
// the error wraps core.ErrInvalidEffectConfig with the offending parameter.
func (e *Engine) Commit(name string, params map[string]interface{}) (uint64, error) {
	cfg, err := BuildConfig(name, params)
	if err != nil {
		return 0, err
	}
	if cfg.Kind == KindScript {
		script, err := LoadScript(e.scriptsDir, cfg.ScriptFile)
		if err != nil {
			return 0, err
		}
		cfg.Script = script
	}
	return e.swap(cfg), nil
}

// Stop replaces the active state with the blank effect (all pixels off),
// with the same atomicity guarantee as Commit.
func (e *Engine) Stop() uint64 {
	return e.swap(Config{Kind: KindOff})
}

func (e *Engine) swap(cfg Config) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.active.Load()
	e.gen++
	e.active.Store(&State{Gen: e.gen, Config: cfg})

	if old != nil && old.Config.Script != nil {
		old.Config.Script.Close()
	}
	return e.gen
}

// Advance adds delta (seconds) to the elapsed-time accumulator of the active
// state and returns an immutable snapshot for rendering. Safe to call
// concurrently with Commit/Stop: if the state is swapped mid-advance the
// accumulation restarts on the fresh state, so a snapshot always reflects
// exactly one committed config.
func (e *Engine) Advance(delta float64) State {
	for {
		cur := e.active.Load()
		next := *cur
		next.Elapsed += delta
		if e.active.CompareAndSwap(cur, &next) {
			return next
		}
	}
}

// Generation returns the generation of the currently active state, for
// staleness checks by the dispatcher.
func (e *Engine) Generation() uint64 {
	return e.active.Load().Gen
}
