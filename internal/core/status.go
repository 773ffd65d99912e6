package core

import "sync"

// Status is a read-mostly mirror of agent state kept for observers that need
// a point-in-time view on demand (the MQTT bridge republishes it whenever the
// broker reconnects). The authoritative effect state lives in the engine;
// this is only a reflection maintained by the orchestrator.
type Status struct {
	mu           sync.RWMutex
	ActiveEffect string
	Generation   uint64
	Brightness   float64
	Session      string
	DeviceOnline bool
}

// NewStatus creates a Status with full brightness and no active effect.
func NewStatus() *Status {
	return &Status{Brightness: 1.0}
}

// Clone returns a snapshot of the current status for safe reading.
func (s *Status) Clone() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		ActiveEffect: s.ActiveEffect,
		Generation:   s.Generation,
		Brightness:   s.Brightness,
		Session:      s.Session,
		DeviceOnline: s.DeviceOnline,
	}
}

// SetEffect records the active effect name and its generation.
func (s *Status) SetEffect(name string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ActiveEffect = name
	s.Generation = gen
}

// SetBrightness records the streamer brightness scalar.
func (s *Status) SetBrightness(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Brightness = v
}

// SetSession records the session lifecycle state name.
func (s *Status) SetSession(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Session = state
}

// SetDeviceOnline records whether the streaming endpoint is reachable.
func (s *Status) SetDeviceOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeviceOnline = online
}
