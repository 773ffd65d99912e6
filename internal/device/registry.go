// Package device enumerates the LED output endpoints the agent may stream to
// and opens their transports. It does no retrying of its own; reopen policy
// belongs to the caller.
package device

import (
	"fmt"
	"sync"
	"time"

	"lumen-agent/internal/core"
)

// Endpoint describes one addressable LED output: a contiguous range of
// pixels reachable over a transport.
type Endpoint struct {
	ID        string
	Transport string // "opc" or "null"
	Addr      string // host:port for the opc transport
	Pixels    int
	Channel   uint8 // opc channel, 0 = broadcast
}

// Conn is an open endpoint transport. WriteFrame takes a raw RGB buffer of
// length 3*Pixels.
type Conn interface {
	WriteFrame(rgb []byte) error
	Close() error
}

// Registry holds the configured endpoints and tracks which are open
// exclusively.
type Registry struct {
	mu          sync.Mutex
	endpoints   map[string]Endpoint
	order       []string
	open        map[string]bool
	dialTimeout time.Duration
}

// NewRegistry validates the endpoint list and returns a registry over it.
func NewRegistry(endpoints []Endpoint, dialTimeout time.Duration) (*Registry, error) {
	r := &Registry{
		endpoints:   make(map[string]Endpoint, len(endpoints)),
		open:        make(map[string]bool),
		dialTimeout: dialTimeout,
	}
	for _, ep := range endpoints {
		if ep.ID == "" {
			return nil, fmt.Errorf("device: endpoint with empty id")
		}
		if _, dup := r.endpoints[ep.ID]; dup {
			return nil, fmt.Errorf("device: duplicate endpoint id %q", ep.ID)
		}
		if ep.Pixels <= 0 {
			return nil, fmt.Errorf("device: endpoint %q: pixel count must be positive", ep.ID)
		}
		switch ep.Transport {
		case "opc":
			if ep.Addr == "" {
				return nil, fmt.Errorf("device: endpoint %q: opc transport requires an address", ep.ID)
			}
		case "null":
		default:
			return nil, fmt.Errorf("device: endpoint %q: unknown transport %q", ep.ID, ep.Transport)
		}
		r.endpoints[ep.ID] = ep
		r.order = append(r.order, ep.ID)
	}
	return r, nil
}

// List returns the configured endpoints in configuration order.
func (r *Registry) List() []Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Endpoint, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.endpoints[id])
	}
	return out
}

// Lookup returns the endpoint with the given id.
func (r *Registry) Lookup(id string) (Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.endpoints[id]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: %q", core.ErrDeviceNotFound, id)
	}
	return ep, nil
}

// Open opens the endpoint's transport for exclusive use. The returned Conn
// releases the endpoint on Close.
func (r *Registry) Open(id string) (Conn, error) {
	r.mu.Lock()
	ep, ok := r.endpoints[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", core.ErrDeviceNotFound, id)
	}
	if r.open[id] {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", core.ErrDeviceBusy, id)
	}
	r.open[id] = true
	r.mu.Unlock()

	var (
		conn Conn
		err  error
	)
	switch ep.Transport {
	case "opc":
		conn, err = dialOPC(ep.Addr, ep.Channel, r.dialTimeout)
	case "null":
		conn = &nullConn{}
	}
	if err != nil {
		r.release(id)
		return nil, fmt.Errorf("%w: %q: %v", core.ErrDeviceUnavailable, id, err)
	}

	return &trackedConn{Conn: conn, release: func() { r.release(id) }}, nil
}

func (r *Registry) release(id string) {
	r.mu.Lock()
	delete(r.open, id)
	r.mu.Unlock()
}

// trackedConn frees the endpoint's exclusive claim when closed.
type trackedConn struct {
	Conn
	release func()
	once    sync.Once
}

func (t *trackedConn) Close() error {
	err := t.Conn.Close()
	t.once.Do(t.release)
	return err
}
