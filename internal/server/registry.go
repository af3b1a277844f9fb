package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/tasmi/internal/observe"
)

// Conn is a registered connection: its recitation session and a way to
// close the transport.
type Conn interface {
	Teardown() error
}

// ConnInfo describes one registered connection.
type ConnInfo struct {
	ID        string
	Remote    string
	StartedAt time.Time
}

type registered struct {
	info   ConnInfo
	conn   Conn
	closer func()
}

// Registry tracks live connections by ID. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	conns   map[string]registered
	metrics *observe.Metrics
	closed  bool
}

// NewRegistry returns an empty registry. m may be nil.
func NewRegistry(m *observe.Metrics) *Registry {
	return &Registry{conns: make(map[string]registered), metrics: m}
}

// ErrRegistryClosed is returned by Add after CloseAll.
var ErrRegistryClosed = errors.New("server: registry closed")

// Add registers c under info.ID. closer, if non-nil, is called by CloseAll
// after the session is torn down.
func (r *Registry) Add(info ConnInfo, c Conn, closer func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	r.conns[info.ID] = registered{info: info, conn: c, closer: closer}
	if r.metrics != nil {
		r.metrics.ActiveSessions.Add(context.Background(), 1)
	}
	return nil
}

// Remove unregisters id. Unknown IDs are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return
	}
	delete(r.conns, id)
	if r.metrics != nil {
		r.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// List returns a snapshot of the registered connections.
func (r *Registry) List() []ConnInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnInfo, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c.info)
	}
	return out
}

// CloseAll tears down every session, closes its transport and refuses new
// registrations.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	r.closed = true
	conns := r.conns
	r.conns = make(map[string]registered)
	r.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.conn.Teardown(); err != nil {
			errs = append(errs, err)
		}
		if c.closer != nil {
			c.closer()
		}
		if r.metrics != nil {
			r.metrics.ActiveSessions.Add(context.Background(), -1)
		}
	}
	return errors.Join(errs...)
}
