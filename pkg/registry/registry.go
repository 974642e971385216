// Package registry tracks the connections that are currently open.
//
// Per-connection decode state lives in the active backend; the registry
// only records which connections exist, when they were accepted and how
// many requests each has completed. It is the one piece of connection state
// shared across connection goroutines.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittocgi/pkg/cgi"
)

// ErrDuplicateConnection is returned by Add when the id is already tracked.
var ErrDuplicateConnection = errors.New("registry: connection already registered")

// ConnInfo describes one open connection.
type ConnInfo struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	AcceptedAt time.Time `json:"accepted_at"`
	Requests   uint64    `json:"requests"`
}

type entry struct {
	conn       cgi.Conn
	acceptedAt time.Time
	requests   atomic.Uint64
}

// Registry is safe for concurrent use.
type Registry struct {
	conns sync.Map // connection id -> *entry
	count atomic.Int32
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Add starts tracking conn.
func (r *Registry) Add(conn cgi.Conn) error {
	if conn == nil {
		return fmt.Errorf("cannot register nil connection")
	}
	e := &entry{conn: conn, acceptedAt: time.Now()}
	if _, loaded := r.conns.LoadOrStore(conn.ID(), e); loaded {
		return fmt.Errorf("%w: %s", ErrDuplicateConnection, conn.ID())
	}
	r.count.Add(1)
	return nil
}

// Remove stops tracking the connection. It reports whether it was tracked.
func (r *Registry) Remove(id string) bool {
	if _, loaded := r.conns.LoadAndDelete(id); loaded {
		r.count.Add(-1)
		return true
	}
	return false
}

// Conn returns the tracked connection with the given id.
func (r *Registry) Conn(id string) (cgi.Conn, bool) {
	v, ok := r.conns.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*entry).conn, true
}

// Get returns a description of the connection.
func (r *Registry) Get(id string) (ConnInfo, bool) {
	v, ok := r.conns.Load(id)
	if !ok {
		return ConnInfo{}, false
	}
	return v.(*entry).info(), true
}

// RequestCompleted bumps the request counter of a connection.
func (r *Registry) RequestCompleted(id string) {
	if v, ok := r.conns.Load(id); ok {
		v.(*entry).requests.Add(1)
	}
}

// Count returns the number of tracked connections.
func (r *Registry) Count() int {
	return int(r.count.Load())
}

// Snapshot returns every tracked connection, oldest first.
func (r *Registry) Snapshot() []ConnInfo {
	out := make([]ConnInfo, 0, r.Count())
	r.conns.Range(func(_, v any) bool {
		out = append(out, v.(*entry).info())
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].AcceptedAt.Equal(out[j].AcceptedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].AcceptedAt.Before(out[j].AcceptedAt)
	})
	return out
}

func (e *entry) info() ConnInfo {
	return ConnInfo{
		ID:         e.conn.ID(),
		RemoteAddr: e.conn.RemoteAddr(),
		AcceptedAt: e.acceptedAt,
		Requests:   e.requests.Load(),
	}
}
