// Package registry maps session identifiers to their live connection.
package registry

import (
	"sync"
)

// Conn is a live connection that accepts outbound frames. Send must be
// safe to call from any goroutine.
type Conn interface {
	Send(frame any) error
}

// Registry holds at most one connection per session.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Add registers conn for sessionID. An existing entry is replaced; the
// previous connection is left open.
func (r *Registry) Add(sessionID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[sessionID] = conn
}

// Remove deletes the entry for sessionID if it still points at conn.
// It reports whether an entry was removed.
func (r *Registry) Remove(sessionID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[sessionID]; ok && cur == conn {
		delete(r.conns, sessionID)
		return true
	}
	return false
}

// Lookup returns the connection registered for sessionID.
func (r *Registry) Lookup(sessionID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[sessionID]
	return conn, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Sessions returns the identifiers with a live connection.
func (r *Registry) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}
