// Package presence maps user ids to the one live connection each user is
// reachable on.
package presence

import (
	"sync"
)

// Conn is a live connection as seen by the registry and the dispatcher.
// Implementations must be pointer types: the registry compares connections
// by identity.
type Conn interface {
	// ID is unique per connection within this process.
	ID() string
	// IsOpen reports whether the transport still accepts writes.
	IsOpen() bool
	// Send hands data to the connection's writer without blocking.
	// It reports false when the data was not accepted.
	Send(data []byte) bool
}

// Entry is one user id bound to one connection.
type Entry struct {
	UserID string
	Conn   Conn
}

// Registry holds at most one Entry per user id. It is safe for concurrent use;
// no method performs I/O while holding the lock.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]Conn),
	}
}

// Bind points userID at c, replacing any earlier binding. The replaced
// connection is returned (nil if there was none) and is left open.
func (r *Registry) Bind(userID string, c Conn) (prev Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev = r.byUser[userID]
	r.byUser[userID] = c
	return prev
}

// Unbind removes userID. Removing an absent user is a no-op.
func (r *Registry) Unbind(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byUser[userID]; !ok {
		return false
	}
	delete(r.byUser, userID)
	return true
}

// UnbindIfCurrent removes userID only while it is still bound to c.
// A close handler for an old connection must use this instead of Unbind so it
// cannot evict a newer connection that rebound the same user id.
func (r *Registry) UnbindIfCurrent(userID string, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byUser[userID]
	if !ok || cur != c {
		return false
	}
	delete(r.byUser, userID)
	return true
}

func (r *Registry) Resolve(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUser[userID]
	return c, ok
}

// Snapshot copies the current entries. Order is unspecified.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.byUser))
	for uid, c := range r.byUser {
		out = append(out, Entry{UserID: uid, Conn: c})
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
