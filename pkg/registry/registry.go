// Package registry tracks the live connections of each identity.
//
// The registry only holds connection handles. Reading from and writing to a
// connection is the job of the transport that owns it; the registry is what
// the fan-out consults to find the connections of a target identity.
package registry

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
)

// ErrConnectionClosed is returned by Connection.Send once the connection can
// no longer accept messages.
var ErrConnectionClosed = errors.New("connection closed")

// Connection is a live bidirectional channel owned by one identity.
type Connection interface {
	// ID is the opaque handle of the connection, unique per process.
	ID() string

	// Identity is the identifier of the user owning the connection.
	Identity() string

	// Open reports whether the connection still accepts messages.
	Open() bool

	// Send queues msg for delivery without blocking. It returns
	// ErrConnectionClosed when the connection is closing or closed.
	Send(msg []byte) error
}

// connectionSet holds the connections of one identity.
//
// A set removed from the registry is marked dead so a concurrent Register
// that fetched it just before removal retries with a fresh set instead of
// adding to an orphan.
type connectionSet struct {
	mu    sync.Mutex
	conns []Connection
	dead  bool
}

// Registry maps identities to their live connections.
//
// Set mutations lock only the identity's set. The registry-wide lock guards
// the identity map and is held just long enough to find, create or drop a
// set, so connections of different identities never serialize on each
// other. Lock order is set, then registry.
//
// Example usage:
//
//	reg := registry.New()
//	reg.Register(conn)
//	defer reg.Deregister(conn)
//
//	for _, c := range reg.ConnectionsFor("u2") {
//	    _ = c.Send(msg)
//	}
type Registry struct {
	mu    sync.RWMutex
	sets  map[string]*connectionSet
	count atomic.Int64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{sets: make(map[string]*connectionSet)}
}

// Register adds conn to the set of conn.Identity(). Registering the same
// handle twice keeps a single entry.
func (r *Registry) Register(conn Connection) {
	identity := conn.Identity()

	for {
		set := r.getOrCreate(identity)

		set.mu.Lock()
		if set.dead {
			set.mu.Unlock()
			continue
		}

		if !slices.ContainsFunc(set.conns, sameID(conn)) {
			set.conns = append(set.conns, conn)
			r.count.Add(1)
		}
		set.mu.Unlock()
		return
	}
}

// Deregister removes conn from its identity's set and drops the set when it
// becomes empty. Returns false if conn was not registered.
func (r *Registry) Deregister(conn Connection) bool {
	identity := conn.Identity()

	r.mu.RLock()
	set, ok := r.sets[identity]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	set.mu.Lock()
	defer set.mu.Unlock()

	before := len(set.conns)
	set.conns = slices.DeleteFunc(set.conns, sameID(conn))
	removed := len(set.conns) != before
	if removed {
		r.count.Add(-1)
	}

	if len(set.conns) == 0 && !set.dead {
		set.dead = true
		r.mu.Lock()
		if r.sets[identity] == set {
			delete(r.sets, identity)
		}
		r.mu.Unlock()
	}

	return removed
}

// ConnectionsFor returns a snapshot of the connections of identity in
// registration order. An unknown identity yields an empty slice.
func (r *Registry) ConnectionsFor(identity string) []Connection {
	r.mu.RLock()
	set, ok := r.sets[identity]
	r.mu.RUnlock()
	if !ok {
		return []Connection{}
	}

	set.mu.Lock()
	defer set.mu.Unlock()
	return slices.Clone(set.conns)
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	return int(r.count.Load())
}

// CountIdentities returns the number of identities with at least one
// connection.
func (r *Registry) CountIdentities() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sets)
}

// RemoveAll empties the registry and returns every connection it held, so
// the caller can close them on shutdown.
func (r *Registry) RemoveAll() []Connection {
	r.mu.Lock()
	sets := r.sets
	r.sets = make(map[string]*connectionSet)
	r.mu.Unlock()

	var all []Connection
	for _, set := range sets {
		set.mu.Lock()
		set.dead = true
		all = append(all, set.conns...)
		r.count.Add(-int64(len(set.conns)))
		set.conns = nil
		set.mu.Unlock()
	}
	return all
}

func (r *Registry) getOrCreate(identity string) *connectionSet {
	r.mu.RLock()
	set, ok := r.sets[identity]
	r.mu.RUnlock()
	if ok {
		return set
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if set, ok := r.sets[identity]; ok {
		return set
	}
	set = &connectionSet{}
	r.sets[identity] = set
	return set
}

func sameID(conn Connection) func(Connection) bool {
	id := conn.ID()
	return func(c Connection) bool { return c.ID() == id }
}
