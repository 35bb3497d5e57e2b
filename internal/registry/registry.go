// Package registry maintains the bidirectional mapping between live
// connections and optional external identities. Bindings are pure
// bookkeeping: last write wins, no conflict detection, and two live
// connections may bind the same identity.
package registry

import "sync"

// Registry is a goroutine-safe two-way map of connection id <-> identity id.
type Registry struct {
	mu         sync.RWMutex
	byConn     map[string]string // connID -> identityID
	byIdentity map[string]string // identityID -> connID
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byConn:     make(map[string]string),
		byIdentity: make(map[string]string),
	}
}

// Bind associates the connection with the identity, overwriting any prior
// binding for either key. Stale reverse entries left by the overwrite are
// removed so both directions stay consistent.
func (r *Registry) Bind(connID, identityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byConn[connID]; ok && old != identityID {
		if r.byIdentity[old] == connID {
			delete(r.byIdentity, old)
		}
	}
	if old, ok := r.byIdentity[identityID]; ok && old != connID {
		if r.byConn[old] == identityID {
			delete(r.byConn, old)
		}
	}

	r.byConn[connID] = identityID
	r.byIdentity[identityID] = connID
}

// Unbind removes the connection's binding in both directions. Unknown
// connections are a no-op.
func (r *Registry) Unbind(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identityID, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)
	if r.byIdentity[identityID] == connID {
		delete(r.byIdentity, identityID)
	}
}

// IdentityFor returns the identity bound to the connection, or "".
func (r *Registry) IdentityFor(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byConn[connID]
}

// ConnFor returns the connection currently bound to the identity, or "".
func (r *Registry) ConnFor(identityID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byIdentity[identityID]
}
