package business

import (
	"context"
	"sync"
)

// Observer receives registry mutation callbacks. Callbacks run synchronously
// after the mutation completes, outside the registry lock, on the goroutine
// that performed the mutation.
type Observer interface {
	// ConnectionBound fires after a connection becomes the active binding
	// for a profile.
	ConnectionBound(ctx context.Context, connectionID, profileID string)
	// ConnectionUnbound fires after a profile's active binding is removed.
	// It does not fire for stale connections displaced by a newer bind.
	ConnectionUnbound(ctx context.Context, connectionID, profileID string)
}

// Registry maintains the bidirectional mapping between live connection IDs
// and the profiles authenticated on them. Each profile has at most one
// active connection and each connection serves at most one profile; binding
// a profile that is already bound elsewhere displaces the older binding.
type Registry struct {
	mu           sync.RWMutex
	byConnection map[string]string
	byProfile    map[string]string
	observers    []Observer
}

func NewRegistry() *Registry {
	return &Registry{
		byConnection: make(map[string]string),
		byProfile:    make(map[string]string),
	}
}

// Subscribe registers an observer for bind and unbind events. Not safe to
// call concurrently with Bind or Unbind; wire observers up before serving.
func (r *Registry) Subscribe(observer Observer) {
	r.observers = append(r.observers, observer)
}

// Bind associates a connection with a profile, displacing any previous
// binding either side had. Rebinding the same pair is a no-op.
func (r *Registry) Bind(ctx context.Context, connectionID, profileID string) {
	r.mu.Lock()
	if prev, ok := r.byProfile[profileID]; ok && prev == connectionID {
		r.mu.Unlock()
		return
	}

	if prevProfile, ok := r.byConnection[connectionID]; ok {
		if r.byProfile[prevProfile] == connectionID {
			delete(r.byProfile, prevProfile)
		}
	}
	if prevConn, ok := r.byProfile[profileID]; ok {
		delete(r.byConnection, prevConn)
	}

	r.byConnection[connectionID] = profileID
	r.byProfile[profileID] = connectionID
	r.mu.Unlock()

	for _, observer := range r.observers {
		observer.ConnectionBound(ctx, connectionID, profileID)
	}
}

// Unbind removes a connection's binding. The unbound callback only fires if
// the connection was still the profile's active one, so a stale connection
// closing late does not mask a newer session.
func (r *Registry) Unbind(ctx context.Context, connectionID string) {
	r.mu.Lock()
	profileID, ok := r.byConnection[connectionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byConnection, connectionID)

	wasActive := r.byProfile[profileID] == connectionID
	if wasActive {
		delete(r.byProfile, profileID)
	}
	r.mu.Unlock()

	if !wasActive {
		return
	}
	for _, observer := range r.observers {
		observer.ConnectionUnbound(ctx, connectionID, profileID)
	}
}

// UserOf returns the profile bound to a connection.
func (r *Registry) UserOf(connectionID string) (string, bool) {
	r.mu.RLock()
	profileID, ok := r.byConnection[connectionID]
	r.mu.RUnlock()
	return profileID, ok
}

// ConnectionOf returns the active connection for a profile.
func (r *Registry) ConnectionOf(profileID string) (string, bool) {
	r.mu.RLock()
	connectionID, ok := r.byProfile[profileID]
	r.mu.RUnlock()
	return connectionID, ok
}

// Snapshot returns a copy of the profile to connection mapping.
func (r *Registry) Snapshot() map[string]string {
	r.mu.RLock()
	snapshot := make(map[string]string, len(r.byProfile))
	for profileID, connectionID := range r.byProfile {
		snapshot[profileID] = connectionID
	}
	r.mu.RUnlock()
	return snapshot
}

// Len returns the number of active bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	n := len(r.byProfile)
	r.mu.RUnlock()
	return n
}
