package realtime

import (
	"context"
	"sync"
)

// Registry tracks the open sessions of one gate. Only sessions that
// passed re-verification are ever registered; denied connections close
// before registration.
//
// Registry is safe for concurrent use by multiple goroutines.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers an open session under its ID.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
}

// Remove deregisters the session with the given ID. Removing an unknown
// ID is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get returns the session with the given ID, or nil and false.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Broadcast sends the envelope to every registered session and returns
// how many deliveries succeeded. Failed deliveries are skipped, not
// retried; a session whose connection is gone will be removed by its
// own read loop.
func (r *Registry) Broadcast(ctx context.Context, env Envelope) int {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, s := range snapshot {
		if err := s.Send(ctx, env); err == nil {
			delivered++
		}
	}
	return delivered
}
