package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/remote-agent-terminal/gateway/internal/model"
)

// Registry is the process-wide index of live sessions by id. The lock is
// held only for map access, never across session operations.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers s. It fails with ErrSessionExists if the id is taken.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.ID()]; exists {
		return fmt.Errorf("%w: %s", model.ErrSessionExists, s.ID())
	}
	r.sessions[s.ID()] = s
	return nil
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	return s, ok
}

// Remove unregisters id and returns the removed session, if any.
func (r *Registry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

// List returns every session ordered by id.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ListByOwner returns the sessions belonging to ownerID, ordered by id.
func (r *Registry) ListByOwner(ownerID string) []*Session {
	all := r.List()
	out := all[:0]
	for _, s := range all {
		if s.OwnerID() == ownerID {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Drain removes and returns every session.
func (r *Registry) Drain() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	return out
}
