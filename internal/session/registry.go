package session

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrRegistryFull is returned when the session limit is reached.
var ErrRegistryFull = errors.New("session limit reached")

// Factory opens a session for ownerID.
type Factory func(ctx context.Context, ownerID string) (*Session, error)

// Registry keeps at most one open session per user. Sessions are opened
// outside the registry lock, so a slow subscribe handshake for one user never
// holds up another.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	max      int
	open     Factory
	opening  singleflight.Group
}

// NewRegistry creates a registry holding at most max sessions.
func NewRegistry(max int, open Factory) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		max:      max,
		open:     open,
	}
}

// Acquire returns the user's session, opening it on first use. Concurrent
// first calls for one user share a single open.
func (r *Registry) Acquire(ctx context.Context, ownerID string) (*Session, error) {
	if s, ok := r.Get(ownerID); ok {
		return s, nil
	}

	v, err, _ := r.opening.Do(ownerID, func() (interface{}, error) {
		r.mu.Lock()
		if s, ok := r.sessions[ownerID]; ok {
			r.mu.Unlock()
			return s, nil
		}
		full := r.fullLocked()
		r.mu.Unlock()
		if full {
			return nil, ErrRegistryFull
		}

		s, err := r.open(ctx, ownerID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.sessions[s.OwnerID()]; ok {
			s.Close()
			return existing, nil
		}
		// Other users may have filled the registry while this one opened.
		if r.fullLocked() {
			s.Close()
			return nil, ErrRegistryFull
		}
		r.sessions[s.OwnerID()] = s
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (r *Registry) fullLocked() bool {
	return r.max > 0 && len(r.sessions) >= r.max
}

// Get returns the user's session if one is open.
func (r *Registry) Get(ownerID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[ownerID]
	return s, ok
}

// Release closes and forgets the user's session. It reports whether one was open.
func (r *Registry) Release(ownerID string) bool {
	r.mu.Lock()
	s, ok := r.sessions[ownerID]
	delete(r.sessions, ownerID)
	r.mu.Unlock()

	if ok {
		s.Close()
	}
	return ok
}

// CloseAll closes every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
