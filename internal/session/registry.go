package session

import (
	"errors"
	"sync"

	"termproxy/internal/notify"
)

// ErrCapacityExceeded is returned by Registry.insert when MaxConnections has
// been reached.
var ErrCapacityExceeded = errors.New("session: capacity exceeded (MAX_CONNECTIONS reached)")

// ErrNotFound is returned when an operation names an unknown session id.
var ErrNotFound = errors.New("session: not found")

// Registry is the single authority on which session ids exist. It is the
// only place sessions are created or removed.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	max      int
}

// NewRegistry creates an empty registry capped at max concurrent sessions.
// max <= 0 means unbounded.
func NewRegistry(max int) *Registry {
	return &Registry{sessions: make(map[string]*Session), max: max}
}

// insert adds sess if capacity allows, returning ErrCapacityExceeded
// otherwise. Counts reflects the registry state immediately after the
// insert, computed under the same lock, for the caller to publish.
func (r *Registry) insert(sess *Session) (notify.Counts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.max > 0 && len(r.sessions) >= r.max {
		return notify.Counts{}, ErrCapacityExceeded
	}
	r.sessions[sess.ID] = sess
	return r.countsLocked(), nil
}

// lookup returns the session for id, or ErrNotFound.
func (r *Registry) lookup(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// remove deletes id from the registry and returns the resulting counts.
func (r *Registry) remove(id string) notify.Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return r.countsLocked()
}

// all returns a snapshot of every session pointer currently registered.
func (r *Registry) all() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// counts computes the current aggregate tally.
func (r *Registry) counts() notify.Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.countsLocked()
}

func (r *Registry) countsLocked() notify.Counts {
	var c notify.Counts
	for _, s := range r.sessions {
		c.Total++
		switch s.State() {
		case StateReady:
			c.Ready++
		case StateConnecting:
			c.Connecting++
		case StateError:
			c.Error++
		case StateClosed:
			c.Closed++
		}
	}
	return c
}

// SnapshotView is the JSON-shaped response for GET /connections.
type SnapshotView struct {
	Sessions []View `json:"sessions"`
}

// Snapshot returns a View for every registered session, ordered by
// insertion is not guaranteed (map iteration order).
func (r *Registry) Snapshot() SnapshotView {
	sessions := r.all()
	views := make([]View, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, s.View())
	}
	return SnapshotView{Sessions: views}
}
