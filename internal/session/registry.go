package session

import (
	"sort"
	"sync"
)

// Registry is the authoritative set of live sessions, keyed by client
// id. Broadcast senders work from snapshots so a slow recipient never
// holds the lock.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Insert adds a session. Ids are allocated process-unique by the
// server, so no live session is ever displaced.
func (r *Registry) Insert(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

// Remove deletes the session by id and reports whether it was present.
// A second remove of the same id is a no-op, so client_left is emitted
// at most once per session.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	return ok
}

// Get looks a session up by client id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Members returns a snapshot of sessions ordered by connect time.
// Observers are excluded unless includeObservers is set.
func (r *Registry) Members(includeObservers bool) []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.IsObserver && !includeObservers {
			continue
		}
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Counts reports the member and observer totals.
func (r *Registry) Counts() (members, observers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.IsObserver {
			observers++
		} else {
			members++
		}
	}
	return members, observers
}
