package presence

import (
	"sync"

	"github.com/playverse/presence/internal/protocol"
)

// Store maps peer user IDs to their most recently received presence update.
// Arrival order over the channel decides which update wins; timestamps are
// informational only. The store is rebuilt, never merged, when a new
// authenticated session begins.
type Store struct {
	mu     sync.RWMutex
	byUser map[string]protocol.PresenceUpdate
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{byUser: make(map[string]protocol.PresenceUpdate)}
}

// Upsert overwrites the entry for the update's user. No field-level merging.
func (s *Store) Upsert(u protocol.PresenceUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUser[u.UserID] = u
}

// Get returns the last update received for userID.
func (s *Store) Get(userID string) (protocol.PresenceUpdate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byUser[userID]
	return u, ok
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() map[string]protocol.PresenceUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]protocol.PresenceUpdate, len(s.byUser))
	for id, u := range s.byUser {
		out[id] = u
	}
	return out
}

// Reset discards all entries.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUser = make(map[string]protocol.PresenceUpdate)
}

// Len returns the number of tracked peers.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUser)
}
