// Package session keeps the process-lifetime map from opaque session
// tokens to cached user snapshots.
package session

import (
	"sync"
	"time"

	"github.com/PaulBabatuyi/relaychat/internal/data"
	"github.com/google/uuid"
)

// Session is one login. A user may hold any number of sessions.
type Session struct {
	Token     string
	User      *data.User
	CreatedAt time.Time
}

// Store is safe for concurrent use. Entries never expire; they are removed
// by Delete (logout) or Clear (shutdown).
type Store struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]Session)}
}

// Create starts a session for a snapshot of u and returns its token.
func (s *Store) Create(u *data.User) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.sessions[token] = Session{Token: token, User: u.Snapshot(), CreatedAt: time.Now()}
	s.mu.Unlock()
	return token
}

// Get returns the session for token.
func (s *Store) Get(token string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[token]
	if !ok {
		return Session{}, false
	}
	u := *sess.User
	sess.User = &u
	return sess, true
}

// Delete ends a session. Unknown tokens are ignored.
func (s *Store) Delete(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Clear drops every session.
func (s *Store) Clear() {
	s.mu.Lock()
	s.sessions = make(map[string]Session)
	s.mu.Unlock()
}
