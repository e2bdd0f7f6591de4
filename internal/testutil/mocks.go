package testutil

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"github.com/playverse/presence/internal/session"
	"github.com/playverse/presence/internal/store"
)

// MockStore implements store.Store for testing.
type MockStore struct {
	mu       sync.Mutex
	sessions map[string]string
	friends  map[string][]string
	counter  int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		sessions: make(map[string]string),
		friends:  make(map[string][]string),
	}
}

// CreateSession mints a deterministic token for the user.
func (s *MockStore) CreateSession(userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	token := fmt.Sprintf("token-%d", s.counter)
	s.sessions[token] = userID
	return token, nil
}

// AddSession records a specific token for a user.
func (s *MockStore) AddSession(token, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = userID
}

// UserForSession resolves a token.
func (s *MockStore) UserForSession(token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.sessions[token]
	if !ok {
		return "", store.ErrSessionNotFound
	}
	return userID, nil
}

// DeleteSession removes a token.
func (s *MockStore) DeleteSession(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

// AddFriendship records a symmetric friendship.
func (s *MockStore) AddFriendship(userID, friendID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.friends[userID] = append(s.friends[userID], friendID)
	s.friends[friendID] = append(s.friends[friendID], userID)
	return nil
}

// Friends returns the user's friends.
func (s *MockStore) Friends(userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.friends[userID]))
	copy(out, s.friends[userID])
	return out, nil
}

// FriendCount returns the number of friends.
func (s *MockStore) FriendCount(userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.friends[userID]), nil
}

// Close is a no-op for the mock store.
func (s *MockStore) Close() error { return nil }

// MockSession implements hub.Session for testing.
type MockSession struct {
	ID        string
	FriendIDs []string

	mu       sync.Mutex
	messages [][]byte
	shutdown bool
}

// NewMockSession creates a MockSession for the given user and friends.
func NewMockSession(id string, friends ...string) *MockSession {
	return &MockSession{ID: id, FriendIDs: friends}
}

// UserID returns the mock session's user.
func (m *MockSession) UserID() string { return m.ID }

// Friends returns the mock session's friends.
func (m *MockSession) Friends() []string { return m.FriendIDs }

// Send records a message sent to the mock session.
func (m *MockSession) Send(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.messages = append(m.messages, cp)
}

// Shutdown marks the session as shut down.
func (m *MockSession) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = true
}

// ShutdownCalled reports whether Shutdown was called.
func (m *MockSession) ShutdownCalled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// GetMessages returns a copy of all messages received by the mock session.
func (m *MockSession) GetMessages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([][]byte, len(m.messages))
	copy(cp, m.messages)
	return cp
}

// JarWithToken builds a cookie jar holding the session cookie for origin.
func JarWithToken(origin, token string) (http.CookieJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(origin)
	if err != nil {
		return nil, err
	}
	jar.SetCookies(u, []*http.Cookie{{
		Name:  session.CookieName,
		Value: url.QueryEscape(token),
	}})
	return jar, nil
}
