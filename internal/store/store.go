package store

import "errors"

// ErrSessionNotFound is returned when a session token is unknown.
var ErrSessionNotFound = errors.New("store: session not found")

// Store defines session and social-graph persistence.
type Store interface {
	// CreateSession mints a session token for a user.
	CreateSession(userID string) (string, error)
	// UserForSession resolves a session token to a user ID.
	UserForSession(token string) (string, error)
	// DeleteSession invalidates a session token.
	DeleteSession(token string) error
	// AddFriendship records an accepted friendship between two users.
	// Friendship is symmetric: both directions are stored.
	AddFriendship(userID, friendID string) error
	// Friends returns the accepted friends of a user.
	Friends(userID string) ([]string, error)
	// FriendCount returns the number of accepted friends of a user.
	FriendCount(userID string) (int, error)
	// Close releases any resources held by the store.
	Close() error
}
