package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given path.
// Use ":memory:" for an in-memory database.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
		CREATE TABLE IF NOT EXISTS friendships (
			user_id TEXT NOT NULL,
			friend_id TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (user_id, friend_id)
		);
	`)
	return err
}

// CreateSession mints a new session token for the user.
func (s *SQLiteStore) CreateSession(userID string) (string, error) {
	token := uuid.NewString()
	_, err := s.db.Exec(
		"INSERT INTO sessions (token, user_id, created_at) VALUES (?, ?, ?)",
		token, userID, time.Now().UTC(),
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

// UserForSession resolves a session token to its user ID.
func (s *SQLiteStore) UserForSession(token string) (string, error) {
	var userID string
	err := s.db.QueryRow("SELECT user_id FROM sessions WHERE token = ?", token).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

// DeleteSession invalidates a session token.
func (s *SQLiteStore) DeleteSession(token string) error {
	_, err := s.db.Exec("DELETE FROM sessions WHERE token = ?", token)
	return err
}

// AddFriendship records an accepted friendship in both directions.
func (s *SQLiteStore) AddFriendship(userID, friendID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, pair := range [][2]string{{userID, friendID}, {friendID, userID}} {
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO friendships (user_id, friend_id, created_at) VALUES (?, ?, ?)",
			pair[0], pair[1], now,
		); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Friends returns the accepted friends of a user, ordered by ID.
func (s *SQLiteStore) Friends(userID string) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT friend_id FROM friendships WHERE user_id = ? ORDER BY friend_id", userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var friends []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		friends = append(friends, id)
	}
	return friends, rows.Err()
}

// FriendCount returns the number of accepted friends of a user.
func (s *SQLiteStore) FriendCount(userID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM friendships WHERE user_id = ?", userID,
	).Scan(&n)
	return n, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
