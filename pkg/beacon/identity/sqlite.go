package identity

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/beacon/pkg/beacon/event"
)

// SQLiteStore persists profiles to SQLite.
// It is suitable for single-process use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates the database at path.
// Use ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS identities (
			project_id TEXT PRIMARY KEY,
			anonymous_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			traits BLOB,
			last_seen TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(projectID string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Profile{}, ErrStoreClosed
	}

	var (
		p        Profile
		traits   []byte
		lastSeen string
	)
	err := s.db.QueryRow(`
		SELECT anonymous_id, user_id, traits, last_seen
		FROM identities
		WHERE project_id = ?
	`, projectID).Scan(&p.AnonymousID, &p.UserID, &traits, &lastSeen)

	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("load identity: %w", err)
	}

	if len(traits) > 0 {
		var props event.Properties
		if err := json.Unmarshal(traits, &props); err != nil {
			return Profile{}, fmt.Errorf("decode traits: %w", err)
		}
		p.Traits = props
	}
	p.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen)
	if err != nil {
		return Profile{}, fmt.Errorf("parse last_seen: %w", err)
	}
	return p, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(projectID string, p Profile) error {
	var traits []byte
	if len(p.Traits) > 0 {
		var err error
		if traits, err = json.Marshal(p.Traits); err != nil {
			return fmt.Errorf("encode traits: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO identities (project_id, anonymous_id, user_id, traits, last_seen, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			anonymous_id = excluded.anonymous_id,
			user_id = excluded.user_id,
			traits = excluded.traits,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at
	`, projectID, p.AnonymousID, p.UserID, traits,
		p.LastSeen.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.Exec(`DELETE FROM identities WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
