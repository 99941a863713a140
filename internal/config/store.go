// ABOUTME: Local settings store, backed by sqlite via mattn/go-sqlite3
// ABOUTME: Holds the one persisted setting the core needs: master volume
package config

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a small key/value table of integers, local to this player
// instance. It is deliberately separate from the media database: volume
// and similar local preferences must survive even when the media catalog
// is unreachable or remote.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite file at path and ensures the
// settings table exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("config: create settings table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying sqlite connection.
func (s *Store) Close() error { return s.db.Close() }

// GetInt fetches key's stored value. ok is false if no row exists yet.
func (s *Store) GetInt(key string) (value int, ok bool, err error) {
	row := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key)
	err = row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("config: get %q: %w", key, err)
	}
	return value, true, nil
}

// SetInt upserts key's stored value.
func (s *Store) SetInt(key string, value int) error {
	_, err := s.db.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("config: set %q: %w", key, err)
	}
	return nil
}
