// Package kv is a small key-value table for device bookkeeping.
//
// The sync engine persists its durable state here, the last successful
// sync time and the last sync error. The table lives in the same SQLite
// database as the farm data so the device keeps a single file.
package kv

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store reads and writes the kv_entries table.
type Store struct {
	conn *sql.DB
}

// New wraps an open database connection. Call InitSchema before first use.
func New(conn *sql.DB) *Store {
	return &Store{conn: conn}
}

// InitSchema creates the kv_entries table if it doesn't exist. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv_entries (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize kv schema: %w", err)
	}
	return nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO kv_entries (key, value, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	_, err := s.conn.ExecContext(ctx, query, key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Get returns the value under key and whether it exists.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, true, nil
}

// Delete removes key. Deleting a missing key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// SetTime stores t under key as RFC3339 text.
func (s *Store) SetTime(ctx context.Context, key string, t time.Time) error {
	return s.Set(ctx, key, t.UTC().Format(time.RFC3339))
}

// GetTime parses the value under key as RFC3339.
func (s *Store) GetTime(ctx context.Context, key string) (time.Time, bool, error) {
	value, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, ok, err
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return t, true, nil
}

// SetJSON marshals v and stores it under key.
func (s *Store) SetJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.Set(ctx, key, string(data))
}

// GetJSON unmarshals the value under key into out, reporting whether the
// key existed.
func (s *Store) GetJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	value, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}
