package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// SQLiteStore stores cache entries in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the cache_entries table if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache_entries table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get returns the value stored under key.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM cache_entries WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query cache entry: %w", err)
	}
	return value, nil
}

// Set upserts the value for key.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// DeleteByPrefix removes every key under prefix. substr is used instead of
// LIKE so that '%' and '_' in the prefix are matched literally.
func (s *SQLiteStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE substr(key, 1, ?) = ?",
		utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return 0, fmt.Errorf("delete cache entries: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read delete rows affected: %w", err)
	}
	return int(affected), nil
}

// Close is a no-op; DB lifecycle is managed by storage layer.
func (s *SQLiteStore) Close() error {
	return nil
}
