package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLStore stores cache entries in PostgreSQL.
type PostgreSQLStore struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLStore creates the cache_entries table if needed.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool) (*PostgreSQLStore, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL,
			updated_at BIGINT NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache_entries table: %w", err)
	}

	return &PostgreSQLStore{pool: pool}, nil
}

// Get returns the value stored under key.
func (s *PostgreSQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, "SELECT value FROM cache_entries WHERE key = $1", key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query cache entry: %w", err)
	}
	return value, nil
}

// Set upserts the value for key.
func (s *PostgreSQLStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cache_entries (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *PostgreSQLStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM cache_entries WHERE key = $1", key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// DeleteByPrefix removes every key under prefix.
func (s *PostgreSQLStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM cache_entries WHERE left(key, char_length($1::text)) = $1::text", prefix)
	if err != nil {
		return 0, fmt.Errorf("delete cache entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close is a no-op; pool lifecycle is managed by storage layer.
func (s *PostgreSQLStore) Close() error {
	return nil
}
