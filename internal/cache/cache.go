// Package cache provides the persistent key-value stores behind the Steam data
// cache. Values are opaque bytes; freshness is decided by the caller from the
// timestamp inside each stored envelope.
//
// Supports in-memory, local file, Redis and database backends.
package cache

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by Get when the key has no stored value.
var ErrNotFound = errors.New("cache entry not found")

// Store is the key-value contract used by the Steam data cache.
// Implementations must be safe for concurrent use; concurrent writes to the
// same key resolve as last-write-wins.
type Store interface {
	// Get returns the stored value, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteByPrefix removes every key starting with prefix and returns how
	// many were removed.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

func hasPrefix(key, prefix string) bool {
	return strings.HasPrefix(key, prefix)
}
