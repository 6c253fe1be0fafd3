package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const localFileSuffix = ".json"

// LocalStore implements Store with one file per key in a directory.
// This is suitable for single-instance deployments.
type LocalStore struct {
	mu  sync.RWMutex
	dir string
}

// NewLocalStore creates a file-backed store rooted at dir.
// An empty dir disables persistence: reads miss and writes are dropped.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{
		dir: dir,
	}
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+localFileSuffix)
}

// Get reads the file for key.
func (s *LocalStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dir == "" {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}
	return data, nil
}

// Set writes the file for key.
func (s *LocalStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dir == "" {
		return nil
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	// Write atomically using temp file + rename
	target := s.path(key)
	tmpFile := target + ".tmp"
	if err := os.WriteFile(tmpFile, value, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmpFile, target); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	return nil
}

// Delete removes the file for key.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dir == "" {
		return nil
	}
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove cache file: %w", err)
	}
	return nil
}

// DeleteByPrefix removes every file whose decoded key starts with prefix.
func (s *LocalStore) DeleteByPrefix(_ context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dir == "" {
		return 0, nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list cache directory: %w", err)
	}

	removed := 0
	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, localFileSuffix) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, localFileSuffix))
		if err != nil || !hasPrefix(key, prefix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("failed to remove cache files: %w", errors.Join(errs...))
	}
	return removed, nil
}

// Close is a no-op for the local store.
func (s *LocalStore) Close() error {
	return nil
}
