package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// Per-endpoint goroutines of one batch persist at the same time; the single
// writer connection must serialize them without SQLITE_BUSY failures.
func TestSQLiteConcurrentWriteSafety(t *testing.T) {
	store, err := NewSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create SQLite storage: %v", err)
	}
	defer store.Close()

	db := store.SQLiteDB()
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS test_entries (key TEXT PRIMARY KEY, value TEXT, stored_at INTEGER)`)
	if err != nil {
		t.Fatalf("failed to create test_entries table: %v", err)
	}

	endpoints := []string{"profile", "recent", "games", "level"}
	const writesPerEndpoint = 50

	var wg sync.WaitGroup
	errs := make(chan error, len(endpoints)*writesPerEndpoint)

	for _, ep := range endpoints {
		wg.Add(1)
		go func(ep string) {
			defer wg.Done()
			for j := 0; j < writesPerEndpoint; j++ {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				_, err := db.ExecContext(ctx, `
					INSERT INTO test_entries (key, value, stored_at) VALUES (?, ?, ?)
					ON CONFLICT(key) DO UPDATE SET value = excluded.value, stored_at = excluded.stored_at
				`, fmt.Sprintf("steam_cache_%s_%d", ep, j%5), "payload", j)
				cancel()
				if err != nil {
					errs <- fmt.Errorf("endpoint %s write %d: %w", ep, j, err)
				}
			}
		}(ep)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent write error: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM test_entries").Scan(&count); err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if want := len(endpoints) * 5; count != want {
		t.Errorf("test_entries: got %d rows, want %d", count, want)
	}
}

func TestNewSQLite_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "cache.db")
	store, err := NewSQLite(SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	defer store.Close()

	if store.Type() != TypeSQLite {
		t.Errorf("Type() = %q, want %q", store.Type(), TypeSQLite)
	}
	if store.PostgreSQLPool() != nil || store.MongoDatabase() != nil {
		t.Error("SQLite storage must not expose other backends")
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("expected directory to exist: %v", err)
	}
}

func TestNew_UnknownType(t *testing.T) {
	if _, err := New(context.Background(), Config{Type: "cassandra"}); err == nil {
		t.Fatal("expected error for unknown storage type")
	}
}

func TestNew_MissingURLs(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, Config{Type: TypePostgreSQL}); err == nil {
		t.Error("expected error for PostgreSQL without URL")
	}
	if _, err := New(ctx, Config{Type: TypeMongoDB}); err == nil {
		t.Error("expected error for MongoDB without URL")
	}
}
