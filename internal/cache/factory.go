package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"steamdash/config"
	"steamdash/internal/storage"
)

// Result holds the initialized store and optional owned storage.
type Result struct {
	Store   Store
	Storage storage.Storage
}

// Close releases resources held by the store.
func (r *Result) Close() error {
	var errs []error
	if r.Store != nil {
		if err := r.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// New creates the store selected by cfg.Cache.Type.
func New(ctx context.Context, cfg *config.Config) (*Result, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	switch cfg.Cache.Type {
	case config.CacheTypeMemory:
		return &Result{Store: NewMemoryStore()}, nil
	case config.CacheTypeLocal, "":
		return &Result{Store: NewLocalStore(cfg.Cache.Local.Dir)}, nil
	case config.CacheTypeRedis:
		store, err := NewRedisStore(RedisConfig{
			URL: cfg.Cache.Redis.URL,
			TTL: time.Duration(cfg.Cache.Redis.TTL) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return &Result{Store: store}, nil
	case config.CacheTypeSQLite, config.CacheTypePostgreSQL, config.CacheTypeMongoDB:
		shared, err := storage.New(ctx, buildStorageConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
		result, err := NewWithSharedStorage(ctx, shared)
		if err != nil {
			_ = shared.Close()
			return nil, err
		}
		result.Storage = shared
		return result, nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Cache.Type)
	}
}

// NewWithSharedStorage creates a database-backed store on a connection owned
// by the caller. The returned Result does not close the connection.
func NewWithSharedStorage(ctx context.Context, shared storage.Storage) (*Result, error) {
	if shared == nil {
		return nil, fmt.Errorf("shared storage is required")
	}
	store, err := createStore(ctx, shared)
	if err != nil {
		return nil, err
	}
	return &Result{Store: store}, nil
}

func buildStorageConfig(cfg *config.Config) storage.Config {
	storageCfg := storage.Config{
		Type: cfg.Cache.Type,
		SQLite: storage.SQLiteConfig{
			Path: cfg.Storage.SQLite.Path,
		},
		PostgreSQL: storage.PostgreSQLConfig{
			URL:      cfg.Storage.PostgreSQL.URL,
			MaxConns: cfg.Storage.PostgreSQL.MaxConns,
		},
		MongoDB: storage.MongoDBConfig{
			URL:      cfg.Storage.MongoDB.URL,
			Database: cfg.Storage.MongoDB.Database,
		},
	}

	if storageCfg.SQLite.Path == "" {
		storageCfg.SQLite.Path = storage.DefaultSQLitePath
	}
	if storageCfg.MongoDB.Database == "" {
		storageCfg.MongoDB.Database = storage.DefaultDatabase
	}
	return storageCfg
}

func createStore(ctx context.Context, shared storage.Storage) (Store, error) {
	switch shared.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(shared.SQLiteDB())
	case storage.TypePostgreSQL:
		pool := shared.PostgreSQLPool()
		if pool == nil {
			return nil, fmt.Errorf("PostgreSQL pool is nil")
		}
		return NewPostgreSQLStore(ctx, pool)
	case storage.TypeMongoDB:
		db := shared.MongoDatabase()
		if db == nil {
			return nil, fmt.Errorf("MongoDB database is nil")
		}
		return NewMongoDBStore(db)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", shared.Type())
	}
}
