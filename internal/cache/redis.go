package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisScanCount = 100

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379" or "redis://:password@host:6379/0")
	URL string

	// TTL is an optional server-side expiry for entries. Zero keeps entries
	// until they are overwritten or cleared, so an expired entry can still
	// serve as the fallback when a fetch fails.
	TTL time.Duration
}

// RedisStore implements Store using Redis for distributed storage.
// This is suitable for multi-instance deployments sharing one cache.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis cache connected", "addr", opts.Addr, "ttl", cfg.TTL)

	return NewRedisStoreWithClient(client, cfg.TTL), nil
}

// NewRedisStoreWithClient wraps an existing client. A ttl <= 0 disables
// server-side expiry.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Get retrieves a value from Redis.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cache entry from redis: %w", err)
	}
	return data, nil
}

// Set stores a value in Redis.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry in redis: %w", err)
	}
	return nil
}

// Delete removes a key from Redis.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry from redis: %w", err)
	}
	return nil
}

// DeleteByPrefix scans for keys under prefix and deletes them in batches.
func (s *RedisStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	iter := s.client.Scan(ctx, 0, escapeGlob(prefix)+"*", redisScanCount).Iterator()

	removed := 0
	batch := make([]string, 0, redisScanCount)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.client.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("failed to delete cache entries from redis: %w", err)
		}
		removed += int(n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == redisScanCount {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan redis keys: %w", err)
	}
	if err := flush(); err != nil {
		return removed, err
	}
	return removed, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// escapeGlob escapes the characters Redis MATCH patterns treat specially.
func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
