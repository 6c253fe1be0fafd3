// Package config provides configuration management for the application.
//
// Values are resolved in three layers: built-in defaults, an optional YAML
// file (with ${VAR} and ${VAR:-default} expansion), then flat environment
// variables. A .env file in the working directory is loaded first if present.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"steamdash/internal/core"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Proxy   ProxyConfig   `yaml:"proxy"`
	Cache   CacheConfig   `yaml:"cache"`
	Storage StorageConfig `yaml:"storage"`
	Refresh RefreshConfig `yaml:"refresh"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LogConfig     `yaml:"logging"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	// MasterKey protects destructive endpoints (cache clearing). Empty disables auth.
	MasterKey string `yaml:"master_key"`
}

// ProxyConfig describes the upstream Steam proxy.
type ProxyConfig struct {
	// BaseURL is the proxy function URL, e.g. https://example.com/api/steam
	BaseURL string `yaml:"base_url"`
	// SteamID is forwarded as ?steamid= when set; the proxy falls back to its own default.
	SteamID string `yaml:"steam_id"`
	// RecentCount is forwarded as ?count= for the recent endpoint when positive.
	RecentCount int `yaml:"recent_count"`
	// Timeout bounds each endpoint call, in seconds.
	Timeout int `yaml:"timeout"`
	// Endpoints fetched by the dashboard session.
	Endpoints []string `yaml:"endpoints"`
}

// CacheConfig selects where cache entries are persisted.
type CacheConfig struct {
	// Type is one of memory, local, redis, sqlite, postgresql, mongodb.
	Type string `yaml:"type"`
	// TTL is the freshness window for reads, in seconds.
	TTL int `yaml:"ttl"`
	// KeyPrefix namespaces every entry; ClearCache removes everything under it.
	KeyPrefix string           `yaml:"key_prefix"`
	Local     LocalCacheConfig `yaml:"local"`
	Redis     RedisCacheConfig `yaml:"redis"`
}

// LocalCacheConfig holds file-backed cache configuration.
type LocalCacheConfig struct {
	Dir string `yaml:"dir"`
}

// RedisCacheConfig holds Redis cache configuration.
type RedisCacheConfig struct {
	URL string `yaml:"url"`
	// TTL is an optional server-side key expiry, in seconds. Zero disables it.
	TTL int `yaml:"ttl"`
}

// StorageConfig holds the database connection settings used when the cache
// type is sqlite, postgresql or mongodb.
type StorageConfig struct {
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLConfig holds PostgreSQL-specific configuration
type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// MongoDBConfig holds MongoDB-specific configuration
type MongoDBConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// RefreshConfig controls periodic revalidation of the dashboard session.
type RefreshConfig struct {
	Enabled bool `yaml:"enabled"`
	// Interval between refreshes, in seconds.
	Interval int `yaml:"interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	// Format is "pretty", "json", or empty for auto-detection.
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// HTTPConfig holds outbound HTTP client timeouts, in seconds.
type HTTPConfig struct {
	Timeout               int `yaml:"timeout"`
	ResponseHeaderTimeout int `yaml:"response_header_timeout"`
}

// Valid cache types.
const (
	CacheTypeMemory     = "memory"
	CacheTypeLocal      = "local"
	CacheTypeRedis      = "redis"
	CacheTypeSQLite     = "sqlite"
	CacheTypePostgreSQL = "postgresql"
	CacheTypeMongoDB    = "mongodb"
)

// ProxyTimeout returns the per-endpoint call timeout.
func (c *Config) ProxyTimeout() time.Duration {
	return time.Duration(c.Proxy.Timeout) * time.Second
}

// CacheTTL returns the cache freshness window.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTL) * time.Second
}

// RefreshInterval returns the dashboard refresh interval, or zero when disabled.
func (c *Config) RefreshInterval() time.Duration {
	if !c.Refresh.Enabled {
		return 0
	}
	return time.Duration(c.Refresh.Interval) * time.Second
}

func buildDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
		},
		Proxy: ProxyConfig{
			Timeout:   10,
			Endpoints: []string{"profile", "recent"},
		},
		Cache: CacheConfig{
			Type:      CacheTypeLocal,
			TTL:       300,
			KeyPrefix: "steam_cache_",
			Local: LocalCacheConfig{
				Dir: ".cache/steam",
			},
		},
		Storage: StorageConfig{
			SQLite: SQLiteConfig{
				Path: ".cache/steamdash.db",
			},
			PostgreSQL: PostgreSQLConfig{
				MaxConns: 10,
			},
			MongoDB: MongoDBConfig{
				Database: "steamdash",
			},
		},
		Refresh: RefreshConfig{
			Enabled:  true,
			Interval: 300,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
		Logging: LogConfig{
			Level: "info",
		},
		HTTP: HTTPConfig{
			Timeout:               30,
			ResponseHeaderTimeout: 30,
		},
	}
}

// Load reads configuration from the YAML file at path (optional) and the
// environment. When path is empty, config.yaml and config/config.yaml are
// tried in order; a missing file is not an error.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := buildDefaultConfig()

	file, explicit := path, path != ""
	if !explicit {
		file = findConfigFile()
	}
	if file != "" {
		raw, err := os.ReadFile(file)
		switch {
		case err == nil:
			if err := decodeYAML(raw, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", file, err)
			}
			slog.Debug("loaded config file", "path", file)
		case explicit || !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	for _, candidate := range []string{"config.yaml", "config/config.yaml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// decodeYAML parses raw and expands ${VAR} references inside scalar values
// before decoding, so a substituted value is never read as YAML syntax.
func decodeYAML(raw []byte, cfg *Config) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if len(doc.Content) == 0 {
		return nil
	}
	expandNode(&doc)
	return doc.Decode(cfg)
}

const quotedStyles = yaml.DoubleQuotedStyle | yaml.SingleQuotedStyle | yaml.LiteralStyle | yaml.FoldedStyle

func expandNode(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode {
		expanded := expandString(n.Value)
		if expanded == n.Value {
			return
		}
		n.Value = expanded
		// unquoted ${CACHE_TTL:-300} was parsed as a string; let the
		// expanded text resolve to its own type
		if n.Style&(quotedStyles|yaml.TaggedStyle) == 0 {
			n.Tag = ""
		}
		return
	}
	for _, child := range n.Content {
		expandNode(child)
	}
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default}. Unset variables without a
// default are left as-is so the problem is visible in the resulting value.
func expandString(s string) string {
	if s == "" {
		return s
	}
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		name, hasDefault, def := groups[1], groups[2] != "", groups[3]
		if val := os.Getenv(name); val != "" {
			return val
		}
		if hasDefault {
			return def
		}
		return match
	})
}

// applyEnvOverrides copies flat environment variables over the loaded values.
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid integer %q", key, v))
			return
		}
		*dst = n
	}
	setSeconds := func(key string, dst *int) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		n, err := parseSeconds(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
	setBool := func(key string, dst *bool) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid boolean %q", key, v))
			return
		}
		*dst = b
	}

	setString("PORT", &cfg.Server.Port)
	setString("STEAMDASH_MASTER_KEY", &cfg.Server.MasterKey)

	setString("PROXY_BASE_URL", &cfg.Proxy.BaseURL)
	setString("STEAM_ID", &cfg.Proxy.SteamID)
	setInt("PROXY_RECENT_COUNT", &cfg.Proxy.RecentCount)
	setSeconds("PROXY_TIMEOUT", &cfg.Proxy.Timeout)
	if v := os.Getenv("STEAM_ENDPOINTS"); v != "" {
		cfg.Proxy.Endpoints = splitList(v)
	}

	setString("CACHE_TYPE", &cfg.Cache.Type)
	setSeconds("CACHE_TTL", &cfg.Cache.TTL)
	setString("CACHE_KEY_PREFIX", &cfg.Cache.KeyPrefix)
	setString("CACHE_DIR", &cfg.Cache.Local.Dir)
	setString("REDIS_URL", &cfg.Cache.Redis.URL)

	setString("SQLITE_PATH", &cfg.Storage.SQLite.Path)
	setString("POSTGRES_URL", &cfg.Storage.PostgreSQL.URL)
	setInt("POSTGRES_MAX_CONNS", &cfg.Storage.PostgreSQL.MaxConns)
	setString("MONGODB_URL", &cfg.Storage.MongoDB.URL)
	setString("MONGODB_DATABASE", &cfg.Storage.MongoDB.Database)

	setBool("REFRESH_ENABLED", &cfg.Refresh.Enabled)
	setSeconds("REFRESH_INTERVAL", &cfg.Refresh.Interval)

	setBool("METRICS_ENABLED", &cfg.Metrics.Enabled)
	setString("METRICS_ENDPOINT", &cfg.Metrics.Endpoint)

	setString("LOG_FORMAT", &cfg.Logging.Format)
	setString("LOG_LEVEL", &cfg.Logging.Level)

	setSeconds("HTTP_TIMEOUT", &cfg.HTTP.Timeout)
	setSeconds("HTTP_RESPONSE_HEADER_TIMEOUT", &cfg.HTTP.ResponseHeaderTimeout)

	return errors.Join(errs...)
}

// parseSeconds accepts plain integers (seconds) or Go duration strings ("10m", "1h30m").
func parseSeconds(v string) (int, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return secs, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return int(d / time.Second), nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) validate() error {
	var errs []error

	switch {
	case c.Proxy.BaseURL == "":
		errs = append(errs, errors.New("proxy.base_url is required (set PROXY_BASE_URL)"))
	case envPattern.MatchString(c.Proxy.BaseURL):
		errs = append(errs, fmt.Errorf("proxy.base_url has an unexpanded variable: %q", c.Proxy.BaseURL))
	default:
		if u, err := url.Parse(c.Proxy.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("proxy.base_url must be an absolute http(s) URL, got %q", c.Proxy.BaseURL))
		}
	}
	if c.Proxy.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("proxy.timeout must be positive, got %d", c.Proxy.Timeout))
	}
	if c.Proxy.RecentCount < 0 {
		errs = append(errs, fmt.Errorf("proxy.recent_count must not be negative, got %d", c.Proxy.RecentCount))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must be positive, got %d", c.Cache.TTL))
	}
	if c.Cache.KeyPrefix == "" {
		errs = append(errs, errors.New("cache.key_prefix must not be empty"))
	}

	switch c.Cache.Type {
	case CacheTypeMemory, CacheTypeLocal, CacheTypeSQLite, CacheTypePostgreSQL, CacheTypeMongoDB:
	case CacheTypeRedis:
		if c.Cache.Redis.URL == "" {
			errs = append(errs, errors.New("cache.redis.url is required for redis cache (set REDIS_URL)"))
		}
		if c.Cache.Redis.TTL < 0 {
			errs = append(errs, fmt.Errorf("cache.redis.ttl must not be negative, got %d", c.Cache.Redis.TTL))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache type %q (valid: memory, local, redis, sqlite, postgresql, mongodb)", c.Cache.Type))
	}

	if _, err := core.ParseEndpoints(c.Proxy.Endpoints); err != nil {
		errs = append(errs, fmt.Errorf("proxy.endpoints: %w", err))
	}

	if c.Refresh.Enabled && c.Refresh.Interval <= 0 {
		errs = append(errs, fmt.Errorf("refresh.interval must be positive when refresh is enabled, got %d", c.Refresh.Interval))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "pretty", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q (valid: pretty, json)", c.Logging.Format))
	}

	return errors.Join(errs...)
}
