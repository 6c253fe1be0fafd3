// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the steamdash service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"steamdash/config"
	"steamdash/internal/cache"
	"steamdash/internal/core"
	"steamdash/internal/httpclient"
	"steamdash/internal/observability"
	"steamdash/internal/proxyclient"
	"steamdash/internal/server"
	"steamdash/internal/steamdata"
)

// App represents the main application with all its dependencies.
type App struct {
	config    *config.Config
	store     *cache.Result
	steam     *steamdata.Cache
	dashboard *steamdata.Session
	server    *server.Server

	stopRefresh context.CancelFunc

	shutdownOnce sync.Once
	shutdownDone chan struct{}
	shutdownErr  error
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig is the loaded application configuration.
	AppConfig *config.Config

	// Once runs a single fetch: no auto refresh and no HTTP server.
	Once bool
}

// New wires the proxy client, the persistent store and the Steam data cache,
// and mounts the dashboard session. Its first fetch is already running when
// New returns. The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	appCfg := cfg.AppConfig

	endpoints, err := core.ParseEndpoints(appCfg.Proxy.Endpoints)
	if err != nil {
		return nil, fmt.Errorf("invalid dashboard endpoints: %w", err)
	}

	clientCfg := httpclient.DefaultConfig().WithTimeouts(
		time.Duration(appCfg.HTTP.Timeout)*time.Second,
		time.Duration(appCfg.HTTP.ResponseHeaderTimeout)*time.Second,
	)
	proxy, err := proxyclient.New(proxyclient.Config{
		BaseURL:     appCfg.Proxy.BaseURL,
		SteamID:     appCfg.Proxy.SteamID,
		RecentCount: appCfg.Proxy.RecentCount,
	}, httpclient.NewHTTPClient(&clientCfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy client: %w", err)
	}

	storeResult, err := cache.New(ctx, appCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache store: %w", err)
	}

	var hooks steamdata.Hooks
	if appCfg.Metrics.Enabled {
		hooks = observability.NewPrometheusHooks()
	}

	steam, err := steamdata.New(steamdata.Options{
		Store:     storeResult.Store,
		Fetcher:   proxy,
		TTL:       appCfg.CacheTTL(),
		Timeout:   appCfg.ProxyTimeout(),
		KeyPrefix: appCfg.Cache.KeyPrefix,
		Hooks:     hooks,
	})
	if err != nil {
		if closeErr := storeResult.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to create steam cache: %w (also: store close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to create steam cache: %w", err)
	}

	app := &App{
		config:       appCfg,
		store:        storeResult,
		steam:        steam,
		shutdownDone: make(chan struct{}),
	}
	app.logStartupInfo(endpoints, cfg.Once)

	opts := []steamdata.SessionOption{steamdata.WithOnChange(logStateChange)}
	if !cfg.Once {
		opts = append(opts, steamdata.WithRefreshInterval(appCfg.RefreshInterval()))
	}

	// the refresh loop outlives the construction context
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	app.stopRefresh = cancel
	app.dashboard = steam.Fetch(runCtx, endpoints, opts...)

	if !cfg.Once {
		app.server = server.New(app.dashboard, steam, &server.Config{
			MasterKey:       appCfg.Server.MasterKey,
			MetricsEnabled:  appCfg.Metrics.Enabled,
			MetricsEndpoint: appCfg.Metrics.Endpoint,
		})
	}

	return app, nil
}

// Dashboard returns the long-lived dashboard session.
func (a *App) Dashboard() *steamdata.Session {
	return a.dashboard
}

// Cache returns the Steam data cache.
func (a *App) Cache() *steamdata.Cache {
	return a.steam
}

// Handler returns the HTTP handler, or nil in once mode.
func (a *App) Handler() http.Handler {
	if a.server == nil {
		return nil
	}
	return a.server
}

// Addr returns the address the HTTP server is listening on, or nil before
// Start has bound it and in once mode.
func (a *App) Addr() net.Addr {
	if a.server == nil {
		return nil
	}
	return a.server.Addr()
}

// Start starts the HTTP server on the given address.
// This is a blocking call. After a graceful stop it returns only once
// Shutdown has finished draining requests and closing the store.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			// the listener closes as soon as Shutdown begins
			<-a.shutdownDone
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order:
// 1. HTTP server shutdown, honoring the passed context.
// 2. Dashboard session unmount (stops refreshing; in-flight results are discarded).
// 3. Cache store close.
//
// Shutdown attempts every step and returns a joined error if any step fails.
// Only the first call tears down; later calls wait for it to finish (or for
// their own ctx) and return its result.
func (a *App) Shutdown(ctx context.Context) error {
	first := false
	a.shutdownOnce.Do(func() { first = true })
	if !first {
		select {
		case <-a.shutdownDone:
			return a.shutdownErr
		default:
		}
		select {
		case <-a.shutdownDone:
			return a.shutdownErr
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	a.shutdownErr = a.teardown(ctx)
	close(a.shutdownDone)
	return a.shutdownErr
}

func (a *App) teardown(ctx context.Context) error {
	slog.Info("shutting down application...")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.dashboard != nil {
		a.dashboard.Unmount()
	}
	if a.stopRefresh != nil {
		a.stopRefresh()
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Error("cache store close error", "error", err)
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

func logStateChange(state steamdata.State) {
	slog.Debug("dashboard state changed",
		"loading", state.Loading,
		"using_cache", state.UsingCache,
		"error", state.Error,
		"has_profile", state.Data.HasProfile(),
		"recent_games", len(state.Data.RecentGames),
		"library_games", len(state.Data.GameLibrary),
	)
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo(endpoints []core.Endpoint, once bool) {
	cfg := a.config

	slog.Info("steam proxy configured",
		"base_url", cfg.Proxy.BaseURL,
		"endpoints", core.EndpointNames(endpoints),
		"timeout", a.steam.Timeout(),
	)
	slog.Info("cache configured",
		"type", cfg.Cache.Type,
		"ttl", a.steam.TTL(),
		"key_prefix", cfg.Cache.KeyPrefix,
	)

	if once {
		return
	}

	if interval := cfg.RefreshInterval(); interval > 0 {
		slog.Info("auto refresh enabled", "interval", interval)
	} else {
		slog.Info("auto refresh disabled")
	}

	if cfg.Server.MasterKey == "" {
		slog.Warn("SECURITY WARNING: STEAMDASH_MASTER_KEY not set - refresh and cache clearing are unauthenticated",
			"recommendation", "set STEAMDASH_MASTER_KEY to protect mutating endpoints")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}
}
