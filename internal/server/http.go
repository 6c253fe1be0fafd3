package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultMetricsPath = "/metrics"
	apiPrefix          = "/api/"
	requestIDHeader    = "X-Request-ID"
)

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	MasterKey       string // Optional: required on mutating routes when set
	MetricsEnabled  bool   // Whether to expose Prometheus metrics endpoint
	MetricsEndpoint string // HTTP path for metrics endpoint (default: /metrics)
}

// New creates a new HTTP server
func New(dashboard Dashboard, cache SteamCache, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	handler := NewHandler(dashboard, cache)

	e.Use(requestID())
	e.Use(requestLogger())
	e.Use(middleware.Recover())

	e.GET("/health", handler.Health)
	if cfg.MetricsEnabled {
		e.GET(metricsPath(cfg.MetricsEndpoint), echo.WrapHandler(promhttp.Handler()))
	}

	api := e.Group("/api/v1/steam")
	api.GET("", handler.SteamData)
	api.GET("/stats", handler.Stats)
	api.GET("/status", handler.Status)

	auth := AuthMiddleware(cfg.MasterKey)
	api.POST("/refresh", handler.Refresh, auth)
	api.DELETE("/cache", handler.ClearCache, auth)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// metricsPath normalizes the configured path. Paths that would shadow the API
// or the health check fall back to /metrics.
func metricsPath(configured string) string {
	if configured == "" {
		return defaultMetricsPath
	}
	p := path.Clean("/" + configured)
	if p == "/" || p == "/health" || strings.HasPrefix(p+"/", apiPrefix) {
		slog.Warn("metrics endpoint conflicts with API routes, using default",
			"configured", configured, "default", defaultMetricsPath)
		return defaultMetricsPath
	}
	return p
}

// requestID propagates X-Request-ID, generating one when the client sent none.
func requestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := req.Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
				req.Header.Set(requestIDHeader, id)
			}
			c.Response().Header().Set(requestIDHeader, id)
			return next(c)
		}
	}
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				slog.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			slog.Debug("request", attrs...)
			return nil
		},
	})
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Addr returns the bound listener address, or nil until Start has bound it.
func (s *Server) Addr() net.Addr {
	return s.echo.ListenerAddr()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
