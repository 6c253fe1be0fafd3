package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"steamdash/internal/core"
)

func TestRequestIDMiddleware(t *testing.T) {
	ts := newTestServer(t, nil, nil, core.EndpointLevel)

	t.Run("generates request ID when missing", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/health", nil)

		got := rec.Header().Get("X-Request-ID")
		assert.Len(t, got, 36, "expected a UUID, got %q", got)
	})

	t.Run("preserves existing request ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-ID", "my-custom-id")
		rec := httptest.NewRecorder()

		ts.srv.ServeHTTP(rec, req)

		assert.Equal(t, "my-custom-id", req.Header.Get("X-Request-ID"))
		assert.Equal(t, "my-custom-id", rec.Header().Get("X-Request-ID"))
	})
}

func TestMetricsPath(t *testing.T) {
	tests := []struct {
		configured string
		want       string
	}{
		{"", "/metrics"},
		{"/metrics", "/metrics"},
		{"monitoring/metrics", "/monitoring/metrics"},
		{"/internal//metrics/", "/internal/metrics"},
		{"/", "/metrics"},
		{"/health", "/metrics"},
		{"/api/v1/steam", "/metrics"},
		{"/api", "/metrics"},
		{"/foo/../api/v1/steam/cache", "/metrics"},
		{"/apis/metrics", "/apis/metrics"},
	}

	for _, tt := range tests {
		t.Run(tt.configured, func(t *testing.T) {
			assert.Equal(t, tt.want, metricsPath(tt.configured))
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	tests := []struct {
		name           string
		config         *Config
		requestPath    string
		expectedStatus int
	}{
		{
			name:           "metrics enabled - default endpoint accessible",
			config:         &Config{MetricsEnabled: true, MetricsEndpoint: "/metrics"},
			requestPath:    "/metrics",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "metrics enabled - custom endpoint accessible",
			config:         &Config{MetricsEnabled: true, MetricsEndpoint: "/monitoring/metrics"},
			requestPath:    "/monitoring/metrics",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "metrics skip master key",
			config:         &Config{MasterKey: "secret", MetricsEnabled: true},
			requestPath:    "/metrics",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "metrics disabled - not found",
			config:         &Config{MetricsEnabled: false},
			requestPath:    "/metrics",
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.config, nil, core.EndpointLevel)

			rec := ts.do(t, http.MethodGet, tt.requestPath, nil)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedStatus == http.StatusOK {
				body := rec.Body.String()
				assert.Contains(t, body, "# HELP")
				assert.Contains(t, body, "go_goroutines")
				assert.True(t, strings.Contains(rec.Header().Get("Content-Type"), "text/plain"))
			}
		})
	}
}
