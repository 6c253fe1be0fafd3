// Package server exposes the Steam data cache over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cespare/xxhash/v2"
	"github.com/labstack/echo/v4"

	"steamdash/internal/core"
	"steamdash/internal/steamdata"
)

// Dashboard is the long-lived session served by the API.
type Dashboard interface {
	State() steamdata.State
	Stats() *steamdata.Stats
	IsOnline() bool
	CurrentGame() *core.Game
	Endpoints() []core.Endpoint
	Refetch(ctx context.Context) (<-chan struct{}, error)
}

// SteamCache starts ad-hoc sessions and manages the persistent entries.
type SteamCache interface {
	Fetch(ctx context.Context, endpoints []core.Endpoint, opts ...steamdata.SessionOption) *steamdata.Session
	ClearCache(ctx context.Context) (int, error)
}

// Handler holds the HTTP handlers
type Handler struct {
	dashboard Dashboard
	cache     SteamCache
}

// NewHandler creates a handler serving dashboard and cache.
func NewHandler(dashboard Dashboard, cache SteamCache) *Handler {
	return &Handler{dashboard: dashboard, cache: cache}
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// SteamData handles GET /api/v1/steam
//
// Without query parameters it returns the dashboard state. With
// ?endpoints=a,b it runs an ad-hoc session for those endpoints and waits for
// its batch unless the answer came straight from the cache.
func (h *Handler) SteamData(c echo.Context) error {
	list := c.QueryParam("endpoints")
	if list == "" {
		return writeState(c, h.dashboard.State())
	}

	endpoints, err := core.ParseEndpointList(list)
	if err != nil {
		return handleError(c, core.NewInvalidRequestError(err.Error(), err))
	}
	if len(endpoints) == 0 {
		return handleError(c, core.NewInvalidRequestError("endpoints must not be empty", nil))
	}

	ctx := c.Request().Context()
	session := h.cache.Fetch(ctx, endpoints)

	state := session.State()
	if state.Loading {
		state, err = session.Wait(ctx)
		if err != nil {
			slog.Debug("ad-hoc steam fetch abandoned", "endpoints", list, "error", err)
		}
	}

	// let the background batch refresh the store before releasing the session
	go func() {
		<-session.Done()
		session.Unmount()
	}()

	return writeState(c, state)
}

type statsResponse struct {
	*steamdata.Stats
	TotalPlaytime  string         `json:"total_playtime"`
	RecentPlaytime string         `json:"recent_playtime"`
	TopGames       []topGameEntry `json:"top_games"`
}

type topGameEntry struct {
	core.Game
	Playtime string `json:"playtime"`
}

// Stats handles GET /api/v1/steam/stats
func (h *Handler) Stats(c echo.Context) error {
	stats := h.dashboard.Stats()
	if stats == nil {
		return handleError(c, core.NewNotFoundError("no game library loaded"))
	}

	top := make([]topGameEntry, 0, len(stats.TopGames))
	for _, g := range stats.TopGames {
		top = append(top, topGameEntry{Game: g, Playtime: steamdata.FormatPlaytime(g.PlaytimeForever)})
	}
	return c.JSON(http.StatusOK, statsResponse{
		Stats:          stats,
		TotalPlaytime:  steamdata.FormatPlaytime(stats.TotalPlaytimeHours * 60),
		RecentPlaytime: steamdata.FormatPlaytime(stats.RecentPlaytimeHours * 60),
		TopGames:       top,
	})
}

type statusResponse struct {
	Online      bool       `json:"online"`
	CurrentGame *core.Game `json:"current_game"`
	Loading     bool       `json:"loading"`
	UsingCache  bool       `json:"using_cache"`
	Endpoints   []string   `json:"endpoints"`
}

// Status handles GET /api/v1/steam/status
func (h *Handler) Status(c echo.Context) error {
	state := h.dashboard.State()
	return c.JSON(http.StatusOK, statusResponse{
		Online:      h.dashboard.IsOnline(),
		CurrentGame: h.dashboard.CurrentGame(),
		Loading:     state.Loading,
		UsingCache:  state.UsingCache,
		Endpoints:   core.EndpointNames(h.dashboard.Endpoints()),
	})
}

// Refresh handles POST /api/v1/steam/refresh
//
// ?wait=true blocks until the new batch settles and returns the state.
func (h *Handler) Refresh(c echo.Context) error {
	ctx := c.Request().Context()
	done, err := h.dashboard.Refetch(ctx)
	if err != nil {
		if errors.Is(err, steamdata.ErrUnmounted) {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"error": map[string]interface{}{
					"type":    "unavailable_error",
					"message": err.Error(),
				},
			})
		}
		return handleError(c, err)
	}

	if c.QueryParam("wait") != "true" {
		return c.JSON(http.StatusAccepted, map[string]string{"status": "refreshing"})
	}

	select {
	case <-done:
	case <-ctx.Done():
	}
	return writeState(c, h.dashboard.State())
}

// ClearCache handles DELETE /api/v1/steam/cache
func (h *Handler) ClearCache(c echo.Context) error {
	removed, err := h.cache.ClearCache(c.Request().Context())
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"removed": removed})
}

// writeState renders state with a content hash ETag and answers conditional
// requests with 304.
func writeState(c echo.Context, state steamdata.State) error {
	body, err := json.Marshal(state)
	if err != nil {
		return handleError(c, err)
	}
	etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))

	header := c.Response().Header()
	header.Set("ETag", etag)
	header.Set("Cache-Control", "no-cache")
	if c.Request().Header.Get("If-None-Match") == etag {
		return c.NoContent(http.StatusNotModified)
	}
	return c.JSONBlob(http.StatusOK, body)
}

// handleError converts fetch errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var fetchErr *core.FetchError
	if errors.As(err, &fetchErr) {
		return c.JSON(fetchErr.HTTPStatusCode(), fetchErr.ToJSON())
	}

	slog.Error("unexpected handler error", "path", c.Path(), "error", err)
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
