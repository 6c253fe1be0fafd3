// Package proxyclient talks to the Steam proxy function: one GET per logical
// endpoint, returning the raw JSON document for caching and decoding.
package proxyclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"steamdash/internal/core"
)

const (
	maxBodySize   = 10 * 1024 * 1024 // 10 MB
	maxSnippetLen = 100
)

// Config holds the proxy location and the optional query parameters the
// proxy understands.
type Config struct {
	// BaseURL is the proxy URL; endpoint parameters are added to its query.
	BaseURL string
	// SteamID overrides the proxy's default account when set.
	SteamID string
	// RecentCount limits the recent endpoint when positive.
	RecentCount int
}

// Client fetches endpoint documents from the proxy.
type Client struct {
	base        *url.URL
	steamID     string
	recentCount int
	http        *http.Client
}

// New creates a proxy client. A nil httpClient uses http.DefaultClient.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("proxy base URL is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid proxy base URL %q: scheme must be http or https", cfg.BaseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		base:        base,
		steamID:     cfg.SteamID,
		recentCount: cfg.RecentCount,
		http:        httpClient,
	}, nil
}

// EndpointURL returns the request URL for ep.
func (c *Client) EndpointURL(ep core.Endpoint) string {
	u := *c.base
	q := u.Query()
	q.Set("endpoint", ep.String())
	if c.steamID != "" {
		q.Set("steamid", c.steamID)
	}
	if ep == core.EndpointRecentGames && c.recentCount > 0 {
		q.Set("count", strconv.Itoa(c.recentCount))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Fetch performs one GET for ep and returns the decompressed JSON body.
// Every failure is a *core.FetchError: transport problems (including the
// context deadline) are KindTransport, unusable responses KindMalformedResponse.
func (c *Client) Fetch(ctx context.Context, ep core.Endpoint) ([]byte, error) {
	if !ep.Valid() {
		return nil, core.NewInvalidRequestError(ep.String(), core.ErrUnknownEndpoint)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.EndpointURL(ep), nil)
	if err != nil {
		return nil, core.NewTransportError(ep, "creating request: "+err.Error(), err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "br, gzip, deflate")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, core.NewTransportError(ep, transportMessage(ctx, err), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, core.NewTransportError(ep, "reading response body: "+err.Error(), err)
	}
	if len(raw) > maxBodySize {
		return nil, core.NewMalformedResponseError(ep, resp.StatusCode,
			fmt.Sprintf("response body too large (exceeds %d bytes)", maxBodySize), nil)
	}
	body, _ := decompressBody(raw, resp.Header.Get("Content-Encoding"))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, core.NewMalformedResponseError(ep, resp.StatusCode,
			fmt.Sprintf("%d: %s", resp.StatusCode, errorReason(body)), nil)
	}
	if !isJSONContentType(resp.Header.Get("Content-Type")) {
		return nil, core.NewMalformedResponseError(ep, resp.StatusCode,
			"Non-JSON response: "+snippet(body), nil)
	}
	return body, nil
}

func transportMessage(ctx context.Context, err error) string {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.Is(ctx.Err(), context.Canceled):
		return "request aborted"
	default:
		return err.Error()
	}
}

func isJSONContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "application/json")
	}
	return mediaType == "application/json"
}

// errorReason prefers the proxy's JSON error envelope and falls back to a
// snippet of the raw body.
func errorReason(body []byte) string {
	if !gjson.ValidBytes(body) {
		return snippet(body)
	}
	doc := gjson.ParseBytes(body)
	reason := doc.Get("error").String()
	if reason == "" {
		return snippet(body)
	}
	if msg := doc.Get("message").String(); msg != "" {
		reason += ": " + msg
	}
	if hint := doc.Get("hint").String(); hint != "" {
		reason += " (" + hint + ")"
	}
	if available := doc.Get("availableEndpoints"); available.IsArray() {
		names := make([]string, 0, len(available.Array()))
		for _, v := range available.Array() {
			names = append(names, v.String())
		}
		reason += " [available: " + strings.Join(names, ", ") + "]"
	}
	return reason
}

func snippet(body []byte) string {
	s := strings.ToValidUTF8(string(body), "�")
	runes := []rune(s)
	if len(runes) > maxSnippetLen {
		return string(runes[:maxSnippetLen])
	}
	return s
}
