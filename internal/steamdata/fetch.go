package steamdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"steamdash/internal/core"
	"steamdash/internal/proxyclient"
)

// FetchResult is the settled outcome of one endpoint in a batch.
// Payload is nil when the call failed and no fallback existed.
type FetchResult struct {
	Endpoint core.Endpoint
	Payload  *core.Payload
	Origin   Origin
	// Err is the network failure, also set when Origin is OriginCache.
	Err error

	raw []byte
}

// Success reports whether the result contributes a payload.
func (r FetchResult) Success() bool {
	return r.Payload != nil
}

// fetchAll issues one call per endpoint concurrently and waits for all of them.
// fallbacks[i] is the stored payload for endpoints[i], if any.
func (c *Cache) fetchAll(ctx context.Context, endpoints []core.Endpoint, fallbacks []*core.Payload) []FetchResult {
	results := make([]FetchResult, len(endpoints))

	var wg sync.WaitGroup
	for i, ep := range endpoints {
		wg.Add(1)
		go func(i int, ep core.Endpoint) {
			defer wg.Done()
			results[i] = c.fetchOne(ctx, ep, fallbacks[i])
		}(i, ep)
	}
	wg.Wait()

	return results
}

func (c *Cache) fetchOne(ctx context.Context, ep core.Endpoint, fallback *core.Payload) (result FetchResult) {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			result = c.failed(ep, core.NewTransportError(ep, fmt.Sprintf("fetcher panicked: %v", r), nil), fallback, start)
		}
	}()

	raw, err := c.fetcher.Fetch(callCtx, ep)
	var payload *core.Payload
	if err == nil {
		payload, err = proxyclient.Decode(ep, raw)
	}
	if err != nil {
		var fe *core.FetchError
		if !errors.As(err, &fe) {
			err = core.NewTransportError(ep, err.Error(), err)
		}
		return c.failed(ep, err, fallback, start)
	}

	c.hooks.EndpointSettled(ep, true, OriginNetwork, time.Since(start))
	return FetchResult{Endpoint: ep, Payload: payload, Origin: OriginNetwork, raw: raw}
}

func (c *Cache) failed(ep core.Endpoint, err error, fallback *core.Payload, start time.Time) FetchResult {
	origin := OriginNone
	if fallback != nil {
		origin = OriginCache
	}
	slog.Warn("steam endpoint fetch failed", "endpoint", ep.String(), "error", err, "fallback", origin)
	c.hooks.EndpointSettled(ep, false, origin, time.Since(start))
	return FetchResult{Endpoint: ep, Payload: fallback, Origin: origin, Err: err}
}

// aggregateError describes a batch that produced nothing usable.
func aggregateError(results []FetchResult) *core.FetchError {
	reasons := make([]string, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			reasons = append(reasons, r.Err.Error())
		}
	}
	msg := "Steam data fetch failed: no Steam data received from any endpoint"
	if len(reasons) > 0 {
		msg += " (" + strings.Join(reasons, "; ") + ")"
	}
	return &core.FetchError{Kind: core.KindAggregate, Message: msg}
}
