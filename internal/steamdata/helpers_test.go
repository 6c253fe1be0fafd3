package steamdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"steamdash/internal/cache"
	"steamdash/internal/core"
)

var errNetwork = errors.New("connection refused")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeFetcher answers from handler and counts calls per endpoint.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   map[core.Endpoint]int
	handler func(ctx context.Context, ep core.Endpoint, call int) ([]byte, error)
}

func newFakeFetcher(handler func(ctx context.Context, ep core.Endpoint, call int) ([]byte, error)) *fakeFetcher {
	return &fakeFetcher{calls: make(map[core.Endpoint]int), handler: handler}
}

// staticFetcher answers every call for an endpoint with the same document;
// endpoints missing from docs fail with errNetwork.
func staticFetcher(docs map[core.Endpoint][]byte) *fakeFetcher {
	return newFakeFetcher(func(_ context.Context, ep core.Endpoint, _ int) ([]byte, error) {
		if doc, ok := docs[ep]; ok {
			return doc, nil
		}
		return nil, core.NewTransportError(ep, errNetwork.Error(), errNetwork)
	})
}

// gatedFetcher behaves like staticFetcher but blocks every call until gate is closed.
func gatedFetcher(gate <-chan struct{}, docs map[core.Endpoint][]byte) *fakeFetcher {
	inner := staticFetcher(docs)
	return newFakeFetcher(func(ctx context.Context, ep core.Endpoint, call int) ([]byte, error) {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return inner.handler(ctx, ep, call)
	})
}

func (f *fakeFetcher) Fetch(ctx context.Context, ep core.Endpoint) ([]byte, error) {
	f.mu.Lock()
	f.calls[ep]++
	n := f.calls[ep]
	f.mu.Unlock()
	return f.handler(ctx, ep, n)
}

func (f *fakeFetcher) Calls(ep core.Endpoint) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[ep]
}

type recordingHooks struct {
	mu      sync.Mutex
	reads   []string
	batches []string
}

func (h *recordingHooks) CacheRead(ep core.Endpoint, result string) {
	h.mu.Lock()
	h.reads = append(h.reads, ep.String()+":"+result)
	h.mu.Unlock()
}

func (h *recordingHooks) EndpointSettled(core.Endpoint, bool, Origin, time.Duration) {}

func (h *recordingHooks) BatchSettled(result string, _ time.Duration) {
	h.mu.Lock()
	h.batches = append(h.batches, result)
	h.mu.Unlock()
}

func (h *recordingHooks) Batches() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.batches...)
}

func (h *recordingHooks) Reads() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.reads...)
}

type testEnv struct {
	cache *Cache
	store *cache.MemoryStore
	clock *fakeClock
	hooks *recordingHooks
}

func newTestEnv(t *testing.T, fetcher Fetcher, mutate ...func(*Options)) *testEnv {
	t.Helper()
	env := &testEnv{
		store: cache.NewMemoryStore(),
		clock: newFakeClock(),
		hooks: &recordingHooks{},
	}
	opts := Options{
		Store:   env.store,
		Fetcher: fetcher,
		Now:     env.clock.Now,
		Hooks:   env.hooks,
	}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	env.cache = c
	return env
}

func (e *testEnv) seed(t *testing.T, ep core.Endpoint, doc []byte) {
	t.Helper()
	require.NoError(t, e.cache.Persist(context.Background(), ep, doc))
}

func (e *testEnv) storedEntry(t *testing.T, ep core.Endpoint) (*storedEntry, bool) {
	t.Helper()
	b, err := e.store.Get(context.Background(), e.cache.Key(ep))
	if errors.Is(err, cache.ErrNotFound) {
		return nil, false
	}
	require.NoError(t, err)
	entry, err := decodeEntry(b)
	require.NoError(t, err)
	return entry, true
}

func wait(t *testing.T, s *Session) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, err := s.Wait(ctx)
	require.NoError(t, err)
	return state
}

func profileDoc(name string) []byte {
	return []byte(fmt.Sprintf(`{"response":{"players":[{"steamid":"76561198000000000","personaname":%q,"personastate":1}]},"_metadata":{"endpoint":"profile"}}`, name))
}

func gamesDoc(games ...core.Game) []byte {
	if games == nil {
		games = []core.Game{}
	}
	b, err := json.Marshal(map[string]any{"response": map[string]any{"games": games}})
	if err != nil {
		panic(err)
	}
	return b
}

func levelDoc(level int) []byte {
	return []byte(fmt.Sprintf(`{"response":{"player_level":%d}}`, level))
}
