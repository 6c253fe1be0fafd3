package steamdata

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"steamdash/internal/core"
)

// ErrUnmounted is returned when refetching a session after Unmount.
var ErrUnmounted = errors.New("steam data session is unmounted")

// State is the externally visible view of a session.
type State struct {
	Data       core.Aggregate `json:"data"`
	Loading    bool           `json:"loading"`
	Error      string         `json:"error,omitempty"`
	UsingCache bool           `json:"using_cache"`
}

func (s State) clone() State {
	s.Data = s.Data.Clone()
	return s
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithRefreshInterval re-runs the fetch sequence every d until the session
// is unmounted or the Fetch context is done. Zero disables refreshing.
func WithRefreshInterval(d time.Duration) SessionOption {
	return func(s *Session) {
		s.refreshInterval = d
	}
}

// WithOnChange registers fn to receive every state change. fn is called
// synchronously while the session holds its write lock, so it must not call
// Refetch or Unmount.
func WithOnChange(fn func(State)) SessionOption {
	return func(s *Session) {
		s.onChange = fn
	}
}

// Session is one consumer of the cache for a fixed endpoint set.
type Session struct {
	cache           *Cache
	endpoints       []core.Endpoint
	refreshInterval time.Duration
	onChange        func(State)

	// writeMu serializes every externally visible write (state and store)
	// with Unmount, so nothing is written once Unmount has returned.
	writeMu  sync.Mutex
	mounted  bool
	stop     chan struct{}
	stopOnce sync.Once

	mu    sync.RWMutex
	state State
	gen   uint64
	done  chan struct{}
}

func newSession(c *Cache, endpoints []core.Endpoint, opts ...SessionOption) *Session {
	closed := make(chan struct{})
	close(closed)

	s := &Session{
		cache:     c,
		endpoints: endpoints,
		mounted:   true,
		stop:      make(chan struct{}),
		state:     State{Loading: true},
		done:      closed,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// start runs the synchronous cache lookup, publishes its result and launches
// the network batch. The returned channel closes when the batch settles.
func (s *Session) start(ctx context.Context) (<-chan struct{}, error) {
	bctx := context.WithoutCancel(ctx)
	started := time.Now()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !s.mounted {
		return nil, ErrUnmounted
	}

	fallbacks := make([]*core.Payload, len(s.endpoints))
	allFresh := len(s.endpoints) > 0
	for i, ep := range s.endpoints {
		r := s.cache.read(bctx, ep)
		fallbacks[i] = r.payload
		if !r.fresh {
			allFresh = false
		}
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	done := make(chan struct{})
	s.done = done
	s.state.Error = ""

	servedFromCache := false
	if allFresh {
		agg := s.state.Data.Clone()
		usable := false
		for _, p := range fallbacks {
			if p.Apply(&agg) {
				usable = true
			}
		}
		if usable {
			s.state.Data = agg
			s.state.UsingCache = true
			servedFromCache = true
		}
	}
	s.state.Loading = !servedFromCache
	snapshot := s.state.clone()
	s.mu.Unlock()

	slog.Debug("steam fetch started",
		"endpoints", core.EndpointNames(s.endpoints), "served_from_cache", servedFromCache)
	s.notify(snapshot)

	go s.revalidate(bctx, gen, fallbacks, servedFromCache, done, started)
	return done, nil
}

func (s *Session) revalidate(ctx context.Context, gen uint64, fallbacks []*core.Payload, servedFromCache bool, done chan struct{}, started time.Time) {
	defer close(done)

	results := s.cache.fetchAll(ctx, s.endpoints, fallbacks)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if !s.mounted {
		slog.Debug("discarding steam fetch results after unmount", "endpoints", core.EndpointNames(s.endpoints))
		s.cache.hooks.BatchSettled(BatchUnmounted, time.Since(started))
		return
	}

	// a superseded batch still persists what it fetched; only the state write
	// belongs to the newest batch
	for _, r := range results {
		if r.Origin != OriginNetwork {
			continue
		}
		if err := s.cache.Persist(ctx, r.Endpoint, r.raw); err != nil {
			slog.Warn("failed to persist steam cache entry", "endpoint", r.Endpoint.String(), "error", err)
		}
	}

	s.mu.RLock()
	current := s.gen == gen
	s.mu.RUnlock()
	if !current {
		s.cache.hooks.BatchSettled(BatchSuperseded, time.Since(started))
		return
	}

	s.mu.Lock()
	agg := s.state.Data.Clone()
	usable, usedFallback := false, false
	for _, r := range results {
		if r.Payload == nil {
			continue
		}
		if r.Payload.Apply(&agg) {
			usable = true
		}
		if r.Origin == OriginCache {
			usedFallback = true
		}
	}

	batchResult := BatchEmpty
	s.state.Loading = false
	if usable {
		s.state.Data = agg
		s.state.UsingCache = usedFallback
		batchResult = BatchApplied
	} else if !servedFromCache && s.state.Data.IsEmpty() {
		s.state.Error = aggregateError(results).Message
	}
	snapshot := s.state.clone()
	s.mu.Unlock()

	if batchResult == BatchEmpty {
		slog.Warn("steam fetch produced no usable data",
			"endpoints", core.EndpointNames(s.endpoints), "error_shown", snapshot.Error != "")
	}
	s.cache.hooks.BatchSettled(batchResult, time.Since(started))
	s.notify(snapshot)
}

func (s *Session) notify(state State) {
	if s.onChange != nil {
		s.onChange(state)
	}
}

func (s *Session) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if _, err := s.Refetch(ctx); err != nil {
				return
			}
		}
	}
}

// Refetch re-runs the whole sequence, keeping the current state as the base
// for non-destructive aggregation. A batch still in flight is superseded.
func (s *Session) Refetch(ctx context.Context) (<-chan struct{}, error) {
	return s.start(ctx)
}

// Unmount stops the session. Results of batches still in flight are computed
// but discarded, and neither state nor the store is written afterwards.
func (s *Session) Unmount() {
	s.writeMu.Lock()
	s.mounted = false
	s.writeMu.Unlock()
	s.stopOnce.Do(func() { close(s.stop) })
}

// Mounted reports whether Unmount has not been called.
func (s *Session) Mounted() bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.mounted
}

// State returns a snapshot of the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Done returns a channel closed when the latest batch settles.
func (s *Session) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

// Wait blocks until the latest batch settles or ctx is done, and returns the
// state at that point.
func (s *Session) Wait(ctx context.Context) (State, error) {
	select {
	case <-s.Done():
		return s.State(), nil
	case <-ctx.Done():
		return s.State(), ctx.Err()
	}
}

// Endpoints returns the session's endpoint set in request order.
func (s *Session) Endpoints() []core.Endpoint {
	return append([]core.Endpoint(nil), s.endpoints...)
}

// Stats computes library statistics from the current state, or nil when no
// game library is loaded.
func (s *Session) Stats() *Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ComputeStats(s.state.Data)
}

// IsOnline reports whether the loaded profile is online.
func (s *Session) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Data.IsOnline()
}

// CurrentGame returns the most recently played game, or nil.
func (s *Session) CurrentGame() *core.Game {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Data.CurrentGame()
}
