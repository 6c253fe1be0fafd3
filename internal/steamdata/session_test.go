package steamdata

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steamdash/internal/core"
)

var (
	profileAndRecent = []core.Endpoint{core.EndpointProfile, core.EndpointRecentGames}
	portal           = core.Game{AppID: 400, Name: "Portal", PlaytimeForever: 300, Playtime2Weeks: 30}
	halfLife         = core.Game{AppID: 220, Name: "Half-Life 2", PlaytimeForever: 900, Playtime2Weeks: 120}
)

func TestFetch_ColdCacheAllSucceed(t *testing.T) {
	gate := make(chan struct{})
	env := newTestEnv(t, gatedFetcher(gate, map[core.Endpoint][]byte{
		core.EndpointProfile:     profileDoc("gabe"),
		core.EndpointRecentGames: gamesDoc(halfLife, portal),
	}))

	s := env.cache.Fetch(context.Background(), profileAndRecent)

	initial := s.State()
	assert.True(t, initial.Loading)
	assert.False(t, initial.UsingCache)
	assert.True(t, initial.Data.IsEmpty())

	close(gate)
	state := wait(t, s)

	assert.False(t, state.Loading)
	assert.False(t, state.UsingCache)
	assert.Empty(t, state.Error)
	require.NotNil(t, state.Data.Profile)
	assert.Equal(t, "gabe", state.Data.Profile.PersonaName)
	assert.Equal(t, []core.Game{halfLife, portal}, state.Data.RecentGames)

	for _, ep := range profileAndRecent {
		entry, ok := env.storedEntry(t, ep)
		require.True(t, ok, "%s persisted", ep)
		assert.Equal(t, env.clock.Now().UnixMilli(), entry.Timestamp)
	}
}

func TestFetch_WarmCacheServesBeforeNetwork(t *testing.T) {
	gate := make(chan struct{})
	env := newTestEnv(t, gatedFetcher(gate, map[core.Endpoint][]byte{
		core.EndpointProfile:     profileDoc("gabe-new"),
		core.EndpointRecentGames: gamesDoc(portal),
	}))
	env.seed(t, core.EndpointProfile, profileDoc("gabe-old"))
	env.seed(t, core.EndpointRecentGames, gamesDoc(halfLife))
	env.clock.Advance(time.Minute)

	s := env.cache.Fetch(context.Background(), profileAndRecent)

	// the fetcher is still blocked, so this can only come from the store
	cached := s.State()
	assert.False(t, cached.Loading)
	assert.True(t, cached.UsingCache)
	require.NotNil(t, cached.Data.Profile)
	assert.Equal(t, "gabe-old", cached.Data.Profile.PersonaName)
	assert.Equal(t, []core.Game{halfLife}, cached.Data.RecentGames)

	close(gate)
	state := wait(t, s)

	assert.False(t, state.Loading)
	assert.False(t, state.UsingCache)
	assert.Equal(t, "gabe-new", state.Data.Profile.PersonaName)
	assert.Equal(t, []core.Game{portal}, state.Data.RecentGames)
}

func TestFetch_PartiallyWarmCacheWaitsForNetwork(t *testing.T) {
	gate := make(chan struct{})
	env := newTestEnv(t, gatedFetcher(gate, map[core.Endpoint][]byte{
		core.EndpointProfile:     profileDoc("gabe"),
		core.EndpointRecentGames: gamesDoc(portal),
	}))
	env.seed(t, core.EndpointProfile, profileDoc("gabe"))

	s := env.cache.Fetch(context.Background(), profileAndRecent)

	initial := s.State()
	assert.True(t, initial.Loading)
	assert.True(t, initial.Data.IsEmpty(), "partial cache hits are not served")

	close(gate)
	state := wait(t, s)
	assert.False(t, state.Loading)
	assert.Equal(t, []core.Game{portal}, state.Data.RecentGames)
}

func TestFetch_WarmCacheOneEndpointFails(t *testing.T) {
	env := newTestEnv(t, staticFetcher(map[core.Endpoint][]byte{
		core.EndpointProfile: profileDoc("gabe-new"),
	}))
	env.seed(t, core.EndpointProfile, profileDoc("gabe-old"))
	env.seed(t, core.EndpointRecentGames, gamesDoc(halfLife))
	seededAt := env.clock.Now().UnixMilli()
	env.clock.Advance(30 * time.Second)

	s := env.cache.Fetch(context.Background(), profileAndRecent)
	state := wait(t, s)

	assert.False(t, state.Loading)
	assert.Empty(t, state.Error)
	assert.True(t, state.UsingCache, "recent games came from the fallback")
	require.NotNil(t, state.Data.Profile)
	assert.Equal(t, "gabe-new", state.Data.Profile.PersonaName)
	assert.Equal(t, []core.Game{halfLife}, state.Data.RecentGames)

	profileEntry, ok := env.storedEntry(t, core.EndpointProfile)
	require.True(t, ok)
	assert.Equal(t, env.clock.Now().UnixMilli(), profileEntry.Timestamp)

	recentEntry, ok := env.storedEntry(t, core.EndpointRecentGames)
	require.True(t, ok)
	assert.Equal(t, seededAt, recentEntry.Timestamp, "failed endpoint is not rewritten")
}

func TestFetch_ExpiredEntryIsFailureFallback(t *testing.T) {
	env := newTestEnv(t, staticFetcher(nil))
	env.seed(t, core.EndpointLevel, levelDoc(17))
	env.clock.Advance(10 * time.Minute)

	s := env.cache.Fetch(context.Background(), []core.Endpoint{core.EndpointLevel})
	assert.True(t, s.State().Loading, "expired entries are not served up front")

	state := wait(t, s)
	assert.Empty(t, state.Error)
	assert.True(t, state.UsingCache)
	require.NotNil(t, state.Data.Level)
	assert.Equal(t, 17, *state.Data.Level)

	_, ok := env.storedEntry(t, core.EndpointLevel)
	assert.False(t, ok, "expired entry was deleted on read")
}

func TestFetch_MalformedResponseFallsBack(t *testing.T) {
	env := newTestEnv(t, staticFetcher(map[core.Endpoint][]byte{
		core.EndpointLevel: []byte(`{"response":{"player_level":"high"}}`),
	}))
	env.seed(t, core.EndpointLevel, levelDoc(5))
	env.clock.Advance(10 * time.Minute)

	state := wait(t, env.cache.Fetch(context.Background(), []core.Endpoint{core.EndpointLevel}))

	assert.Empty(t, state.Error)
	assert.True(t, state.UsingCache)
	require.NotNil(t, state.Data.Level)
	assert.Equal(t, 5, *state.Data.Level)
}

func TestFetch_ColdCacheAllFail(t *testing.T) {
	env := newTestEnv(t, staticFetcher(nil))

	state := wait(t, env.cache.Fetch(context.Background(), profileAndRecent))

	assert.False(t, state.Loading)
	assert.False(t, state.UsingCache)
	assert.True(t, state.Data.IsEmpty())
	assert.Contains(t, state.Error, "no Steam data received from any endpoint")
	assert.Contains(t, state.Error, "connection refused")
	assert.Equal(t, []string{BatchEmpty}, env.hooks.Batches())
}

func TestFetch_UnusablePayloadsYieldError(t *testing.T) {
	env := newTestEnv(t, staticFetcher(map[core.Endpoint][]byte{
		core.EndpointProfile:     []byte(`{"response":{"players":[]}}`),
		core.EndpointRecentGames: gamesDoc(),
	}))

	state := wait(t, env.cache.Fetch(context.Background(), profileAndRecent))

	assert.True(t, state.Data.IsEmpty())
	assert.NotEmpty(t, state.Error)
}

func TestRefetch_NonDestructiveAggregation(t *testing.T) {
	var failProfile atomic.Bool
	fetcher := newFakeFetcher(func(_ context.Context, ep core.Endpoint, _ int) ([]byte, error) {
		switch ep {
		case core.EndpointProfile:
			if failProfile.Load() {
				return nil, errNetwork
			}
			return profileDoc("gabe"), nil
		case core.EndpointLevel:
			return levelDoc(42), nil
		}
		return nil, errNetwork
	})
	env := newTestEnv(t, fetcher)
	ctx := context.Background()

	s := env.cache.Fetch(ctx, []core.Endpoint{core.EndpointProfile, core.EndpointLevel})
	first := wait(t, s)
	require.NotNil(t, first.Data.Profile)

	_, err := env.cache.ClearCache(ctx)
	require.NoError(t, err)
	failProfile.Store(true)

	_, err = s.Refetch(ctx)
	require.NoError(t, err)
	second := wait(t, s)

	assert.Empty(t, second.Error)
	assert.False(t, second.UsingCache)
	require.NotNil(t, second.Data.Profile, "profile survives a batch where it failed")
	assert.Equal(t, "gabe", second.Data.Profile.PersonaName)
	assert.Equal(t, 42, *second.Data.Level)
}

func TestRefetch_AllFailKeepsPreviousData(t *testing.T) {
	var fail atomic.Bool
	fetcher := newFakeFetcher(func(context.Context, core.Endpoint, int) ([]byte, error) {
		if fail.Load() {
			return nil, errNetwork
		}
		return profileDoc("gabe"), nil
	})
	env := newTestEnv(t, fetcher)
	ctx := context.Background()

	s := env.cache.Fetch(ctx, []core.Endpoint{core.EndpointProfile})
	before := wait(t, s)

	_, err := env.cache.ClearCache(ctx)
	require.NoError(t, err)
	fail.Store(true)

	_, err = s.Refetch(ctx)
	require.NoError(t, err)
	after := wait(t, s)

	assert.Equal(t, before.Data, after.Data)
	assert.Empty(t, after.Error, "no error while data is still displayed")
	assert.False(t, after.Loading)
}

func TestFetch_TimeoutCountsAsFailure(t *testing.T) {
	blocked := make(chan struct{})
	t.Cleanup(func() { close(blocked) })

	env := newTestEnv(t, gatedFetcher(blocked, nil), func(o *Options) {
		o.Timeout = 20 * time.Millisecond
	})

	started := time.Now()
	state := wait(t, env.cache.Fetch(context.Background(), []core.Endpoint{core.EndpointProfile}))

	assert.Less(t, time.Since(started), 2*time.Second)
	assert.NotEmpty(t, state.Error)
	assert.False(t, state.Loading)
}

func TestFetch_PanickingFetcherIsContained(t *testing.T) {
	env := newTestEnv(t, newFakeFetcher(func(context.Context, core.Endpoint, int) ([]byte, error) {
		panic("boom")
	}))
	env.seed(t, core.EndpointLevel, levelDoc(9))
	env.clock.Advance(time.Hour)

	state := wait(t, env.cache.Fetch(context.Background(), []core.Endpoint{core.EndpointLevel}))

	assert.True(t, state.UsingCache)
	assert.Equal(t, 9, *state.Data.Level)
}

func TestFetch_DuplicateEndpointsCalledOnce(t *testing.T) {
	fetcher := staticFetcher(map[core.Endpoint][]byte{core.EndpointLevel: levelDoc(3)})
	env := newTestEnv(t, fetcher)

	s := env.cache.Fetch(context.Background(), []core.Endpoint{core.EndpointLevel, core.EndpointLevel})
	wait(t, s)

	assert.Equal(t, 1, fetcher.Calls(core.EndpointLevel))
	assert.Equal(t, []core.Endpoint{core.EndpointLevel}, s.Endpoints())
}

func TestFetch_OnChangeSequence(t *testing.T) {
	var (
		mu     sync.Mutex
		states []State
	)
	env := newTestEnv(t, staticFetcher(map[core.Endpoint][]byte{
		core.EndpointProfile: profileDoc("gabe"),
	}))

	s := env.cache.Fetch(context.Background(), []core.Endpoint{core.EndpointProfile},
		WithOnChange(func(st State) {
			mu.Lock()
			states = append(states, st)
			mu.Unlock()
		}))
	wait(t, s)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, states, 2)
	assert.True(t, states[0].Loading)
	assert.False(t, states[1].Loading)
	assert.Equal(t, "gabe", states[1].Data.Profile.PersonaName)
}

func TestUnmount_DiscardsInFlightBatch(t *testing.T) {
	gate := make(chan struct{})
	env := newTestEnv(t, gatedFetcher(gate, map[core.Endpoint][]byte{
		core.EndpointProfile:     profileDoc("gabe"),
		core.EndpointRecentGames: gamesDoc(portal),
	}))

	var changes atomic.Int32
	s := env.cache.Fetch(context.Background(), profileAndRecent,
		WithOnChange(func(State) { changes.Add(1) }))
	done := s.Done()
	before := s.State()
	changesBefore := changes.Load()

	s.Unmount()
	assert.False(t, s.Mounted())
	close(gate)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not settle")
	}

	assert.Equal(t, before, s.State())
	assert.Equal(t, changesBefore, changes.Load())
	for _, ep := range profileAndRecent {
		_, ok := env.storedEntry(t, ep)
		assert.False(t, ok, "%s must not be persisted after unmount", ep)
	}
	assert.Equal(t, []string{BatchUnmounted}, env.hooks.Batches())

	_, err := s.Refetch(context.Background())
	assert.ErrorIs(t, err, ErrUnmounted)
}

func TestUnmount_Idempotent(t *testing.T) {
	env := newTestEnv(t, staticFetcher(nil))
	s := env.cache.Fetch(context.Background(), nil)
	s.Unmount()
	s.Unmount()
	assert.False(t, s.Mounted())
}

func TestRefetch_SupersedesInFlightBatch(t *testing.T) {
	firstGate := make(chan struct{})
	fetcher := newFakeFetcher(func(_ context.Context, _ core.Endpoint, call int) ([]byte, error) {
		if call == 1 {
			<-firstGate
			return profileDoc("first"), nil
		}
		return profileDoc("second"), nil
	})
	env := newTestEnv(t, fetcher)
	ctx := context.Background()

	s := env.cache.Fetch(ctx, []core.Endpoint{core.EndpointProfile})
	firstDone := s.Done()

	secondDone, err := s.Refetch(ctx)
	require.NoError(t, err)
	<-secondDone
	assert.Equal(t, "second", s.State().Data.Profile.PersonaName)

	close(firstGate)
	<-firstDone

	assert.Equal(t, "second", s.State().Data.Profile.PersonaName, "superseded batch does not touch state")
	assert.ElementsMatch(t, []string{BatchApplied, BatchSuperseded}, env.hooks.Batches())

	// the late batch's successful fetch is still persisted, last write wins
	p, ok := env.cache.Lookup(ctx, core.EndpointProfile)
	require.True(t, ok)
	assert.Equal(t, "first", p.Profile.PersonaName)
}

func TestFetch_RefreshLoop(t *testing.T) {
	fetcher := staticFetcher(map[core.Endpoint][]byte{core.EndpointLevel: levelDoc(1)})
	env := newTestEnv(t, fetcher)

	s := env.cache.Fetch(context.Background(), []core.Endpoint{core.EndpointLevel},
		WithRefreshInterval(10*time.Millisecond))

	require.Eventually(t, func() bool {
		return fetcher.Calls(core.EndpointLevel) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	s.Unmount()
	settled := fetcher.Calls(core.EndpointLevel)
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, fetcher.Calls(core.EndpointLevel), settled+1, "refresh stops after unmount")
}

func TestFetch_RefreshLoopStopsWithContext(t *testing.T) {
	fetcher := staticFetcher(map[core.Endpoint][]byte{core.EndpointLevel: levelDoc(1)})
	env := newTestEnv(t, fetcher)
	ctx, cancel := context.WithCancel(context.Background())

	s := env.cache.Fetch(ctx, []core.Endpoint{core.EndpointLevel}, WithRefreshInterval(10*time.Millisecond))
	require.Eventually(t, func() bool {
		return fetcher.Calls(core.EndpointLevel) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	settled := fetcher.Calls(core.EndpointLevel)
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, fetcher.Calls(core.EndpointLevel), settled+1)
	assert.True(t, s.Mounted(), "cancelling the context does not unmount")
}

func TestSession_DerivedViews(t *testing.T) {
	online := []byte(`{"response":{"players":[{"steamid":"1","personaname":"gabe","personastate":1}]}}`)
	env := newTestEnv(t, staticFetcher(map[core.Endpoint][]byte{
		core.EndpointProfile:     online,
		core.EndpointRecentGames: gamesDoc(halfLife, portal),
		core.EndpointGameLibrary: gamesDoc(portal, halfLife),
	}))

	s := env.cache.Fetch(context.Background(),
		[]core.Endpoint{core.EndpointProfile, core.EndpointRecentGames, core.EndpointGameLibrary})
	assert.Nil(t, s.Stats(), "no library before the batch settles")
	wait(t, s)

	assert.True(t, s.IsOnline())
	require.NotNil(t, s.CurrentGame())
	assert.Equal(t, halfLife.AppID, s.CurrentGame().AppID)

	stats := s.Stats()
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.TotalGames)
	assert.Equal(t, halfLife.AppID, stats.TopGames[0].AppID)
}

func TestState_JSON(t *testing.T) {
	level := 7
	b, err := json.Marshal(State{Data: core.Aggregate{Level: &level}, UsingCache: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"level":7},"loading":false,"using_cache":true}`, string(b))
}
