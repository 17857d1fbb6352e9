package fusion

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// testConfig keeps timeouts short so the suite stays fast.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SourceTimeout = 60 * time.Millisecond
	cfg.GlobalDeadline = 400 * time.Millisecond
	cfg.RerankBudget = 80 * time.Millisecond
	return cfg
}

type fourAdapters struct {
	vector, lexical, local, global *fakeAdapter
}

func newFour() fourAdapters {
	return fourAdapters{
		vector:  &fakeAdapter{ids: []string{"c1", "c2", "c4"}},
		lexical: &fakeAdapter{ids: []string{"c2", "c3"}},
		local:   &fakeAdapter{ids: []string{"c4", "c1"}},
		global: &fakeAdapter{
			ids:  []string{"c5"},
			meta: map[string]map[string]any{"c5": {MetaCommunityID: "k1"}},
		},
	}
}

func (f fourAdapters) registry() *Registry {
	return NewRegistry().
		MustRegister(SourceVector, f.vector).
		MustRegister(SourceLexical, f.lexical).
		MustRegister(SourceGraphLocal, f.local).
		MustRegister(SourceGraphGlobal, f.global)
}

func (f fourAdapters) totalCalls() int32 {
	return f.vector.calls.Load() + f.lexical.calls.Load() + f.local.calls.Load() + f.global.calls.Load()
}

func allWeights() RoutingWeights {
	return RoutingWeights{SourceVector: 1, SourceLexical: 1, SourceGraphLocal: 0.5, SourceGraphGlobal: 0.5}
}

func newTestEngine(t *testing.T, reg *Registry, opts ...EngineOption) *Engine {
	t.Helper()
	opts = append([]EngineOption{WithConfig(testConfig())}, opts...)
	e, err := NewEngine(reg, opts...)
	require.NoError(t, err)
	return e
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(nil)
	assert.ErrorIs(t, err, ErrNilRegistry)

	_, err = NewEngine(NewRegistry())
	assert.ErrorIs(t, err, ErrNoAdapters)
}

func TestFuse_EndToEnd(t *testing.T) {
	reg := NewRegistry().
		MustRegister(SourceVector, &fakeAdapter{ids: []string{"c1", "c2"}}).
		MustRegister(SourceLexical, &fakeAdapter{ids: []string{"c2", "c3"}})
	e := newTestEngine(t, reg)

	weights := RoutingWeights{SourceVector: 1, SourceLexical: 1, SourceGraphLocal: 0, SourceGraphGlobal: 0}
	res, err := e.Fuse(context.Background(), NewQuery("who owns billing"), weights, FuseOptions{})

	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c1", "c3"}, chunkIDs(res.Items))
	assert.Empty(t, res.DegradedSources)
	assert.NotNil(t, res.DegradedSources)
	assert.False(t, res.Reranked)
	assert.NotEmpty(t, res.RequestID)
}

func TestFuse_GraphGlobalTimeoutDegrades(t *testing.T) {
	// Given: graph_global answers far past its soft timeout
	f := newFour()
	f.global.delay = 2 * time.Second
	e := newTestEngine(t, f.registry())

	// When: fusing over all four sources
	start := time.Now()
	res, err := e.Fuse(context.Background(), NewQuery("q"), allWeights(), FuseOptions{})

	// Then: the request succeeds with graph_global degraded
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 300*time.Millisecond)
	assert.Equal(t, []string{"graph_global"}, res.DegradedSources)
	assert.NotContains(t, chunkIDs(res.Items), "c5")
	assert.ElementsMatch(t, []string{"c1", "c2", "c3", "c4"}, chunkIDs(res.Items))
}

func TestFuse_AdapterIgnoringCancellationStillBounded(t *testing.T) {
	f := newFour()
	f.lexical.delay = time.Second
	f.lexical.ignoreCtx = true
	e := newTestEngine(t, f.registry())

	start := time.Now()
	res, err := e.Fuse(context.Background(), NewQuery("q"), allWeights(), FuseOptions{})

	require.NoError(t, err)
	assert.Less(t, time.Since(start), 300*time.Millisecond)
	assert.Equal(t, []string{"lexical"}, res.DegradedSources)
}

func TestFuse_AllSourcesFailed(t *testing.T) {
	boom := errors.New("connection refused")
	f := newFour()
	f.vector.err = boom
	f.lexical.err = boom
	f.local.err = amerrors.InvalidQuery("graph_local", errors.New("no entities"))
	f.global.delay = time.Second
	e := newTestEngine(t, f.registry())

	res, err := e.Fuse(context.Background(), NewQuery("q"), allWeights(), FuseOptions{})

	require.Error(t, err)
	assert.ErrorIs(t, err, amerrors.ErrAllSourcesFailed)
	assert.True(t, amerrors.IsFatal(err))
	require.NotNil(t, res)
	assert.Empty(t, res.Items)
	assert.NotNil(t, res.Items)
	assert.Equal(t, []string{"vector", "lexical", "graph_local", "graph_global"}, res.DegradedSources)
	assert.ErrorIs(t, err, amerrors.ErrSourceTimeout, "per-source causes are joined")
}

func TestFuse_InvalidWeightsRejectedBeforeFanOut(t *testing.T) {
	tests := []struct {
		name    string
		weights RoutingWeights
	}{
		{"negative", RoutingWeights{SourceVector: 1, SourceLexical: -0.5}},
		{"all zero", RoutingWeights{SourceVector: 0}},
		{"empty", RoutingWeights{}},
		{"unknown source", RoutingWeights{"web": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFour()
			e := newTestEngine(t, f.registry())

			res, err := e.Fuse(context.Background(), NewQuery("q"), tt.weights, FuseOptions{})

			assert.ErrorIs(t, err, amerrors.ErrInvalidInput)
			assert.Equal(t, int32(0), f.totalCalls())
			require.NotNil(t, res)
			assert.Empty(t, res.Items)
		})
	}
}

func TestFuse_InvalidQueryRejected(t *testing.T) {
	f := newFour()
	e := newTestEngine(t, f.registry())

	_, err := e.Fuse(context.Background(), NewQuery("   "), allWeights(), FuseOptions{})

	assert.ErrorIs(t, err, amerrors.ErrInvalidInput)
	assert.Equal(t, int32(0), f.totalCalls())
}

func TestFuse_UnregisteredSourceDegrades(t *testing.T) {
	reg := NewRegistry().MustRegister(SourceVector, &fakeAdapter{ids: []string{"a"}})
	e := newTestEngine(t, reg)

	res, err := e.Fuse(context.Background(), NewQuery("q"),
		RoutingWeights{SourceVector: 1, SourceGraphLocal: 1}, FuseOptions{})

	require.NoError(t, err)
	assert.Equal(t, []string{"graph_local"}, res.DegradedSources)
	assert.Equal(t, []string{"a"}, chunkIDs(res.Items))
}

func TestFuse_AdapterPanicDegrades(t *testing.T) {
	reg := NewRegistry().
		MustRegister(SourceVector, &fakeAdapter{ids: []string{"a"}}).
		MustRegister(SourceLexical, AdapterFunc(func(context.Context, Query, int) ([]RankedItem, error) {
			panic("index corrupted")
		}))
	e := newTestEngine(t, reg)

	res, err := e.Fuse(context.Background(), NewQuery("q"),
		RoutingWeights{SourceVector: 1, SourceLexical: 1}, FuseOptions{})

	require.NoError(t, err)
	assert.Equal(t, []string{"lexical"}, res.DegradedSources)
}

func TestFuse_GlobalDeadlineCapsSoftTimeouts(t *testing.T) {
	f := newFour()
	f.global.delay = 2 * time.Second
	cfg := testConfig()
	cfg.GlobalDeadline = 100 * time.Millisecond
	e := newTestEngine(t, f.registry(), WithConfig(cfg))

	start := time.Now()
	res, err := e.Fuse(context.Background(), NewQuery("q"), allWeights(), FuseOptions{
		SourceTimeouts: map[SourceName]time.Duration{SourceGraphGlobal: 5 * time.Second},
	})

	require.NoError(t, err)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Equal(t, []string{"graph_global"}, res.DegradedSources)
}

func TestFuse_QueryDeadlineTightensWindow(t *testing.T) {
	f := newFour()
	f.global.delay = 2 * time.Second
	cfg := testConfig()
	cfg.SourceTimeout = time.Second
	e := newTestEngine(t, f.registry(), WithConfig(cfg))

	q := NewQuery("q").WithDeadline(time.Now().Add(80 * time.Millisecond))
	start := time.Now()
	res, err := e.Fuse(context.Background(), q, allWeights(), FuseOptions{})

	require.NoError(t, err)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Contains(t, res.DegradedSources, "graph_global")
}

func TestFuse_CancellationPropagates(t *testing.T) {
	// Given: every adapter blocks until its context ends
	var mu sync.Mutex
	observed := make(map[SourceName]time.Time)
	blocking := func(src SourceName) Adapter {
		return AdapterFunc(func(ctx context.Context, _ Query, _ int) ([]RankedItem, error) {
			<-ctx.Done()
			mu.Lock()
			observed[src] = time.Now()
			mu.Unlock()
			return nil, ctx.Err()
		})
	}
	reg := NewRegistry()
	for _, s := range AllSources() {
		reg.MustRegister(s, blocking(s))
	}
	cfg := testConfig()
	cfg.SourceTimeout = 5 * time.Second
	cfg.GlobalDeadline = 5 * time.Second
	e := newTestEngine(t, reg, WithConfig(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	var cancelledAt time.Time
	time.AfterFunc(30*time.Millisecond, func() {
		cancelledAt = time.Now()
		cancel()
	})

	// When: the caller cancels mid-flight
	_, err := e.Fuse(ctx, NewQuery("q"), allWeights(), FuseOptions{})
	returnedAt := time.Now()

	// Then: Fuse returns the context error promptly
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, returnedAt.Sub(cancelledAt), 50*time.Millisecond)

	// And: every adapter observed the cancellation promptly
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(observed) == 4
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	for src, at := range observed {
		assert.Less(t, at.Sub(cancelledAt), 50*time.Millisecond, "source %s", src)
	}
}

func TestFuse_Deterministic(t *testing.T) {
	f := newFour()
	// Build a tie between c3 and c5 that only the ChunkID rule resolves.
	f.lexical.ids = []string{"c2", "c3"}
	f.global.ids = []string{"c6", "c5"}
	weights := RoutingWeights{SourceVector: 1, SourceLexical: 1, SourceGraphLocal: 1, SourceGraphGlobal: 1}
	e := newTestEngine(t, f.registry(), WithCommunityIndex(staticSummaries{"k1": "billing"}))

	first, err := e.Fuse(context.Background(), NewQuery("q"), weights, FuseOptions{})
	require.NoError(t, err)
	second, err := e.Fuse(context.Background(), NewQuery("q"), weights, FuseOptions{})
	require.NoError(t, err)

	a, err := json.Marshal(first.Items)
	require.NoError(t, err)
	b, err := json.Marshal(second.Items)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.NotEqual(t, first.RequestID, second.RequestID)
}

func TestFuse_CommunitySummaryAttached(t *testing.T) {
	f := newFour()
	e := newTestEngine(t, f.registry(), WithCommunityIndex(staticSummaries{"k1": "billing team"}))

	res, err := e.Fuse(context.Background(), NewQuery("q"), allWeights(), FuseOptions{})

	require.NoError(t, err)
	for _, it := range res.Items {
		if it.ChunkID == "c5" {
			assert.Equal(t, "billing team", it.Metadata[MetaCommunitySummary])
			return
		}
	}
	t.Fatal("c5 missing from results")
}

func TestFuse_TopNOption(t *testing.T) {
	f := newFour()
	e := newTestEngine(t, f.registry())

	res, err := e.Fuse(context.Background(), NewQuery("q"), allWeights(), FuseOptions{TopN: 2})

	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
}

func TestFuse_RerankReorders(t *testing.T) {
	f := newFour()
	var got []string
	rr := RerankerFunc(func(_ context.Context, query string, candidates []string) ([]RerankScore, error) {
		got = candidates
		scores := make([]RerankScore, len(candidates))
		for i := range candidates {
			scores[i] = RerankScore{Index: i, Score: float64(i)}
		}
		return scores, nil
	})
	e := newTestEngine(t, f.registry(), WithReranker(rr))

	base, err := e.Fuse(context.Background(), NewQuery("q"), allWeights(), FuseOptions{Rerank: boolPtr(false)})
	require.NoError(t, err)
	res, err := e.Fuse(context.Background(), NewQuery("q"), allWeights(), FuseOptions{})
	require.NoError(t, err)

	assert.True(t, res.Reranked)
	require.Len(t, got, len(base.Items))
	assert.Equal(t, "text of "+base.Items[0].ChunkID, got[0])

	want := chunkIDs(base.Items)
	for i, j := 0, len(want)-1; i < j; i, j = i+1, j-1 {
		want[i], want[j] = want[j], want[i]
	}
	assert.Equal(t, want, chunkIDs(res.Items))
	assert.ElementsMatch(t, chunkIDs(base.Items), chunkIDs(res.Items))
}

func TestFuse_RerankTimeoutFallsBack(t *testing.T) {
	// Given: a reranker that never answers within its budget
	f := newFour()
	rr := RerankerFunc(func(ctx context.Context, _ string, _ []string) ([]RerankScore, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := newTestEngine(t, f.registry(), WithReranker(rr))

	base, err := e.Fuse(context.Background(), NewQuery("q"), allWeights(), FuseOptions{Rerank: boolPtr(false)})
	require.NoError(t, err)

	// When: fusing with rerank on
	start := time.Now()
	res, err := e.Fuse(context.Background(), NewQuery("q"), allWeights(), FuseOptions{})

	// Then: RRF order is kept and the budget bounded the wait
	require.NoError(t, err)
	assert.False(t, res.Reranked)
	assert.Equal(t, chunkIDs(base.Items), chunkIDs(res.Items))
	assert.Less(t, time.Since(start), 300*time.Millisecond)
}

func TestFuse_RerankInvalidIndexFallsBack(t *testing.T) {
	f := newFour()
	rr := RerankerFunc(func(context.Context, string, []string) ([]RerankScore, error) {
		return []RerankScore{{Index: 99, Score: 1}}, nil
	})
	e := newTestEngine(t, f.registry(), WithReranker(rr))

	res, err := e.Fuse(context.Background(), NewQuery("q"), allWeights(), FuseOptions{})

	require.NoError(t, err)
	assert.False(t, res.Reranked)
}

func TestFuse_TextResolverFillsCandidates(t *testing.T) {
	reg := NewRegistry().MustRegister(SourceVector, AdapterFunc(func(context.Context, Query, int) ([]RankedItem, error) {
		return []RankedItem{{ChunkID: "a", Rank: 1}, {ChunkID: "b", Rank: 2}}, nil
	}))
	var got []string
	rr := RerankerFunc(func(_ context.Context, _ string, c []string) ([]RerankScore, error) {
		got = c
		return nil, nil
	})
	resolver := textMap{"a": "alpha text"}
	e := newTestEngine(t, reg, WithReranker(rr), WithTextResolver(resolver))

	res, err := e.Fuse(context.Background(), NewQuery("q"), RoutingWeights{SourceVector: 1}, FuseOptions{})

	require.NoError(t, err)
	assert.True(t, res.Reranked)
	assert.Equal(t, []string{"alpha text", "b"}, got)
}

func TestFuse_RecordsMetrics(t *testing.T) {
	f := newFour()
	f.global.err = errors.New("down")
	rec := &recorder{}
	e := newTestEngine(t, f.registry(), WithMetrics(rec), WithRequestIDs(func() string { return "req-1" }))

	_, err := e.Fuse(context.Background(), NewQuery("q"), allWeights(), FuseOptions{})
	require.NoError(t, err)

	require.Len(t, rec.events, 1)
	ev := rec.events[0]
	assert.Equal(t, "req-1", ev.RequestID)
	assert.Equal(t, []SourceName{SourceGraphGlobal}, ev.DegradedSources)
	assert.Len(t, ev.Sources, 4)
	assert.Equal(t, "no_reranker", ev.RerankSkipped)
	assert.Empty(t, ev.ErrorCode)
}

func TestFuse_ConcurrentCalls(t *testing.T) {
	f := newFour()
	e := newTestEngine(t, f.registry())

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Fuse(context.Background(), NewQuery("q"), allWeights(), FuseOptions{}); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(0), failures.Load())
	assert.Equal(t, int32(16), f.vector.calls.Load())
}

type textMap map[string]string

func (m textMap) ChunkTexts(_ context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, id := range ids {
		if v, ok := m[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

type recorder struct {
	mu     sync.Mutex
	events []FusionEvent
}

func (r *recorder) RecordFusion(ev FusionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}
