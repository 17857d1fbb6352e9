package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/classifier"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/fusion"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// =============================================================================
// Mocks
// =============================================================================

type mockFuser struct {
	calls atomic.Int32

	mu       sync.Mutex
	lastQ    fusion.Query
	lastW    fusion.RoutingWeights
	lastOpts fusion.FuseOptions

	result *fusion.FusionResult
	err    error
}

func (m *mockFuser) Fuse(_ context.Context, q fusion.Query, w fusion.RoutingWeights, opts fusion.FuseOptions) (*fusion.FusionResult, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.lastQ, m.lastW, m.lastOpts = q, w, opts
	m.mu.Unlock()
	if m.result != nil {
		return m.result, m.err
	}
	return &fusion.FusionResult{Items: []fusion.FusedResult{}, DegradedSources: []string{}, RequestID: "r1"}, m.err
}

func (m *mockFuser) Sources() []fusion.SourceName {
	return []fusion.SourceName{fusion.SourceVector, fusion.SourceLexical}
}

type failingClassifier struct{ calls atomic.Int32 }

func (f *failingClassifier) Classify(context.Context, string) (classifier.QueryType, fusion.RoutingWeights, error) {
	f.calls.Add(1)
	return "", nil, errors.New("model offline")
}

type fakeSnapshot struct{}

func (fakeSnapshot) Version() string    { return "v7" }
func (fakeSnapshot) BuiltAt() time.Time { return time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC) }
func (fakeSnapshot) Len() int           { return 4 }

type fakeReloader struct{}

func (fakeReloader) Status() (int, error) { return 2, errors.New("corrupt snapshot") }

// =============================================================================
// Weight resolution
// =============================================================================

func TestService_ExplicitWeightsWin(t *testing.T) {
	// Given: a service with a classifier
	f := &mockFuser{}
	cls := &failingClassifier{}
	svc, err := New(f, WithClassifier(cls))
	require.NoError(t, err)

	// When: the request carries weights
	resp, err := svc.Fuse(context.Background(), Request{
		Query:   "billing",
		Weights: map[string]float64{"Lexical": 1, "vector": 0.5},
		TopN:    5,
	})

	// Then: the weights are used verbatim and the classifier is skipped
	require.NoError(t, err)
	assert.Equal(t, "explicit", resp.QueryType)
	assert.Equal(t, fusion.RoutingWeights{fusion.SourceLexical: 1, fusion.SourceVector: 0.5}, f.lastW)
	assert.Equal(t, 5, f.lastOpts.TopN)
	assert.Equal(t, int32(0), cls.calls.Load())
}

func TestService_ClassifierRoutes(t *testing.T) {
	f := &mockFuser{}
	svc, err := New(f, WithClassifier(classifier.NewPatternClassifier()))
	require.NoError(t, err)

	resp, err := svc.Fuse(context.Background(), Request{Query: "give me an overview of the main themes"})

	require.NoError(t, err)
	assert.Equal(t, "global", resp.QueryType)
	assert.Equal(t, classifier.WeightsFor(classifier.QueryTypeGlobal), f.lastW)
	assert.Equal(t, 1.0, resp.Weights["graph_global"])
}

func TestService_ClassifierFailureUsesDefaults(t *testing.T) {
	f := &mockFuser{}
	defaults := fusion.RoutingWeights{fusion.SourceVector: 1}
	svc, err := New(f, WithClassifier(&failingClassifier{}), WithDefaultWeights(defaults))
	require.NoError(t, err)

	resp, err := svc.Fuse(context.Background(), Request{Query: "anything"})

	require.NoError(t, err)
	assert.Equal(t, "default", resp.QueryType)
	assert.Equal(t, defaults, f.lastW)
}

func TestService_RejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"unknown weight source", Request{Query: "q", Weights: map[string]float64{"web": 1}}},
		{"unknown timeout source", Request{Query: "q", Timeouts: map[string]string{"web": "1s"}}},
		{"bad timeout", Request{Query: "q", Timeouts: map[string]string{"vector": "fast"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &mockFuser{}
			svc, err := New(f)
			require.NoError(t, err)

			resp, err := svc.Fuse(context.Background(), tt.req)

			require.Error(t, err)
			assert.Equal(t, amerrors.ErrCodeInvalidInput, amerrors.GetCode(err))
			require.NotNil(t, resp.FusionResult)
			assert.Empty(t, resp.Items)
			assert.Equal(t, int32(0), f.calls.Load())
		})
	}
}

func TestService_PassesQueryAndTimeouts(t *testing.T) {
	f := &mockFuser{}
	svc, err := New(f)
	require.NoError(t, err)
	rerank := false

	_, err = svc.Fuse(context.Background(), Request{
		Query:      "billing",
		SubQueries: []string{"invoices"},
		Rerank:     &rerank,
		Timeouts:   map[string]string{"graph_local": "50ms"},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"billing", "invoices"}, f.lastQ.Texts())
	assert.Equal(t, 50*time.Millisecond, f.lastOpts.SourceTimeouts[fusion.SourceGraphLocal])
	require.NotNil(t, f.lastOpts.Rerank)
	assert.False(t, *f.lastOpts.Rerank)
}

func TestService_EngineErrorKeepsResult(t *testing.T) {
	f := &mockFuser{
		result: &fusion.FusionResult{Items: []fusion.FusedResult{}, DegradedSources: []string{"vector", "lexical"}},
		err:    amerrors.AllSourcesFailed(errors.New("down")),
	}
	svc, err := New(f)
	require.NoError(t, err)

	resp, err := svc.Fuse(context.Background(), Request{Query: "q"})

	require.Error(t, err)
	assert.Equal(t, []string{"vector", "lexical"}, resp.DegradedSources)
}

func TestNew_RequiresEngine(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

// =============================================================================
// Status
// =============================================================================

func TestService_Status(t *testing.T) {
	collector := telemetry.NewCollector(nil, telemetry.CollectorConfig{})
	t.Cleanup(func() { _ = collector.Close() })
	collector.RecordFusion(fusion.FusionEvent{Query: "q", Results: 1})

	svc, err := New(&mockFuser{},
		WithSnapshot(func() SnapshotInfo { return fakeSnapshot{} }),
		WithReloader(fakeReloader{}),
		WithCollector(collector))
	require.NoError(t, err)

	st := svc.Status()

	assert.Equal(t, []string{"vector", "lexical"}, st.Sources)
	assert.Equal(t, "v7", st.Community.Version)
	assert.Equal(t, 4, st.Community.Communities)
	assert.Equal(t, 2, st.Community.Reloads)
	assert.Equal(t, "corrupt snapshot", st.Community.LastError)
	require.NotNil(t, st.Telemetry)
	assert.Equal(t, int64(1), st.Telemetry.TotalQueries)
}
