package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/fusion"
	"github.com/Aman-CERP/amanrag/internal/service"
)

// =============================================================================
// Mock backend
// =============================================================================

type mockBackend struct {
	calls   atomic.Int32
	lastReq service.Request
	resp    *service.Response
	err     error
}

func (m *mockBackend) Fuse(_ context.Context, req service.Request) (*service.Response, error) {
	m.calls.Add(1)
	m.lastReq = req
	return m.resp, m.err
}

func (m *mockBackend) Status() service.Status {
	return service.Status{Sources: []string{"vector"}, Community: service.CommunityStatus{Version: "v1"}}
}

func okResponse() *service.Response {
	return &service.Response{
		FusionResult: &fusion.FusionResult{
			Items: []fusion.FusedResult{{
				ChunkID: "c1", Score: 0.016, Rank: 1,
				Sources: []fusion.SourceName{fusion.SourceLexical},
			}},
			DegradedSources: []string{},
			RequestID:       "req-1",
		},
		QueryType: "lexical",
		Weights:   map[string]float64{"lexical": 1},
	}
}

func newTestServer(t *testing.T, b Backend, opts ...Option) http.Handler {
	t.Helper()
	s, err := New(b, opts...)
	require.NoError(t, err)
	return s.Handler()
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/fuse", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// POST /v1/fuse
// =============================================================================

func TestFuse_OK(t *testing.T) {
	// Given: a backend returning one result
	b := &mockBackend{resp: okResponse()}
	h := newTestServer(t, b)

	// When: posting a request with weights and timeouts
	rec := post(t, h, `{"query":"ERR_501","weights":{"lexical":1},"top_n":3,"source_timeouts":{"vector":"100ms"}}`)

	// Then: the request is forwarded and the result returned
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ERR_501", b.lastReq.Query)
	assert.Equal(t, 3, b.lastReq.TopN)
	assert.Equal(t, map[string]float64{"lexical": 1}, b.lastReq.Weights)
	assert.Equal(t, "100ms", b.lastReq.Timeouts["vector"])

	var got FuseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotNil(t, got.Response)
	require.NotNil(t, got.FusionResult)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "c1", got.Items[0].ChunkID)
	assert.Equal(t, "lexical", got.QueryType)
	assert.Nil(t, got.Error)
}

func TestFuse_RequestValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"query":`},
		{"missing query", `{"top_n":3}`},
		{"negative top_n", `{"query":"q","top_n":-1}`},
		{"too many sub queries", fmt.Sprintf(`{"query":"q","sub_queries":[%s]}`, strings.TrimSuffix(strings.Repeat(`"x",`, 17), ","))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &mockBackend{resp: okResponse()}
			h := newTestServer(t, b)

			rec := post(t, h, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), amerrors.ErrCodeInvalidInput)
			assert.Equal(t, int32(0), b.calls.Load())
		})
	}
}

func TestFuse_BackendErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid input", amerrors.InvalidInput("query text is empty"), http.StatusBadRequest, amerrors.ErrCodeInvalidInput},
		{"all failed", amerrors.AllSourcesFailed(errors.New("down")), http.StatusServiceUnavailable, amerrors.ErrCodeAllSourcesFailed},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, amerrors.ErrCodeInternal},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, amerrors.ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a backend failing with a degraded result
			resp := &service.Response{FusionResult: &fusion.FusionResult{
				Items: []fusion.FusedResult{}, DegradedSources: []string{"vector", "lexical"},
			}}
			h := newTestServer(t, &mockBackend{resp: resp, err: tt.err})

			// When: posting
			rec := post(t, h, `{"query":"q"}`)

			// Then: the status and error code match, and the result is kept
			assert.Equal(t, tt.wantStatus, rec.Code)
			var got FuseResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			require.NotNil(t, got.Error)
			assert.Equal(t, tt.wantCode, got.Error.Code)
			require.NotNil(t, got.Response)
			assert.Equal(t, []string{"vector", "lexical"}, got.DegradedSources)
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusFor(nil))
	assert.Equal(t, 499, StatusFor(fmt.Errorf("fuse: %w", context.Canceled)))
}

// =============================================================================
// Other routes
// =============================================================================

func TestHealthAndStatus(t *testing.T) {
	h := newTestServer(t, &mockBackend{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var st service.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "v1", st.Community.Version)
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "amanrag_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	h := newTestServer(t, &mockBackend{}, WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "amanrag_test_total 1")
}

func TestMetricsRoute_AbsentWithoutHandler(t *testing.T) {
	h := newTestServer(t, &mockBackend{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMCPRoute(t *testing.T) {
	var hits atomic.Int32
	mcpHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusAccepted)
	})
	h := newTestServer(t, &mockBackend{}, WithMCPHandler(mcpHandler))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader("{}")))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, int32(1), hits.Load())
}

func TestServe_StopsOnCancel(t *testing.T) {
	s, err := New(&mockBackend{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, "127.0.0.1:0") }()
	cancel()

	require.NoError(t, <-done)
}

func TestNew_RequiresBackend(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}
