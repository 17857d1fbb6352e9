package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/fusion"
	"github.com/Aman-CERP/amanrag/internal/service"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
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
	return service.Status{
		Sources: []string{"vector", "lexical"},
		Community: service.CommunityStatus{
			Version:     "v3",
			Communities: 2,
			BuiltAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		Telemetry: &telemetry.Snapshot{
			TotalQueries:     4,
			Outcomes:         map[telemetry.Outcome]int64{telemetry.OutcomeOK: 3, telemetry.OutcomeDegraded: 1},
			DegradedBySource: map[fusion.SourceName]int64{fusion.SourceGraphGlobal: 1},
		},
	}
}

func sampleResponse() *service.Response {
	return &service.Response{
		FusionResult: &fusion.FusionResult{
			Items: []fusion.FusedResult{
				{
					ChunkID: "c1", Score: 0.032, Rank: 1,
					Sources: []fusion.SourceName{fusion.SourceVector, fusion.SourceGraphLocal},
					Text:    "Billing calls payments.",
					Metadata: map[string]any{
						fusion.MetaCommunityID:      "comm-1",
						fusion.MetaCommunitySummary: "Payments cluster",
						fusion.MetaRerankScore:      0.91,
					},
				},
			},
			DegradedSources: []string{"graph_global"},
			Reranked:        true,
			ElapsedMS:       12,
			RequestID:       "req-1",
		},
		QueryType: "relational",
		Weights:   map[string]float64{"vector": 0.5, "graph_local": 1},
	}
}

func newTestServer(t *testing.T, b Backend) *Server {
	t.Helper()
	s, err := NewServer(b)
	require.NoError(t, err)
	return s
}

// =============================================================================
// Tool handlers
// =============================================================================

func TestNewServer_RequiresBackend(t *testing.T) {
	_, err := NewServer(nil)
	require.Error(t, err)
}

func TestServer_ListTools(t *testing.T) {
	s := newTestServer(t, &mockBackend{})

	names := []string{}
	for _, tool := range s.ListTools() {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"fuse", "fusion_status"}, names)
}

func TestHandleFuse_ConvertsResult(t *testing.T) {
	// Given: a backend returning one reranked result
	b := &mockBackend{resp: sampleResponse()}
	s := newTestServer(t, b)
	rerank := true

	// When: calling the fuse tool
	res, out, err := s.handleFuse(context.Background(), nil, FuseInput{
		Query:      "what does billing depend on",
		SubQueries: []string{"billing dependencies"},
		TopN:       5,
		Rerank:     &rerank,
	})

	// Then: the request is forwarded and the output mirrors the result
	require.NoError(t, err)
	assert.Equal(t, "what does billing depend on", b.lastReq.Query)
	assert.Equal(t, []string{"billing dependencies"}, b.lastReq.SubQueries)
	assert.Equal(t, 5, b.lastReq.TopN)

	require.Len(t, out.Results, 1)
	r := out.Results[0]
	assert.Equal(t, "c1", r.ChunkID)
	assert.Equal(t, []string{"vector", "graph_local"}, r.Sources)
	assert.Equal(t, "comm-1", r.CommunityID)
	assert.Equal(t, "Payments cluster", r.CommunitySummary)
	require.NotNil(t, r.RerankScore)
	assert.InDelta(t, 0.91, *r.RerankScore, 1e-9)
	assert.Equal(t, []string{"graph_global"}, out.DegradedSources)
	assert.True(t, out.Reranked)
	assert.Equal(t, "relational", out.QueryType)

	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "### 1. `c1`")
}

func TestHandleFuse_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   FuseInput
	}{
		{"empty query", FuseInput{Query: "  "}},
		{"negative top_n", FuseInput{Query: "q", TopN: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &mockBackend{resp: sampleResponse()}
			s := newTestServer(t, b)

			_, _, err := s.handleFuse(context.Background(), nil, tt.in)

			var mcpErr *MCPError
			require.ErrorAs(t, err, &mcpErr)
			assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
			assert.Equal(t, int32(0), b.calls.Load())
		})
	}
}

func TestHandleFuse_MapsBackendErrors(t *testing.T) {
	b := &mockBackend{
		resp: &service.Response{FusionResult: &fusion.FusionResult{}},
		err:  amerrors.AllSourcesFailed(errors.New("down")),
	}
	s := newTestServer(t, b)

	_, _, err := s.handleFuse(context.Background(), nil, FuseInput{Query: "q"})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeAllSourcesFailed, mcpErr.Code)
	assert.Contains(t, mcpErr.Message, amerrors.ErrCodeAllSourcesFailed)
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer(t, &mockBackend{})

	_, out, err := s.handleStatus(context.Background(), nil, StatusInput{})

	require.NoError(t, err)
	assert.Equal(t, []string{"vector", "lexical"}, out.Sources)
	assert.Equal(t, "v3", out.Community.Version)
	assert.Equal(t, "2026-03-01T12:00:00Z", out.Community.BuiltAt)
	require.NotNil(t, out.Telemetry)
	assert.Equal(t, int64(4), out.Telemetry.TotalQueries)
	assert.Equal(t, int64(1), out.Telemetry.DegradedBySource["graph_global"])
	assert.InDelta(t, 0.25, out.Telemetry.DegradedRate, 1e-9)
}

func TestStatusResource(t *testing.T) {
	s := newTestServer(t, &mockBackend{})

	res, err := s.handleStatusResource(context.Background(), &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{URI: StatusResourceURI},
	})

	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	var out StatusOutput
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &out))
	assert.Equal(t, 2, out.Community.Communities)

	_, err = s.handleStatusResource(context.Background(), &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{URI: "amanrag://nope"},
	})
	require.Error(t, err)
}

// =============================================================================
// Protocol round trip
// =============================================================================

func TestServer_InMemorySession(t *testing.T) {
	// Given: a client connected to the server over in-memory transports
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s := newTestServer(t, &mockBackend{resp: sampleResponse()})

	serverT, clientT := mcp.NewInMemoryTransports()
	serverSession, err := s.MCPServer().Connect(ctx, serverT, nil)
	require.NoError(t, err)
	defer func() { _ = serverSession.Close() }()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0"}, nil)
	session, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	// When: listing and calling tools
	list, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "fuse",
		Arguments: map[string]any{"query": "billing"},
	})

	// Then: both tools are advertised and the call succeeds
	require.NoError(t, err)
	assert.Len(t, list.Tools, 2)
	assert.False(t, res.IsError)
	assert.NotEmpty(t, res.Content)
}
