package mcp

// FuseInput is the input schema of the fuse tool.
type FuseInput struct {
	Query      string             `json:"query" jsonschema:"the retrieval query"`
	SubQueries []string           `json:"sub_queries,omitempty" jsonschema:"optional decomposition of the query; each is searched by vector and lexical sources"`
	Weights    map[string]float64 `json:"weights,omitempty" jsonschema:"routing weights per source (vector, lexical, graph_local, graph_global); omitted means classify the query"`
	TopN       int                `json:"top_n,omitempty" jsonschema:"maximum number of results, default 50"`
	Rerank     *bool              `json:"rerank,omitempty" jsonschema:"override the configured rerank switch"`
}

// FuseOutput is the output schema of the fuse tool.
type FuseOutput struct {
	Results         []ResultOutput     `json:"results" jsonschema:"fused results, best first; consume in order"`
	DegradedSources []string           `json:"degraded_sources" jsonschema:"sources that failed or timed out for this request"`
	Reranked        bool               `json:"reranked" jsonschema:"true if the cross-encoder reordered the results"`
	ElapsedMS       int64              `json:"elapsed_ms"`
	RequestID       string             `json:"request_id"`
	QueryType       string             `json:"query_type" jsonschema:"how the weights were chosen: explicit, default, or the classified query type"`
	Weights         map[string]float64 `json:"weights" jsonschema:"routing weights used"`
}

// ResultOutput is one fused chunk.
type ResultOutput struct {
	Rank             int      `json:"rank"`
	ChunkID          string   `json:"chunk_id"`
	Score            float64  `json:"score" jsonschema:"weighted reciprocal rank fusion score"`
	Sources          []string `json:"sources" jsonschema:"sources that returned this chunk"`
	Text             string   `json:"text,omitempty"`
	CommunityID      string   `json:"community_id,omitempty"`
	CommunitySummary string   `json:"community_summary,omitempty" jsonschema:"summary of the entity community this chunk belongs to"`
	RerankScore      *float64 `json:"rerank_score,omitempty"`
}

// StatusInput is the (empty) input of the fusion_status tool.
type StatusInput struct{}

// StatusOutput is the output of the fusion_status tool.
type StatusOutput struct {
	Sources   []string         `json:"sources" jsonschema:"registered retrieval sources"`
	Community CommunityOutput  `json:"community"`
	Telemetry *TelemetryOutput `json:"telemetry,omitempty"`
}

// CommunityOutput describes the served community snapshot.
type CommunityOutput struct {
	Version     string `json:"version"`
	Communities int    `json:"communities"`
	BuiltAt     string `json:"built_at,omitempty"`
	Reloads     int    `json:"reloads"`
	LastError   string `json:"last_error,omitempty"`
}

// TelemetryOutput is the in-memory telemetry summary since start.
type TelemetryOutput struct {
	TotalQueries      int64            `json:"total_queries"`
	DegradedRate      float64          `json:"degraded_rate"`
	Outcomes          map[string]int64 `json:"outcomes"`
	DegradedBySource  map[string]int64 `json:"degraded_by_source"`
	RerankOutcomes    map[string]int64 `json:"rerank_outcomes"`
	ZeroResultQueries []string         `json:"zero_result_queries,omitempty"`
}
