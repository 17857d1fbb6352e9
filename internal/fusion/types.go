package fusion

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// SourceName identifies a retrieval source.
type SourceName string

const (
	SourceVector      SourceName = "vector"
	SourceLexical     SourceName = "lexical"
	SourceGraphLocal  SourceName = "graph_local"
	SourceGraphGlobal SourceName = "graph_global"
)

// AllSources returns every source in canonical order.
// Canonical order is used wherever sources are listed or iterated.
func AllSources() []SourceName {
	return []SourceName{SourceVector, SourceLexical, SourceGraphLocal, SourceGraphGlobal}
}

// Valid reports whether s is one of the known sources.
func (s SourceName) Valid() bool {
	return s.order() >= 0
}

func (s SourceName) order() int {
	switch s {
	case SourceVector:
		return 0
	case SourceLexical:
		return 1
	case SourceGraphLocal:
		return 2
	case SourceGraphGlobal:
		return 3
	default:
		return -1
	}
}

// ParseSourceName converts a user-supplied name into a SourceName.
func ParseSourceName(s string) (SourceName, error) {
	name := SourceName(strings.ToLower(strings.TrimSpace(s)))
	if !name.Valid() {
		return "", amerrors.InvalidInput("unknown source %q", s)
	}
	return name, nil
}

// MaxQueryLength bounds the raw query text in bytes.
const MaxQueryLength = 8192

// Query is an immutable retrieval request.
type Query struct {
	// Text is the raw query text.
	Text string `json:"text"`

	// SubQueries is an optional decomposition of Text.
	SubQueries []string `json:"sub_queries,omitempty"`

	// Deadline is the request-scoped deadline. Zero means none beyond ctx.
	Deadline time.Time `json:"deadline,omitempty"`
}

// NewQuery builds a Query, copying the sub-query slice.
func NewQuery(text string, subQueries ...string) Query {
	q := Query{Text: text}
	if len(subQueries) > 0 {
		q.SubQueries = append([]string(nil), subQueries...)
	}
	return q
}

// WithDeadline returns a copy of q with the given deadline.
func (q Query) WithDeadline(d time.Time) Query {
	q.Deadline = d
	q.SubQueries = append([]string(nil), q.SubQueries...)
	return q
}

// Texts returns Text followed by every non-blank sub-query, deduplicated.
func (q Query) Texts() []string {
	seen := map[string]struct{}{q.Text: {}}
	texts := []string{q.Text}
	for _, sq := range q.SubQueries {
		sq = strings.TrimSpace(sq)
		if sq == "" {
			continue
		}
		if _, ok := seen[sq]; ok {
			continue
		}
		seen[sq] = struct{}{}
		texts = append(texts, sq)
	}
	return texts
}

// Validate rejects queries no source could execute.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return amerrors.InvalidInput("query text is empty")
	}
	if len(q.Text) > MaxQueryLength {
		return amerrors.InvalidInput("query text exceeds %d bytes", MaxQueryLength)
	}
	if !utf8.ValidString(q.Text) {
		return amerrors.InvalidInput("query text is not valid UTF-8")
	}
	return nil
}

// RoutingWeights maps each source to a non-negative weight.
// Weights need not sum to 1; a zero weight excludes the source.
type RoutingWeights map[SourceName]float64

// Validate rejects negative, non-finite, unknown or all-zero weights.
func (w RoutingWeights) Validate() error {
	positive := false
	for name, weight := range w {
		if !name.Valid() {
			return amerrors.InvalidInput("unknown source %q in routing weights", name)
		}
		if math.IsNaN(weight) || math.IsInf(weight, 0) {
			return amerrors.InvalidInput("weight for %s is not a finite number", name)
		}
		if weight < 0 {
			return amerrors.InvalidInput("weight for %s is negative (%g)", name, weight)
		}
		if weight > 0 {
			positive = true
		}
	}
	if !positive {
		return amerrors.InvalidInput("routing weights are all zero")
	}
	return nil
}

// Active returns the sources with weight > 0 in canonical order.
func (w RoutingWeights) Active() []SourceName {
	var active []SourceName
	for _, s := range AllSources() {
		if w[s] > 0 {
			active = append(active, s)
		}
	}
	return active
}

// Metadata keys shared by adapters, the combiner and the engine.
const (
	MetaMatchedTerms     = "matched_terms"
	MetaHops             = "hops"
	MetaPath             = "path"
	MetaEntities         = "entities"
	MetaCommunityID      = "community_id"
	MetaCommunitySummary = "community_summary"
	MetaSourceRanks      = "source_ranks"
	MetaRerankScore      = "rerank_score"
	MetaSubQuery         = "sub_query"
)

// RankedItem is one hit from one source.
type RankedItem struct {
	ChunkID string     `json:"chunk_id"`
	Source  SourceName `json:"source"`

	// Score is the raw, source-specific score (cosine, BM25, path weight).
	Score float64 `json:"score"`

	// Rank is the 1-based position within the source's list.
	Rank int `json:"rank"`

	// Text is the chunk content when the backend returns it.
	Text string `json:"text,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Community is a cluster of graph entities built offline, with the
// summary used for global graph retrieval. Read-only at query time.
type Community struct {
	ID        string    `json:"id" yaml:"id"`
	Members   []string  `json:"members" yaml:"members"`
	Summary   string    `json:"summary" yaml:"summary"`
	Embedding []float32 `json:"embedding,omitempty" yaml:"-"`

	// Chunks are the chunks mentioning any member, in mention-weight order.
	Chunks []string `json:"chunks,omitempty" yaml:"chunks,omitempty"`

	Level int `json:"level,omitempty" yaml:"level,omitempty"`
}

// FusedResult is one deduplicated chunk in the final ranking.
type FusedResult struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`

	// Sources lists contributing sources in canonical order.
	Sources []SourceName `json:"sources"`

	// Rank is the 1-based final position.
	Rank int `json:"rank"`

	Text     string         `json:"text,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// FusionResult is what Engine.Fuse hands to answer synthesis.
// Items must be consumed in order.
type FusionResult struct {
	Items           []FusedResult `json:"items"`
	DegradedSources []string      `json:"degraded_sources"`
	Reranked        bool          `json:"reranked"`
	ElapsedMS       int64         `json:"elapsed_ms"`
	RequestID       string        `json:"request_id"`
}

// FuseOptions tune a single Fuse call. Zero values use the engine config.
type FuseOptions struct {
	// TopN truncates the fused list before reranking.
	TopN int

	// Rerank overrides the configured rerank switch when non-nil.
	Rerank *bool

	// SourceTimeouts overrides the per-source soft timeout.
	SourceTimeouts map[SourceName]time.Duration

	// CandidateK is the number of items requested from each source.
	CandidateK int
}

// Validate checks option ranges.
func (o FuseOptions) Validate() error {
	if o.TopN < 0 {
		return amerrors.InvalidInput("top_n must be non-negative, got %d", o.TopN)
	}
	if o.CandidateK < 0 {
		return amerrors.InvalidInput("candidate_k must be non-negative, got %d", o.CandidateK)
	}
	for name, d := range o.SourceTimeouts {
		if !name.Valid() {
			return amerrors.InvalidInput("unknown source %q in timeout overrides", name)
		}
		if d < 0 {
			return amerrors.InvalidInput("timeout for %s is negative", name)
		}
	}
	return nil
}

// Config holds engine-wide defaults.
type Config struct {
	RRFConstant    int
	TopN           int
	CandidateK     int
	SourceTimeout  time.Duration
	GlobalDeadline time.Duration

	// RerankBudget caps the reranker call within the remaining window.
	RerankBudget time.Duration

	// MinRerankWindow is the smallest remaining window worth a rerank call.
	MinRerankWindow time.Duration

	RerankEnabled bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		RRFConstant:     DefaultRRFConstant,
		TopN:            50,
		CandidateK:      50,
		SourceTimeout:   300 * time.Millisecond,
		GlobalDeadline:  800 * time.Millisecond,
		RerankBudget:    150 * time.Millisecond,
		MinRerankWindow: 10 * time.Millisecond,
		RerankEnabled:   true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RRFConstant <= 0 {
		c.RRFConstant = d.RRFConstant
	}
	if c.TopN <= 0 {
		c.TopN = d.TopN
	}
	if c.CandidateK <= 0 {
		c.CandidateK = d.CandidateK
	}
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = d.SourceTimeout
	}
	if c.GlobalDeadline <= 0 {
		c.GlobalDeadline = d.GlobalDeadline
	}
	if c.RerankBudget <= 0 {
		c.RerankBudget = d.RerankBudget
	}
	if c.MinRerankWindow <= 0 {
		c.MinRerankWindow = d.MinRerankWindow
	}
	return c
}
