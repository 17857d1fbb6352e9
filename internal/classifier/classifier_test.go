package classifier

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/fusion"
)

// =============================================================================
// WeightsFor Tests
// =============================================================================

func TestWeightsFor(t *testing.T) {
	tests := []struct {
		name      string
		queryType QueryType
		strongest fusion.SourceName
	}{
		{name: "lexical favours lexical", queryType: QueryTypeLexical, strongest: fusion.SourceLexical},
		{name: "semantic favours vector", queryType: QueryTypeSemantic, strongest: fusion.SourceVector},
		{name: "relational favours graph_local", queryType: QueryTypeRelational, strongest: fusion.SourceGraphLocal},
		{name: "global favours graph_global", queryType: QueryTypeGlobal, strongest: fusion.SourceGraphGlobal},
		{name: "mixed favours vector", queryType: QueryTypeMixed, strongest: fusion.SourceVector},
		{name: "unknown defaults to mixed", queryType: QueryType("UNKNOWN"), strongest: fusion.SourceVector},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := WeightsFor(tt.queryType)
			require.NoError(t, w.Validate())
			assert.Len(t, w.Active(), 4, "every source keeps a positive weight")
			for _, src := range fusion.AllSources() {
				if src != tt.strongest {
					assert.Less(t, w[src], w[tt.strongest], "source %s", src)
				}
			}
		})
	}
}

func TestParseQueryType(t *testing.T) {
	qt, ok := ParseQueryType(" relational ")
	assert.True(t, ok)
	assert.Equal(t, QueryTypeRelational, qt)

	_, ok = ParseQueryType("fuzzy")
	assert.False(t, ok)
}

// =============================================================================
// PatternClassifier Tests
// =============================================================================

func TestPatternClassifier_Classify(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  QueryType
	}{
		{name: "error code", query: "ERR_CONNECTION_REFUSED", want: QueryTypeLexical},
		{name: "numeric error code", query: "E0401", want: QueryTypeLexical},
		{name: "exception name", query: "NullPointerException", want: QueryTypeLexical},
		{name: "quoted phrase", query: `"connection refused"`, want: QueryTypeLexical},
		{name: "file path", query: "internal/fusion/engine.go", want: QueryTypeLexical},
		{name: "camelCase identifier", query: "parseConfig", want: QueryTypeLexical},
		{name: "snake_case identifier", query: "user_session_id", want: QueryTypeLexical},
		{name: "SCREAMING_SNAKE constant", query: "MAX_RETRIES", want: QueryTypeLexical},
		{name: "overview question", query: "give me an overview of the payment system", want: QueryTypeGlobal},
		{name: "summarize themes", query: "summarize the main themes", want: QueryTypeGlobal},
		{name: "relationship question", query: "How is billing related to auth?", want: QueryTypeRelational},
		{name: "between entities", query: "dependencies between ledger and invoices", want: QueryTypeRelational},
		{name: "how question", query: "How does authentication work", want: QueryTypeSemantic},
		{name: "long phrase", query: "payment retry logic", want: QueryTypeSemantic},
		{name: "single keyword", query: "billing", want: QueryTypeMixed},
		{name: "two keywords", query: "session store", want: QueryTypeMixed},
		{name: "blank", query: "   ", want: QueryTypeMixed},
	}

	c := NewPatternClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qt, w, err := c.Classify(context.Background(), tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, qt)
			assert.Equal(t, WeightsFor(tt.want), w)
		})
	}
}

func TestPatternClassifier_WithWeights(t *testing.T) {
	// Given: an override for lexical and an invalid one for global
	custom := fusion.RoutingWeights{fusion.SourceLexical: 1}
	c := NewPatternClassifier(WithWeights(map[QueryType]fusion.RoutingWeights{
		QueryTypeLexical: custom,
		QueryTypeGlobal:  {fusion.SourceVector: -1},
	}))

	// When: classifying one query of each
	_, lexical, err := c.Classify(context.Background(), "parseConfig")
	require.NoError(t, err)
	_, global, err := c.Classify(context.Background(), "overview of everything")
	require.NoError(t, err)

	// Then: the valid override applies and the invalid one is ignored
	assert.Equal(t, custom, lexical)
	assert.Equal(t, WeightsFor(QueryTypeGlobal), global)
}

func TestPatternClassifier_ReturnsCopies(t *testing.T) {
	c := NewPatternClassifier()

	_, w, _ := c.Classify(context.Background(), "billing")
	w[fusion.SourceVector] = 99

	_, again, _ := c.Classify(context.Background(), "billing")
	assert.InDelta(t, 0.7, again[fusion.SourceVector], 0.001)
}

// =============================================================================
// Cached Tests
// =============================================================================

type countingClassifier struct {
	calls atomic.Int32
	fail  bool
}

func (c *countingClassifier) Classify(_ context.Context, _ string) (QueryType, fusion.RoutingWeights, error) {
	c.calls.Add(1)
	if c.fail {
		return QueryTypeMixed, WeightsFor(QueryTypeMixed), errors.New("model unavailable")
	}
	return QueryTypeRelational, WeightsFor(QueryTypeRelational), nil
}

func TestCached_NormalisesKeys(t *testing.T) {
	// Given: a cached classifier
	inner := &countingClassifier{}
	c := NewCached(inner, 8)

	// When: the same query arrives with different case and spacing
	qt1, _, err := c.Classify(context.Background(), "Billing  Overview")
	require.NoError(t, err)
	qt2, _, err := c.Classify(context.Background(), "billing overview ")
	require.NoError(t, err)

	// Then: the inner classifier runs once
	assert.Equal(t, QueryTypeRelational, qt1)
	assert.Equal(t, qt1, qt2)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCached_DoesNotCacheFailures(t *testing.T) {
	inner := &countingClassifier{fail: true}
	c := NewCached(inner, 8)

	for i := 0; i < 2; i++ {
		qt, w, err := c.Classify(context.Background(), "billing")
		require.Error(t, err)
		assert.Equal(t, QueryTypeMixed, qt)
		assert.NotEmpty(t, w)
	}
	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Equal(t, 0, c.Len())
}

func TestCached_BlankQuerySkipsInner(t *testing.T) {
	inner := &countingClassifier{}
	c := NewCached(inner, 0)

	qt, _, err := c.Classify(context.Background(), "  ")

	require.NoError(t, err)
	assert.Equal(t, QueryTypeMixed, qt)
	assert.Equal(t, int32(0), inner.calls.Load())
}

func TestCached_Evicts(t *testing.T) {
	inner := &countingClassifier{}
	c := NewCached(inner, 2)

	for _, q := range []string{"a b c", "d e f", "g h i"} {
		_, _, err := c.Classify(context.Background(), q)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Len())

	// "a b c" was evicted
	_, _, _ = c.Classify(context.Background(), "a b c")
	assert.Equal(t, int32(4), inner.calls.Load())
}
