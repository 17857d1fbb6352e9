package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rrf60(rank int) float64 {
	return 1.0 / float64(60+rank)
}

func TestCombine_DedupExactScore(t *testing.T) {
	// Given: c1 at vector rank 2 and lexical rank 5
	lists := SourceLists{
		SourceVector:  ranked(SourceVector, []string{"v1", "c1"}, nil),
		SourceLexical: ranked(SourceLexical, []string{"l1", "l2", "l3", "l4", "c1"}, nil),
	}
	weights := RoutingWeights{SourceVector: 1.0, SourceLexical: 0.5}

	// When: combining with k=60
	fused := NewCombiner(60).Combine(lists, weights, nil, 50)

	// Then: the score is the exact weighted sum
	var c1 *FusedResult
	for i := range fused {
		if fused[i].ChunkID == "c1" {
			c1 = &fused[i]
		}
	}
	require.NotNil(t, c1)
	// Computed at run time so the constant folder cannot use exact arithmetic.
	w1, w2 := 1.0, 0.5
	want := w1*rrf60(2) + w2*rrf60(5)
	assert.Equal(t, want, c1.Score)
	assert.Equal(t, []SourceName{SourceVector, SourceLexical}, c1.Sources)
	assert.Equal(t, map[string]int{"vector": 2, "lexical": 5}, c1.Metadata[MetaSourceRanks])
}

func TestCombine_EndToEndOrdering(t *testing.T) {
	lists := SourceLists{
		SourceVector:  ranked(SourceVector, []string{"c1", "c2"}, nil),
		SourceLexical: ranked(SourceLexical, []string{"c2", "c3"}, nil),
	}
	weights := RoutingWeights{SourceVector: 1, SourceLexical: 1, SourceGraphLocal: 0, SourceGraphGlobal: 0}

	fused := NewCombiner(60).Combine(lists, weights, nil, 50)

	assert.Equal(t, []string{"c2", "c1", "c3"}, chunkIDs(fused))
	assert.Equal(t, rrf60(2)+rrf60(1), fused[0].Score)
	assert.Equal(t, rrf60(1), fused[1].Score)
	assert.Equal(t, rrf60(2), fused[2].Score)
	for i, f := range fused {
		assert.Equal(t, i+1, f.Rank)
	}
}

func TestCombine_TieBreakBySourceCount(t *testing.T) {
	// "solo" at rank 1 with weight 2 ties exactly with "both" at rank 1 in two weight-1 sources.
	lists := SourceLists{
		SourceVector:     ranked(SourceVector, []string{"both"}, nil),
		SourceLexical:    ranked(SourceLexical, []string{"both"}, nil),
		SourceGraphLocal: ranked(SourceGraphLocal, []string{"solo"}, nil),
	}
	weights := RoutingWeights{SourceVector: 1, SourceLexical: 1, SourceGraphLocal: 2}

	fused := NewCombiner(60).Combine(lists, weights, nil, 0)

	require.Len(t, fused, 2)
	assert.Equal(t, fused[0].Score, fused[1].Score)
	assert.Equal(t, []string{"both", "solo"}, chunkIDs(fused))
}

func TestCombine_TieBreakByChunkID(t *testing.T) {
	lists := SourceLists{
		SourceVector:  ranked(SourceVector, []string{"zeta"}, nil),
		SourceLexical: ranked(SourceLexical, []string{"alpha"}, nil),
	}
	weights := RoutingWeights{SourceVector: 1, SourceLexical: 1}

	fused := NewCombiner(60).Combine(lists, weights, nil, 0)

	assert.Equal(t, []string{"alpha", "zeta"}, chunkIDs(fused))
}

func TestCombine_ZeroWeightSourceIgnored(t *testing.T) {
	lists := SourceLists{
		SourceVector:  ranked(SourceVector, []string{"a"}, nil),
		SourceLexical: ranked(SourceLexical, []string{"b"}, nil),
	}

	fused := NewCombiner(60).Combine(lists, RoutingWeights{SourceVector: 1}, nil, 0)

	assert.Equal(t, []string{"a"}, chunkIDs(fused))
}

func TestCombine_TruncatesToTopN(t *testing.T) {
	ids := make([]string, 80)
	for i := range ids {
		ids[i] = string(rune('A'+i/26)) + string(rune('a'+i%26))
	}
	lists := SourceLists{SourceVector: ranked(SourceVector, ids, nil)}

	fused := NewCombiner(60).Combine(lists, RoutingWeights{SourceVector: 1}, nil, 50)

	require.Len(t, fused, 50)
	assert.Equal(t, ids[:50], chunkIDs(fused))
}

func TestCombine_AttachesCommunitySummary(t *testing.T) {
	meta := map[string]map[string]any{
		"g1": {MetaCommunityID: "comm-7"},
		"g2": {MetaCommunityID: "comm-missing"},
	}
	lists := SourceLists{
		SourceGraphGlobal: ranked(SourceGraphGlobal, []string{"g1", "g2"}, meta),
	}
	summaries := staticSummaries{"comm-7": "Payments and billing"}

	fused := NewCombiner(60).Combine(lists, RoutingWeights{SourceGraphGlobal: 1}, summaries, 0)

	require.Len(t, fused, 2)
	assert.Equal(t, "Payments and billing", fused[0].Metadata[MetaCommunitySummary])
	assert.NotContains(t, fused[1].Metadata, MetaCommunitySummary)
}

func TestCombine_MetadataEarlierSourceWins(t *testing.T) {
	lists := SourceLists{
		SourceVector:  ranked(SourceVector, []string{"a"}, map[string]map[string]any{"a": {"k": "vector"}}),
		SourceLexical: ranked(SourceLexical, []string{"a"}, map[string]map[string]any{"a": {"k": "lexical", MetaMatchedTerms: []string{"x"}}}),
	}

	fused := NewCombiner(60).Combine(lists, RoutingWeights{SourceVector: 1, SourceLexical: 1}, nil, 0)

	require.Len(t, fused, 1)
	assert.Equal(t, "vector", fused[0].Metadata["k"])
	assert.Equal(t, []string{"x"}, fused[0].Metadata[MetaMatchedTerms])
}

func TestCombine_DoesNotMutateInput(t *testing.T) {
	meta := map[string]map[string]any{"a": {"k": "v"}}
	lists := SourceLists{SourceVector: ranked(SourceVector, []string{"a"}, meta)}

	_ = NewCombiner(60).Combine(lists, RoutingWeights{SourceVector: 1}, nil, 0)

	assert.Equal(t, map[string]any{"k": "v"}, lists[SourceVector][0].Metadata)
}

func TestCombine_Empty(t *testing.T) {
	fused := NewCombiner(60).Combine(SourceLists{}, RoutingWeights{SourceVector: 1}, nil, 50)
	assert.Empty(t, fused)
	assert.NotNil(t, fused)
}
