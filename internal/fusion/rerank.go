package fusion

import (
	"context"
	"fmt"
	"sort"
)

// RerankScore is the reranker's verdict on one candidate, by position
// in the candidate list it was given.
type RerankScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Reranker refines the order of a fixed candidate set.
// It must not introduce items; indices outside the candidate list are
// rejected by the engine.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []string) ([]RerankScore, error)
}

// RerankerFunc lets a plain function satisfy Reranker.
type RerankerFunc func(ctx context.Context, query string, candidates []string) ([]RerankScore, error)

// Rerank calls f.
func (f RerankerFunc) Rerank(ctx context.Context, query string, candidates []string) ([]RerankScore, error) {
	return f(ctx, query, candidates)
}

// TextResolver fills in chunk text for candidates whose source did not
// return it.
type TextResolver interface {
	ChunkTexts(ctx context.Context, ids []string) (map[string]string, error)
}

// applyRerank permutes items by scores. Items the reranker did not
// score keep their fused order after the scored ones. The fused Score
// is kept; the rerank score goes to metadata.
func applyRerank(items []FusedResult, scores []RerankScore) ([]FusedResult, error) {
	seen := make(map[int]struct{}, len(scores))
	for _, s := range scores {
		if s.Index < 0 || s.Index >= len(items) {
			return nil, fmt.Errorf("rerank index %d out of range [0,%d)", s.Index, len(items))
		}
		if _, dup := seen[s.Index]; dup {
			return nil, fmt.Errorf("rerank index %d returned twice", s.Index)
		}
		seen[s.Index] = struct{}{}
	}

	ordered := append([]RerankScore(nil), scores...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		return ordered[i].Index < ordered[j].Index
	})

	out := make([]FusedResult, 0, len(items))
	for _, s := range ordered {
		item := cloneFused(items[s.Index])
		item.Metadata[MetaRerankScore] = s.Score
		out = append(out, item)
	}
	for i, item := range items {
		if _, ok := seen[i]; ok {
			continue
		}
		out = append(out, cloneFused(item))
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

func cloneFused(r FusedResult) FusedResult {
	meta := make(map[string]any, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		meta[k] = v
	}
	r.Metadata = meta
	r.Sources = append([]SourceName(nil), r.Sources...)
	return r
}
