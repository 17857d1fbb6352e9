// Package source implements the four retrieval adapters the fusion engine
// fans out to: vector, lexical, graph_local and graph_global. Each adapter
// reads from a backend and returns a dense 1-based ranking in the
// backend's own order; raw scores are carried for display only.
package source

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanrag/internal/fusion"
)

// maxSubQueryParallelism bounds concurrent backend calls for one query.
const maxSubQueryParallelism = 4

// searchFunc runs one text against a backend and returns hits best first.
type searchFunc func(ctx context.Context, text string) ([]fusion.Scored, error)

// mergeFunc combines metadata when the same chunk is found by several texts.
// best is the hit being kept, other the one being dropped.
type mergeFunc func(best, other *fusion.Scored)

// searchAll runs search for the query text and every sub-query in
// parallel and keeps the best score per chunk. A failing sub-query is
// logged and skipped; the call fails only when every text failed.
// Hits found only through a sub-query carry it under MetaSubQuery.
func searchAll(ctx context.Context, source fusion.SourceName, q fusion.Query, search searchFunc, merge mergeFunc) ([]fusion.Scored, error) {
	texts := q.Texts()
	if len(texts) == 1 {
		return search(ctx, texts[0])
	}

	results := make([][]fusion.Scored, len(texts))
	errs := make([]error, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxSubQueryParallelism)
	for i, text := range texts {
		g.Go(func() error {
			results[i], errs[i] = search(gctx, text)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			slog.Debug("sub_query_failed",
				slog.String("source", string(source)),
				slog.Int("index", i),
				slog.String("error", err.Error()))
		}
	}
	if failed == len(texts) {
		return nil, errs[0]
	}

	best := make(map[string]*fusion.Scored)
	var order []string
	for i, hits := range results {
		for _, h := range hits {
			h := h
			if i > 0 {
				h.Metadata = withMeta(h.Metadata, fusion.MetaSubQuery, texts[i])
			}
			cur, ok := best[h.ChunkID]
			if !ok {
				best[h.ChunkID] = &h
				order = append(order, h.ChunkID)
				continue
			}
			if h.Score > cur.Score {
				if merge != nil {
					merge(&h, cur)
				}
				best[h.ChunkID] = &h
			} else if merge != nil {
				merge(cur, &h)
			}
		}
	}

	merged := make([]fusion.Scored, 0, len(best))
	for _, id := range order {
		merged = append(merged, *best[id])
	}
	fusion.SortScored(merged, nil)
	return merged, nil
}

// withMeta returns a copy of meta with key set.
func withMeta(meta map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out[key] = value
	return out
}

// mergeMatchedTerms unions the matched terms of two lexical hits.
func mergeMatchedTerms(best, other *fusion.Scored) {
	a, _ := best.Metadata[fusion.MetaMatchedTerms].([]string)
	b, _ := other.Metadata[fusion.MetaMatchedTerms].([]string)
	if len(b) == 0 {
		return
	}
	set := make(map[string]struct{}, len(a)+len(b))
	for _, t := range a {
		set[t] = struct{}{}
	}
	for _, t := range b {
		set[t] = struct{}{}
	}
	terms := make([]string, 0, len(set))
	for t := range set {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	best.Metadata = withMeta(best.Metadata, fusion.MetaMatchedTerms, terms)
}
