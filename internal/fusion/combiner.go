package fusion

import (
	"fmt"
	"sort"
)

// SummaryLookup resolves a community ID to its precomputed summary.
type SummaryLookup interface {
	Summary(communityID string) (string, bool)
}

// SummaryProvider hands out a consistent SummaryLookup for one request.
// community.Index implements it with its current snapshot.
type SummaryProvider interface {
	Summaries() SummaryLookup
}

// Combiner merges per-source ranked lists with weighted reciprocal-rank fusion.
type Combiner struct {
	norm Normalizer
}

// NewCombiner creates a Combiner with RRF constant k.
func NewCombiner(k int) Combiner {
	return Combiner{norm: NewNormalizer(k)}
}

type accumulator struct {
	result  FusedResult
	ranks   map[string]int
	seenSrc map[SourceName]struct{}
}

// Combine fuses lists into one ranking of at most topN items.
//
// Each chunk scores the sum of weight(s) * 1/(k+rank) over the sources
// that returned it. Sources are visited in canonical order so the
// floating-point sum is reproducible. Ties on score go to the chunk
// with more contributing sources, then to the smaller ChunkID.
// graph_global items get their community summary from summaries when
// it is non-nil.
func (c Combiner) Combine(lists SourceLists, weights RoutingWeights, summaries SummaryLookup, topN int) []FusedResult {
	byID := make(map[string]*accumulator)
	var order []string

	for _, src := range AllSources() {
		w := weights[src]
		if w <= 0 {
			continue
		}
		for _, item := range lists[src] {
			if item.ChunkID == "" {
				continue
			}
			acc, ok := byID[item.ChunkID]
			if !ok {
				acc = &accumulator{
					result: FusedResult{
						ChunkID:  item.ChunkID,
						Metadata: make(map[string]any),
					},
					ranks:   make(map[string]int),
					seenSrc: make(map[SourceName]struct{}),
				}
				byID[item.ChunkID] = acc
				order = append(order, item.ChunkID)
			}
			// A source listing the same chunk twice counts once, at its best rank.
			if _, dup := acc.seenSrc[src]; dup {
				continue
			}
			acc.seenSrc[src] = struct{}{}

			acc.result.Score += w * c.norm.RRFScore(item.Rank)
			acc.result.Sources = append(acc.result.Sources, src)
			acc.ranks[string(src)] = item.Rank
			if acc.result.Text == "" {
				acc.result.Text = item.Text
			}
			for k, v := range item.Metadata {
				if _, exists := acc.result.Metadata[k]; !exists {
					acc.result.Metadata[k] = v
				}
			}
			if src == SourceGraphGlobal && summaries != nil {
				attachSummary(acc.result.Metadata, item.Metadata, summaries)
			}
		}
	}

	fused := make([]FusedResult, 0, len(order))
	for _, id := range order {
		acc := byID[id]
		acc.result.Metadata[MetaSourceRanks] = acc.ranks
		fused = append(fused, acc.result)
	}

	SortFused(fused)

	if topN > 0 && len(fused) > topN {
		fused = fused[:topN]
	}
	for i := range fused {
		fused[i].Rank = i + 1
	}
	return fused
}

// SortFused applies the fused ordering: score descending, then more
// contributing sources, then ChunkID ascending.
func SortFused(items []FusedResult) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if len(a.Sources) != len(b.Sources) {
			return len(a.Sources) > len(b.Sources)
		}
		return a.ChunkID < b.ChunkID
	})
}

func attachSummary(dst, itemMeta map[string]any, summaries SummaryLookup) {
	raw, ok := itemMeta[MetaCommunityID]
	if !ok {
		return
	}
	id := fmt.Sprint(raw)
	if summary, found := summaries.Summary(id); found {
		dst[MetaCommunitySummary] = summary
		dst[MetaCommunityID] = id
	}
}
