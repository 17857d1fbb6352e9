package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/amanrag/internal/community"
	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/fusion"
	"github.com/Aman-CERP/amanrag/internal/graph"
)

// EntityExtractor finds the graph entities a text refers to.
// ner.Gazetteer is the default implementation.
type EntityExtractor interface {
	Extract(ctx context.Context, text string) ([]string, error)
}

// GraphTraverser walks the entity graph from seed entities.
// graph.MemoryGraph implements it.
type GraphTraverser interface {
	Traverse(ctx context.Context, seeds []string, maxHops int) ([]graph.PathHit, error)
}

// CommunityMatcher finds the communities closest to a query embedding.
// community.Matcher implements it.
type CommunityMatcher interface {
	CommunityMatch(ctx context.Context, embedding []float32, topM int) ([]community.Match, error)
}

// SnapshotLoader hands out the current community snapshot.
// community.Index implements it.
type SnapshotLoader interface {
	Load() *community.Snapshot
}

// GraphLocalAdapter ranks chunks reachable from the entities named in
// the query. Raw score is the path weight.
type GraphLocalAdapter struct {
	extractor EntityExtractor
	graph     GraphTraverser
	maxHops   int
}

var _ fusion.Adapter = (*GraphLocalAdapter)(nil)

// NewGraphLocalAdapter creates the graph_local source. maxHops <= 0
// uses graph.DefaultMaxHops.
func NewGraphLocalAdapter(extractor EntityExtractor, g GraphTraverser, maxHops int) *GraphLocalAdapter {
	if maxHops <= 0 {
		maxHops = graph.DefaultMaxHops
	}
	return &GraphLocalAdapter{extractor: extractor, graph: g, maxHops: maxHops}
}

// Search extracts entities from the query text and traverses from them.
// A query naming no known entity yields an empty list, not an error.
func (a *GraphLocalAdapter) Search(ctx context.Context, q fusion.Query, k int) ([]fusion.RankedItem, error) {
	if k <= 0 {
		return []fusion.RankedItem{}, nil
	}
	entities, err := a.extractor.Extract(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("extract entities: %w", err)
	}
	if len(entities) == 0 {
		slog.Debug("graph_local_no_entities")
		return []fusion.RankedItem{}, nil
	}

	paths, err := a.graph.Traverse(ctx, entities, a.maxHops)
	if err != nil {
		return nil, fmt.Errorf("traverse: %w", err)
	}

	// Traverse already orders by weight desc, hops asc, chunk asc.
	hits := make([]fusion.Scored, 0, min(len(paths), k))
	for _, p := range paths {
		if len(hits) >= k {
			break
		}
		hits = append(hits, fusion.Scored{
			ChunkID: p.ChunkID,
			Score:   p.Weight,
			Metadata: map[string]any{
				fusion.MetaHops:     p.Hops,
				fusion.MetaPath:     append([]string(nil), p.Path...),
				fusion.MetaEntities: append([]string(nil), entities...),
			},
		})
	}
	return fusion.AssignRanks(fusion.SourceGraphLocal, hits, k), nil
}

// GraphGlobalAdapter ranks chunks of the communities whose summaries are
// closest to the query. Raw score is the community similarity.
type GraphGlobalAdapter struct {
	embedder embed.Embedder
	matcher  CommunityMatcher
	index    SnapshotLoader
	topM     int
}

var _ fusion.Adapter = (*GraphGlobalAdapter)(nil)

// NewGraphGlobalAdapter creates the graph_global source. topM <= 0 uses
// community.DefaultTopM.
func NewGraphGlobalAdapter(embedder embed.Embedder, matcher CommunityMatcher, index SnapshotLoader, topM int) *GraphGlobalAdapter {
	if topM <= 0 {
		topM = community.DefaultTopM
	}
	return &GraphGlobalAdapter{embedder: embedder, matcher: matcher, index: index, topM: topM}
}

// Search matches the query against community summaries and expands each
// matched community to its chunks. A chunk in several matched communities
// keeps the most similar one. Equal scores keep the community's own chunk
// order.
func (a *GraphGlobalAdapter) Search(ctx context.Context, q fusion.Query, k int) ([]fusion.RankedItem, error) {
	if k <= 0 {
		return []fusion.RankedItem{}, nil
	}
	embedding, err := a.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := a.matcher.CommunityMatch(ctx, embedding, a.topM)
	if err != nil {
		return nil, fmt.Errorf("community match: %w", err)
	}

	snap := a.index.Load()
	position := make(map[string]int)
	var hits []fusion.Scored
	for _, m := range matches {
		for _, chunkID := range snap.Chunks(m.CommunityID) {
			if _, seen := position[chunkID]; seen {
				continue
			}
			position[chunkID] = len(hits)
			hits = append(hits, fusion.Scored{
				ChunkID:  chunkID,
				Score:    m.Similarity,
				Metadata: map[string]any{fusion.MetaCommunityID: m.CommunityID},
			})
		}
	}
	if len(hits) == 0 {
		slog.Debug("graph_global_no_communities",
			slog.Int("matches", len(matches)),
			slog.String("snapshot", snap.Version()))
		return []fusion.RankedItem{}, nil
	}

	fusion.SortScored(hits, func(x, y fusion.Scored) bool {
		return position[x.ChunkID] < position[y.ChunkID]
	})
	return fusion.AssignRanks(fusion.SourceGraphGlobal, hits, k), nil
}
