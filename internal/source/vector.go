package source

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/fusion"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// VectorAdapter ranks chunks by embedding similarity to the query.
// Raw score is cosine similarity in [-1, 1].
type VectorAdapter struct {
	embedder embed.Embedder
	store    store.VectorStore
}

var _ fusion.Adapter = (*VectorAdapter)(nil)

// NewVectorAdapter creates the vector source.
func NewVectorAdapter(embedder embed.Embedder, vs store.VectorStore) *VectorAdapter {
	return &VectorAdapter{embedder: embedder, store: vs}
}

// Search embeds the query (and each sub-query) and returns the k nearest chunks.
func (a *VectorAdapter) Search(ctx context.Context, q fusion.Query, k int) ([]fusion.RankedItem, error) {
	if k <= 0 {
		return []fusion.RankedItem{}, nil
	}
	hits, err := searchAll(ctx, fusion.SourceVector, q, func(ctx context.Context, text string) ([]fusion.Scored, error) {
		return a.searchText(ctx, text, k)
	}, nil)
	if err != nil {
		return nil, err
	}
	return fusion.AssignRanks(fusion.SourceVector, hits, k), nil
}

func (a *VectorAdapter) searchText(ctx context.Context, text string, k int) ([]fusion.Scored, error) {
	embedding, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := a.store.Search(ctx, embedding, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	hits := make([]fusion.Scored, 0, len(results))
	for _, r := range results {
		hits = append(hits, fusion.Scored{ChunkID: r.ChunkID, Score: float64(r.Similarity)})
	}
	return hits, nil
}
