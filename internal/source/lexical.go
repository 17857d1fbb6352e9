package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/amanrag/internal/fusion"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// LexicalAdapter ranks chunks by BM25 keyword relevance.
// Raw score is the unbounded BM25 score.
type LexicalAdapter struct {
	store    store.LexicalStore
	expander *Expander
}

var _ fusion.Adapter = (*LexicalAdapter)(nil)

// LexicalOption configures a LexicalAdapter.
type LexicalOption func(*LexicalAdapter)

// WithExpander enables synonym expansion of lexical queries.
func WithExpander(e *Expander) LexicalOption {
	return func(a *LexicalAdapter) {
		a.expander = e
	}
}

// NewLexicalAdapter creates the lexical source.
func NewLexicalAdapter(ls store.LexicalStore, opts ...LexicalOption) *LexicalAdapter {
	a := &LexicalAdapter{store: ls}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Search runs BM25 for the query and each sub-query.
// Hits carry the query terms they matched under MetaMatchedTerms.
func (a *LexicalAdapter) Search(ctx context.Context, q fusion.Query, k int) ([]fusion.RankedItem, error) {
	if k <= 0 {
		return []fusion.RankedItem{}, nil
	}
	hits, err := searchAll(ctx, fusion.SourceLexical, q, func(ctx context.Context, text string) ([]fusion.Scored, error) {
		return a.searchText(ctx, text, k)
	}, mergeMatchedTerms)
	if err != nil {
		return nil, err
	}
	return fusion.AssignRanks(fusion.SourceLexical, hits, k), nil
}

func (a *LexicalAdapter) searchText(ctx context.Context, text string, k int) ([]fusion.Scored, error) {
	query := text
	if a.expander != nil {
		query = a.expander.Expand(text)
		if query != text {
			slog.Debug("lexical_query_expanded",
				slog.String("original", text),
				slog.String("expanded", query))
		}
	}

	results, err := a.store.Search(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}
	hits := make([]fusion.Scored, 0, len(results))
	for _, r := range results {
		h := fusion.Scored{ChunkID: r.ChunkID, Score: r.Score}
		if len(r.MatchedTerms) > 0 {
			h.Metadata = map[string]any{fusion.MetaMatchedTerms: append([]string(nil), r.MatchedTerms...)}
		}
		hits = append(hits, h)
	}
	return hits, nil
}
