package community

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Aman-CERP/amanrag/internal/store"
)

// DefaultTopM is how many communities graph_global expands per query.
const DefaultTopM = 3

// Match is a community similar to a query embedding.
type Match struct {
	CommunityID string
	Similarity  float64
}

// Matcher answers CommunityMatch against an HNSW index over community
// summary embeddings. The index is rebuilt whenever the Community Index
// swaps snapshots; queries in flight keep the index they started with.
type Matcher struct {
	index *Index

	mu    sync.RWMutex
	built *matcherState
}

type matcherState struct {
	snap  *Snapshot
	store *store.HNSWVectorStore
	dims  int
}

// NewMatcher builds a matcher for idx and rebuilds it on every swap.
func NewMatcher(idx *Index) *Matcher {
	m := &Matcher{index: idx}
	m.Rebuild(idx.Load())
	idx.OnSwap(m.Rebuild)
	return m
}

// Rebuild indexes the embeddings of snap. Communities whose embedding
// size differs from the first one are skipped with a warning.
func (m *Matcher) Rebuild(snap *Snapshot) {
	state := &matcherState{snap: snap}
	ids, vecs := snap.embeddings()
	if len(ids) > 0 {
		state.dims = len(vecs[0])
		keepIDs := make([]string, 0, len(ids))
		keepVecs := make([][]float32, 0, len(vecs))
		for i, v := range vecs {
			if len(v) != state.dims {
				slog.Warn("community_embedding_size_mismatch",
					slog.String("community_id", ids[i]),
					slog.Int("expected", state.dims),
					slog.Int("got", len(v)))
				continue
			}
			keepIDs = append(keepIDs, ids[i])
			keepVecs = append(keepVecs, v)
		}

		cfg := store.DefaultVectorStoreConfig(state.dims)
		vs, err := store.NewHNSWVectorStore(cfg)
		if err == nil {
			err = vs.Add(context.Background(), keepIDs, keepVecs)
		}
		if err != nil {
			slog.Error("community_matcher_build_failed", slog.String("error", err.Error()))
		} else {
			state.store = vs
		}
	}

	m.mu.Lock()
	old := m.built
	m.built = state
	m.mu.Unlock()
	if old != nil && old.store != nil {
		_ = old.store.Close()
	}

	slog.Debug("community_matcher_built",
		slog.String("version", snap.Version()),
		slog.Int("indexed", len(ids)),
		slog.Int("dimensions", state.dims))
}

func (m *Matcher) state() *matcherState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.built
}

// Dimensions returns the embedding size of the indexed communities, 0 if none.
func (m *Matcher) Dimensions() int {
	return m.state().dims
}

// CommunityMatch returns up to topM communities most similar to embedding,
// by similarity desc then community ID asc.
func (m *Matcher) CommunityMatch(ctx context.Context, embedding []float32, topM int) ([]Match, error) {
	if topM <= 0 {
		topM = DefaultTopM
	}
	st := m.state()
	if st.store == nil {
		return []Match{}, nil
	}
	if len(embedding) != st.dims {
		return nil, store.ErrDimensionMismatch{Expected: st.dims, Got: len(embedding)}
	}

	hits, err := st.store.Search(ctx, embedding, topM)
	if err != nil {
		// A swap may have closed this store mid-query; retry on the new one.
		if errors.Is(err, store.ErrClosed) && m.state() != st {
			return m.CommunityMatch(ctx, embedding, topM)
		}
		return nil, err
	}
	out := make([]Match, len(hits))
	for i, h := range hits {
		out[i] = Match{CommunityID: h.ChunkID, Similarity: float64(h.Similarity)}
	}
	return out, nil
}

// Snapshot returns the snapshot the current index was built from.
func (m *Matcher) Snapshot() *Snapshot {
	return m.state().snap
}
