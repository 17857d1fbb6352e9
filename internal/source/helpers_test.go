package source

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Aman-CERP/amanrag/internal/community"
	"github.com/Aman-CERP/amanrag/internal/store"
)

var errBackendDown = errors.New("backend down")

// mockLexical returns canned hits per query string.
type mockLexical struct {
	mu      sync.Mutex
	hits    map[string][]*store.LexicalHit
	fail    map[string]error
	queries []string
	calls   atomic.Int32
}

func newMockLexical() *mockLexical {
	return &mockLexical{hits: make(map[string][]*store.LexicalHit), fail: make(map[string]error)}
}

func (m *mockLexical) Index(context.Context, []*store.Chunk) error { return nil }

func (m *mockLexical) Search(ctx context.Context, query string, limit int) ([]*store.LexicalHit, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.queries = append(m.queries, query)
	hits, err := m.hits[query], m.fail[query]
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *mockLexical) Delete(context.Context, []string) error { return nil }
func (m *mockLexical) Count() int                             { return 0 }
func (m *mockLexical) Close() error                           { return nil }

// mockExtractor returns fixed entities.
type mockExtractor struct {
	entities []string
	err      error
	texts    []string
}

func (m *mockExtractor) Extract(_ context.Context, text string) ([]string, error) {
	m.texts = append(m.texts, text)
	return m.entities, m.err
}

// mockMatcher returns fixed community matches.
type mockMatcher struct {
	matches []community.Match
	err     error
	calls   atomic.Int32
}

func (m *mockMatcher) CommunityMatch(context.Context, []float32, int) ([]community.Match, error) {
	m.calls.Add(1)
	return m.matches, m.err
}

// failingEmbedder always errors.
type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errBackendDown
}
func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errBackendDown
}
func (failingEmbedder) Dimensions() int                { return 8 }
func (failingEmbedder) ModelName() string              { return "failing" }
func (failingEmbedder) Available(context.Context) bool { return false }
func (failingEmbedder) Close() error                   { return nil }
