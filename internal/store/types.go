// Package store provides the chunk, lexical and vector backends that the
// retrieval adapters read from. Writes happen offline (amanrag seed);
// queries only read.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by any operation on a closed store.
var ErrClosed = errors.New("store is closed")

// Chunk is a retrievable unit of text.
type Chunk struct {
	ID       string            `yaml:"id" json:"id"`
	Title    string            `yaml:"title,omitempty" json:"title,omitempty"`
	Content  string            `yaml:"content" json:"content"`
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// ChunkStore persists chunk text for reranking and display.
type ChunkStore interface {
	SaveChunks(ctx context.Context, chunks []*Chunk) error
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)

	// ChunkTexts returns content keyed by chunk ID; unknown IDs are omitted.
	ChunkTexts(ctx context.Context, ids []string) (map[string]string, error)

	Close() error
}

// LexicalHit is one BM25 match.
type LexicalHit struct {
	ChunkID string

	// Score is the BM25 score, higher is better. Unbounded.
	Score float64

	MatchedTerms []string
}

// LexicalStore provides keyword search scored by BM25.
type LexicalStore interface {
	Index(ctx context.Context, chunks []*Chunk) error

	// Search returns at most limit hits, best first.
	Search(ctx context.Context, query string, limit int) ([]*LexicalHit, error)

	Delete(ctx context.Context, ids []string) error
	Count() int
	Close() error
}

// LexicalConfig configures tokenization for lexical stores.
type LexicalConfig struct {
	StopWords      []string
	MinTokenLength int
}

// DefaultLexicalConfig returns the default lexical configuration.
func DefaultLexicalConfig() LexicalConfig {
	return LexicalConfig{
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

// DefaultStopWords are common English function words.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
	"has", "in", "is", "it", "its", "of", "on", "or", "that", "the",
	"to", "was", "were", "what", "when", "where", "which", "who", "why",
	"will", "with", "how", "does", "do", "did",
}

// VectorHit is one nearest-neighbour match.
type VectorHit struct {
	ChunkID  string
	Distance float32

	// Similarity is cosine similarity in [-1, 1] for the cosine metric,
	// 1/(1+d) for L2.
	Similarity float32
}

// VectorStore provides approximate nearest-neighbour search.
type VectorStore interface {
	// Add inserts vectors. Existing IDs are replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search returns at most k hits, nearest first.
	Search(ctx context.Context, query []float32, k int) ([]*VectorHit, error)

	Delete(ctx context.Context, ids []string) error
	Count() int
	Close() error
}

// VectorStoreConfig configures a vector store.
type VectorStoreConfig struct {
	Dimensions int

	// Metric is "cos" or "l2". Default "cos".
	Metric string

	// M is the HNSW max connections per layer.
	M int

	// EfSearch is the HNSW query-time search width.
	EfSearch int
}

// DefaultVectorStoreConfig returns defaults for the given dimension.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// ErrDimensionMismatch indicates a vector of the wrong size.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (re-run 'amanrag seed' with the configured embedder)", e.Expected, e.Got)
}
