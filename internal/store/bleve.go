package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
)

const (
	// TextTokenizerName is the registered name of the identifier-aware tokenizer.
	TextTokenizerName = "amanrag_text_tokenizer"

	// TextStopFilterName is the registered name of the stop word filter.
	TextStopFilterName = "amanrag_text_stop"

	// TextAnalyzerName is the analyzer used for chunk content.
	TextAnalyzerName = "amanrag_text_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(TextTokenizerName, textTokenizerConstructor)
	_ = registry.RegisterTokenFilter(TextStopFilterName, textStopFilterConstructor)
}

// BleveLexicalStore implements LexicalStore with Bleve v2.
// Bleve holds an exclusive BoltDB lock, so only one process may open a
// disk index at a time; the SQLite store is the default for that reason.
type BleveLexicalStore struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ LexicalStore = (*BleveLexicalStore)(nil)

type bleveDocument struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// validateBleveIntegrity checks index_meta.json of an existing index.
func validateBleveIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// NewBleveLexicalStore opens or creates a Bleve index at path. An empty
// path creates an in-memory index. A corrupt index is cleared, since it
// can always be rebuilt with 'amanrag seed'.
func NewBleveLexicalStore(path string) (*BleveLexicalStore, error) {
	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}

		if validErr := validateBleveIntegrity(path); validErr != nil {
			slog.Warn("bleve_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("bleve index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
		}

		idx, err = bleve.Open(path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &BleveLexicalStore{index: idx, path: path}, nil
}

func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(TextAnalyzerName, map[string]any{
		"type":      custom.Name,
		"tokenizer": TextTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			TextStopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = TextAnalyzerName
	return indexMapping, nil
}

// Index adds or replaces chunks.
func (b *BleveLexicalStore) Index(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	batch := b.index.NewBatch()
	for _, c := range chunks {
		if err := batch.Index(c.ID, bleveDocument{Title: c.Title, Content: c.Content}); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", c.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Search runs a disjunctive match over title and content.
func (b *BleveLexicalStore) Search(ctx context.Context, queryStr string, limit int) ([]*LexicalHit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}
	if limit <= 0 || strings.TrimSpace(queryStr) == "" {
		return []*LexicalHit{}, nil
	}

	content := bleve.NewMatchQuery(queryStr)
	content.SetField("content")
	content.SetOperator(query.MatchQueryOperatorOr)
	title := bleve.NewMatchQuery(queryStr)
	title.SetField("title")
	title.SetOperator(query.MatchQueryOperatorOr)

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(content, title))
	req.Size = limit
	req.IncludeLocations = true
	req.SortBy([]string{"-_score", "_id"})

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]*LexicalHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		hits = append(hits, &LexicalHit{
			ChunkID:      hit.ID,
			Score:        hit.Score,
			MatchedTerms: extractMatchedTerms(hit),
		})
	}
	return hits, nil
}

// Delete removes chunks from the index.
func (b *BleveLexicalStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// Count returns the number of indexed chunks.
func (b *BleveLexicalStore) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}
	n, _ := b.index.DocCount()
	return int(n)
}

// Close closes the index. Idempotent.
func (b *BleveLexicalStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

func extractMatchedTerms(hit *search.DocumentMatch) []string {
	terms := make(map[string]struct{})
	for _, locations := range hit.Locations {
		for term := range locations {
			terms[term] = struct{}{}
		}
	}
	result := make([]string, 0, len(terms))
	for term := range terms {
		result = append(result, term)
	}
	sort.Strings(result)
	return result
}

func textTokenizerConstructor(config map[string]any, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveTextTokenizer{}, nil
}

// bleveTextTokenizer adapts Tokenize to Bleve's analysis chain.
type bleveTextTokenizer struct{}

func (t *bleveTextTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lowerText := strings.ToLower(text)
	tokens := Tokenize(text, 2)

	result := make(analysis.TokenStream, 0, len(tokens))
	offset := 0
	for i, token := range tokens {
		if offset > len(lowerText) {
			offset = len(lowerText)
		}
		start := strings.Index(lowerText[offset:], token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)
		if end > len(text) {
			end = len(text)
		}
		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
		offset = end
	}
	return result
}

func textStopFilterConstructor(config map[string]any, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &bleveStopFilter{stopWords: BuildStopWordMap(DefaultStopWords)}, nil
}

type bleveStopFilter struct {
	stopWords map[string]struct{}
}

func (f *bleveStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stopWords[strings.ToLower(string(token.Term))]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
