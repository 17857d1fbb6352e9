// Package classifier produces routing weights for a query when the caller
// does not supply them. It inspects the query shape (identifiers, quoted
// phrases, relationship words, corpus-wide wording) and maps the result
// to a weight per retrieval source.
package classifier

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/amanrag/internal/fusion"
)

// DefaultCacheSize bounds the classification cache.
const DefaultCacheSize = 10000

// QueryType is the routing category of a query.
type QueryType string

const (
	// QueryTypeLexical needs exact matches: identifiers, codes, quotes, paths.
	QueryTypeLexical QueryType = "LEXICAL"

	// QueryTypeSemantic is natural language seeking meaning.
	QueryTypeSemantic QueryType = "SEMANTIC"

	// QueryTypeRelational asks how entities connect.
	QueryTypeRelational QueryType = "RELATIONAL"

	// QueryTypeGlobal asks about themes across the whole corpus.
	QueryTypeGlobal QueryType = "GLOBAL"

	// QueryTypeMixed is anything else, usually short keyword queries.
	QueryTypeMixed QueryType = "MIXED"
)

// AllQueryTypes lists every query type.
func AllQueryTypes() []QueryType {
	return []QueryType{QueryTypeLexical, QueryTypeSemantic, QueryTypeRelational, QueryTypeGlobal, QueryTypeMixed}
}

// ParseQueryType accepts a type name in any case.
func ParseQueryType(s string) (QueryType, bool) {
	qt := QueryType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllQueryTypes() {
		if qt == known {
			return qt, true
		}
	}
	return "", false
}

// Classifier maps a query to routing weights. On error implementations
// return QueryTypeMixed with its weights alongside the error.
type Classifier interface {
	Classify(ctx context.Context, query string) (QueryType, fusion.RoutingWeights, error)
}

// WeightsFor returns the default routing weights of a query type.
// Unknown types get the mixed weights.
func WeightsFor(qt QueryType) fusion.RoutingWeights {
	switch qt {
	case QueryTypeLexical:
		return fusion.RoutingWeights{
			fusion.SourceVector: 0.3, fusion.SourceLexical: 1.0,
			fusion.SourceGraphLocal: 0.4, fusion.SourceGraphGlobal: 0.1,
		}
	case QueryTypeSemantic:
		return fusion.RoutingWeights{
			fusion.SourceVector: 1.0, fusion.SourceLexical: 0.4,
			fusion.SourceGraphLocal: 0.3, fusion.SourceGraphGlobal: 0.3,
		}
	case QueryTypeRelational:
		return fusion.RoutingWeights{
			fusion.SourceVector: 0.5, fusion.SourceLexical: 0.3,
			fusion.SourceGraphLocal: 1.0, fusion.SourceGraphGlobal: 0.4,
		}
	case QueryTypeGlobal:
		return fusion.RoutingWeights{
			fusion.SourceVector: 0.5, fusion.SourceLexical: 0.2,
			fusion.SourceGraphLocal: 0.3, fusion.SourceGraphGlobal: 1.0,
		}
	default:
		return fusion.RoutingWeights{
			fusion.SourceVector: 0.7, fusion.SourceLexical: 0.6,
			fusion.SourceGraphLocal: 0.4, fusion.SourceGraphGlobal: 0.3,
		}
	}
}

func copyWeights(w fusion.RoutingWeights) fusion.RoutingWeights {
	out := make(fusion.RoutingWeights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

type classification struct {
	queryType QueryType
	weights   fusion.RoutingWeights
}

// Cached memoises an inner classifier by normalised query text.
// Failed classifications are not cached.
type Cached struct {
	inner Classifier
	cache *lru.Cache[string, classification]
}

var _ Classifier = (*Cached)(nil)

// NewCached wraps inner with an LRU cache of size entries.
func NewCached(inner Classifier, size int) *Cached {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, classification](size)
	return &Cached{inner: inner, cache: cache}
}

// Classify returns a cached result or asks the inner classifier.
func (c *Cached) Classify(ctx context.Context, query string) (QueryType, fusion.RoutingWeights, error) {
	key := normalizeQuery(query)
	if key == "" {
		return QueryTypeMixed, WeightsFor(QueryTypeMixed), nil
	}
	if hit, ok := c.cache.Get(key); ok {
		return hit.queryType, copyWeights(hit.weights), nil
	}
	qt, w, err := c.inner.Classify(ctx, query)
	if err != nil {
		return qt, w, err
	}
	c.cache.Add(key, classification{queryType: qt, weights: copyWeights(w)})
	return qt, w, nil
}

// Len returns the number of cached classifications.
func (c *Cached) Len() int {
	return c.cache.Len()
}

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}
