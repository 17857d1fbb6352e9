package fusion

import (
	"fmt"
	"sort"
)

// DefaultRRFConstant is the standard RRF smoothing constant k.
const DefaultRRFConstant = 60

// Normalizer turns rank positions into comparable RRF contributions.
// Raw scores from different sources are never compared directly.
type Normalizer struct {
	K int
}

// NewNormalizer creates a Normalizer; k <= 0 falls back to DefaultRRFConstant.
func NewNormalizer(k int) Normalizer {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return Normalizer{K: k}
}

// RRFScore returns 1/(k+rank). Ranks below 1 contribute nothing.
func (n Normalizer) RRFScore(rank int) float64 {
	if rank <= 0 {
		return 0
	}
	return 1.0 / float64(n.K+rank)
}

// Scored is a raw backend hit before it has a rank.
type Scored struct {
	ChunkID  string
	Score    float64
	Text     string
	Metadata map[string]any
}

// AssignRanks converts hits, already in backend order, into dense 1-based
// RankedItems for source. Duplicate ChunkIDs keep their first position.
// At most k items are returned when k > 0.
func AssignRanks(source SourceName, hits []Scored, k int) []RankedItem {
	items := make([]RankedItem, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		if k > 0 && len(items) >= k {
			break
		}
		if h.ChunkID == "" {
			continue
		}
		if _, dup := seen[h.ChunkID]; dup {
			continue
		}
		seen[h.ChunkID] = struct{}{}
		items = append(items, RankedItem{
			ChunkID:  h.ChunkID,
			Source:   source,
			Score:    h.Score,
			Rank:     len(items) + 1,
			Text:     h.Text,
			Metadata: h.Metadata,
		})
	}
	return items
}

// SortScored orders hits by descending score. Equal scores fall back to
// tieLess when given, then to ChunkID ascending.
func SortScored(hits []Scored, tieLess func(a, b Scored) bool) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if tieLess != nil {
			if tieLess(a, b) {
				return true
			}
			if tieLess(b, a) {
				return false
			}
		}
		return a.ChunkID < b.ChunkID
	})
}

// ValidateRanks checks that items form a dense 1..n ranking with unique chunks.
func ValidateRanks(items []RankedItem) error {
	seen := make(map[string]struct{}, len(items))
	for i, it := range items {
		if it.Rank != i+1 {
			return fmt.Errorf("item %d (%s) has rank %d, want %d", i, it.ChunkID, it.Rank, i+1)
		}
		if _, dup := seen[it.ChunkID]; dup {
			return fmt.Errorf("chunk %s appears twice", it.ChunkID)
		}
		seen[it.ChunkID] = struct{}{}
	}
	return nil
}

// rerankDense rebuilds ranks from list order after ValidateRanks failed.
func rerankDense(source SourceName, items []RankedItem, k int) []RankedItem {
	hits := make([]Scored, len(items))
	for i, it := range items {
		hits[i] = Scored{ChunkID: it.ChunkID, Score: it.Score, Text: it.Text, Metadata: it.Metadata}
	}
	return AssignRanks(source, hits, k)
}
