// Package ner finds known graph entities mentioned in query text.
package ner

import (
	"context"
	"sort"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/graph"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// Match is one entity found in text.
type Match struct {
	EntityID string
	Surface  string // the matched name or alias, as tokens joined by spaces
	Start    int    // token offset in the text
}

// EntitySource lists the entities a gazetteer can recognise.
type EntitySource interface {
	Entities() []graph.Entity
}

// Gazetteer is a dictionary entity extractor: it matches entity names and
// aliases as token sequences, longest match first, case-insensitively.
// Identifier-style names match their split form, so "BillingService"
// in a query matches an entity named "Billing Service".
type Gazetteer struct {
	phrases  map[string][]string // joined tokens -> entity IDs
	maxWords int
	minLen   int
}

// NewGazetteer indexes the names and aliases of every entity in src.
func NewGazetteer(src EntitySource) *Gazetteer {
	g := &Gazetteer{phrases: make(map[string][]string), minLen: 1}
	for _, e := range src.Entities() {
		names := append([]string{e.Name, e.ID}, e.Aliases...)
		for _, name := range names {
			g.add(name, e.ID)
		}
	}
	for key := range g.phrases {
		sort.Strings(g.phrases[key])
	}
	return g
}

func (g *Gazetteer) add(name, id string) {
	tokens := store.Tokenize(name, g.minLen)
	if len(tokens) == 0 {
		return
	}
	key := strings.Join(tokens, " ")
	for _, existing := range g.phrases[key] {
		if existing == id {
			return
		}
	}
	g.phrases[key] = append(g.phrases[key], id)
	g.maxWords = max(g.maxWords, len(tokens))
}

// Size returns the number of distinct phrases indexed.
func (g *Gazetteer) Size() int {
	return len(g.phrases)
}

// Find returns every entity match in text, left to right. At each
// position the longest phrase wins and matching resumes after it.
func (g *Gazetteer) Find(text string) []Match {
	tokens := store.Tokenize(text, g.minLen)
	var matches []Match
	for i := 0; i < len(tokens); {
		matched := 0
		for n := min(g.maxWords, len(tokens)-i); n > 0; n-- {
			key := strings.Join(tokens[i:i+n], " ")
			ids, ok := g.phrases[key]
			if !ok {
				continue
			}
			for _, id := range ids {
				matches = append(matches, Match{EntityID: id, Surface: key, Start: i})
			}
			matched = n
			break
		}
		if matched == 0 {
			matched = 1
		}
		i += matched
	}
	return matches
}

// Extract returns the distinct entity IDs mentioned in text, sorted.
// No match is an empty result, not an error.
func (g *Gazetteer) Extract(ctx context.Context, text string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, m := range g.Find(text) {
		if _, dup := seen[m.EntityID]; dup {
			continue
		}
		seen[m.EntityID] = struct{}{}
		ids = append(ids, m.EntityID)
	}
	sort.Strings(ids)
	return ids, nil
}
