package source

import (
	"sort"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/store"
)

// DefaultMaxExpansions caps synonyms added per query term.
const DefaultMaxExpansions = 3

// DefaultSynonyms bridge common vocabulary gaps between how questions are
// asked and how technical documents are written.
var DefaultSynonyms = map[string][]string{
	"auth":           {"authentication", "authorization", "login"},
	"authentication": {"auth", "login", "credentials"},
	"login":          {"signin", "authentication", "session"},
	"config":         {"configuration", "settings", "options"},
	"configuration":  {"config", "settings"},
	"settings":       {"config", "configuration", "preferences"},
	"error":          {"failure", "exception", "fault"},
	"failure":        {"error", "outage", "fault"},
	"db":             {"database", "storage"},
	"database":       {"db", "storage", "store"},
	"delete":         {"remove", "drop", "purge"},
	"remove":         {"delete", "drop"},
	"create":         {"add", "new", "insert"},
	"fetch":          {"get", "retrieve", "load"},
	"retrieve":       {"fetch", "get", "lookup"},
	"payment":        {"billing", "charge", "transaction"},
	"invoice":        {"bill", "billing", "receipt"},
	"user":           {"account", "customer", "member"},
	"latency":        {"delay", "slowness", "performance"},
	"deploy":         {"release", "rollout", "ship"},
}

// Expander appends synonyms to a lexical query. BM25 only matches exact
// terms, so "auth flow" also searches "authentication" and "login".
// Vector and graph sources use the original text.
type Expander struct {
	synonyms      map[string][]string
	maxExpansions int
}

// NewExpander creates an expander over DefaultSynonyms plus extra.
// Terms in extra are lowercased; their synonyms are appended to the defaults.
func NewExpander(extra map[string][]string, maxExpansions int) *Expander {
	if maxExpansions <= 0 {
		maxExpansions = DefaultMaxExpansions
	}
	e := &Expander{synonyms: make(map[string][]string, len(DefaultSynonyms)+len(extra)), maxExpansions: maxExpansions}
	for k, v := range DefaultSynonyms {
		e.synonyms[k] = append([]string(nil), v...)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		term := strings.ToLower(strings.TrimSpace(k))
		if term == "" {
			continue
		}
		e.synonyms[term] = append(e.synonyms[term], extra[k]...)
	}
	return e
}

// Expand returns the original terms followed by up to maxExpansions
// synonyms per term, lowercased and deduplicated.
func (e *Expander) Expand(query string) string {
	terms := store.Tokenize(query, 1)
	if len(terms) == 0 {
		return query
	}

	seen := make(map[string]struct{}, len(terms))
	expanded := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			expanded = append(expanded, t)
		}
	}
	for _, t := range terms {
		added := 0
		for _, syn := range e.synonyms[t] {
			if added >= e.maxExpansions {
				break
			}
			syn = strings.ToLower(syn)
			if _, ok := seen[syn]; ok {
				continue
			}
			seen[syn] = struct{}{}
			expanded = append(expanded, syn)
			added++
		}
	}
	return strings.Join(expanded, " ")
}
