// Package graph holds the entity graph read by the graph_local source:
// entities, weighted relations between them, and the chunks that mention them.
package graph

import "errors"

// DefaultMaxHops bounds traversal from the query's seed entities.
const DefaultMaxHops = 2

// Errors returned by graph mutations and lookups.
var (
	ErrEntityNotFound = errors.New("entity not found")
	ErrInvalidWeight  = errors.New("weight must be in (0, 1]")
	ErrEmptyID        = errors.New("id must not be empty")
)

// Entity is a named node in the graph.
type Entity struct {
	ID      string   `json:"id" yaml:"id"`
	Name    string   `json:"name" yaml:"name"`
	Type    string   `json:"type,omitempty" yaml:"type,omitempty"`
	Aliases []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// Relation is an undirected weighted edge between two entities.
// Weight is the strength of the association in (0, 1].
type Relation struct {
	From   string  `json:"from" yaml:"from"`
	To     string  `json:"to" yaml:"to"`
	Type   string  `json:"type,omitempty" yaml:"type,omitempty"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// Mention links an entity to a chunk that talks about it.
type Mention struct {
	EntityID string  `json:"entity" yaml:"entity"`
	ChunkID  string  `json:"chunk" yaml:"chunk"`
	Weight   float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// PathHit is a chunk reached by traversal.
type PathHit struct {
	ChunkID string

	// Weight is the product of edge weights along the path times the
	// mention weight.
	Weight float64

	// Hops is the number of relations walked from the seed entity.
	Hops int

	// Path lists entity IDs from the seed to the mentioning entity.
	Path []string
}
