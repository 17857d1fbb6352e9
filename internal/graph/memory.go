package graph

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

type edge struct {
	to     string
	typ    string
	weight float64
}

// MemoryGraph is an in-memory entity graph safe for concurrent reads.
// Writers take the lock; Traverse only reads.
type MemoryGraph struct {
	mu       sync.RWMutex
	entities map[string]*Entity
	adj      map[string][]edge
	mentions map[string][]Mention // entity -> mentions
}

// NewMemoryGraph creates an empty graph.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		entities: make(map[string]*Entity),
		adj:      make(map[string][]edge),
		mentions: make(map[string][]Mention),
	}
}

// AddEntity inserts or replaces an entity.
func (g *MemoryGraph) AddEntity(e Entity) error {
	if strings.TrimSpace(e.ID) == "" {
		return ErrEmptyID
	}
	if e.Name == "" {
		e.Name = e.ID
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entities[e.ID] = &e
	return nil
}

// AddRelation adds an undirected edge. Both entities must exist. Adding
// the same pair twice keeps the stronger weight.
func (g *MemoryGraph) AddRelation(r Relation) error {
	if r.Weight <= 0 || r.Weight > 1 {
		return fmt.Errorf("relation %s-%s: %w", r.From, r.To, ErrInvalidWeight)
	}
	if r.From == r.To {
		return fmt.Errorf("relation %s-%s: self loops are not allowed", r.From, r.To)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range []string{r.From, r.To} {
		if _, ok := g.entities[id]; !ok {
			return fmt.Errorf("relation endpoint %q: %w", id, ErrEntityNotFound)
		}
	}
	g.setEdge(r.From, edge{to: r.To, typ: r.Type, weight: r.Weight})
	g.setEdge(r.To, edge{to: r.From, typ: r.Type, weight: r.Weight})
	return nil
}

// setEdge must be called with the write lock held.
func (g *MemoryGraph) setEdge(from string, e edge) {
	edges := g.adj[from]
	for i := range edges {
		if edges[i].to == e.to {
			if e.weight > edges[i].weight {
				edges[i] = e
			}
			return
		}
	}
	edges = append(edges, e)
	sort.Slice(edges, func(i, j int) bool { return edges[i].to < edges[j].to })
	g.adj[from] = edges
}

// AddMention links an entity to a chunk. Weight 0 means 1.
func (g *MemoryGraph) AddMention(m Mention) error {
	if m.ChunkID == "" {
		return ErrEmptyID
	}
	if m.Weight == 0 {
		m.Weight = 1
	}
	if m.Weight < 0 || m.Weight > 1 {
		return fmt.Errorf("mention %s in %s: %w", m.EntityID, m.ChunkID, ErrInvalidWeight)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.entities[m.EntityID]; !ok {
		return fmt.Errorf("mention entity %q: %w", m.EntityID, ErrEntityNotFound)
	}
	list := g.mentions[m.EntityID]
	for i := range list {
		if list[i].ChunkID == m.ChunkID {
			list[i].Weight = max(list[i].Weight, m.Weight)
			return nil
		}
	}
	g.mentions[m.EntityID] = append(list, m)
	return nil
}

// Entity returns a copy of the entity with the given ID.
func (g *MemoryGraph) Entity(id string) (Entity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entities[id]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// Entities returns all entities sorted by ID.
func (g *MemoryGraph) Entities() []Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Entity, 0, len(g.entities))
	for _, e := range g.entities {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Relations returns each undirected edge once, From < To, sorted.
func (g *MemoryGraph) Relations() []Relation {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Relation
	for from, edges := range g.adj {
		for _, e := range edges {
			if from < e.to {
				out = append(out, Relation{From: from, To: e.to, Type: e.typ, Weight: e.weight})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// Neighbors returns the entities adjacent to id with edge weights.
func (g *MemoryGraph) Neighbors(id string) map[string]float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]float64, len(g.adj[id]))
	for _, e := range g.adj[id] {
		out[e.to] = e.weight
	}
	return out
}

// Mentions returns the mentions of an entity sorted by weight desc, chunk asc.
func (g *MemoryGraph) Mentions(entityID string) []Mention {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := slices.Clone(g.mentions[entityID])
	sortMentions(out)
	return out
}

// AllMentions returns every mention sorted by entity then chunk.
func (g *MemoryGraph) AllMentions() []Mention {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Mention
	for _, list := range g.mentions {
		out = append(out, list...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

func sortMentions(ms []Mention) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Weight != ms[j].Weight {
			return ms[i].Weight > ms[j].Weight
		}
		return ms[i].ChunkID < ms[j].ChunkID
	})
}

// Stats reports graph size.
type Stats struct {
	Entities  int
	Relations int
	Mentions  int
}

// Stats returns the number of entities, undirected relations and mentions.
func (g *MemoryGraph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := Stats{Entities: len(g.entities)}
	for _, edges := range g.adj {
		s.Relations += len(edges)
	}
	s.Relations /= 2
	for _, list := range g.mentions {
		s.Mentions += len(list)
	}
	return s
}

// reach is the best known way to an entity during traversal.
type reach struct {
	weight float64
	hops   int
	path   []string
}

// Traverse walks at most maxHops relations breadth-first from the seed
// entities. Each entity is reached by its shortest path; among shortest
// paths the one with the largest weight product wins, then the
// lexicographically smaller path. Every chunk mentioning a reached entity
// is scored path weight times mention weight; a chunk reached several
// ways keeps the highest score, then the fewest hops.
//
// Results are ordered by weight desc, hops asc, chunk ID asc. Unknown
// seeds are ignored. maxHops < 0 is treated as 0.
func (g *MemoryGraph) Traverse(ctx context.Context, seeds []string, maxHops int) ([]PathHit, error) {
	if maxHops < 0 {
		maxHops = 0
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	best := make(map[string]reach)
	var frontier []string
	for _, id := range uniqueSorted(seeds) {
		if _, ok := g.entities[id]; !ok {
			continue
		}
		best[id] = reach{weight: 1, hops: 0, path: []string{id}}
		frontier = append(frontier, id)
	}

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		layer := make(map[string]reach)
		for _, from := range frontier {
			src := best[from]
			for _, e := range g.adj[from] {
				if _, seen := best[e.to]; seen {
					continue
				}
				cand := reach{weight: src.weight * e.weight, hops: hop}
				if cur, ok := layer[e.to]; ok && !betterReach(cand.weight, src.path, cur) {
					continue
				}
				cand.path = append(slices.Clone(src.path), e.to)
				layer[e.to] = cand
			}
		}
		frontier = frontier[:0]
		for id, r := range layer {
			best[id] = r
			frontier = append(frontier, id)
		}
		sort.Strings(frontier)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hits := make(map[string]PathHit)
	for entityID, r := range best {
		for _, m := range g.mentions[entityID] {
			cand := PathHit{ChunkID: m.ChunkID, Weight: r.weight * m.Weight, Hops: r.hops, Path: r.path}
			if cur, ok := hits[m.ChunkID]; ok && !betterHit(cand, cur) {
				continue
			}
			hits[m.ChunkID] = cand
		}
	}

	out := make([]PathHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, h)
	}
	SortHits(out)
	return out, nil
}

// betterReach compares a candidate extension (weight, via parent path) to
// the current best at the same hop count.
func betterReach(weight float64, parentPath []string, cur reach) bool {
	if weight != cur.weight {
		return weight > cur.weight
	}
	return slices.Compare(parentPath, cur.path[:len(cur.path)-1]) < 0
}

func betterHit(a, b PathHit) bool {
	if a.Weight != b.Weight {
		return a.Weight > b.Weight
	}
	if a.Hops != b.Hops {
		return a.Hops < b.Hops
	}
	return slices.Compare(a.Path, b.Path) < 0
}

// SortHits orders hits by weight desc, hops asc, chunk ID asc.
func SortHits(hits []PathHit) {
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		if a.Hops != b.Hops {
			return a.Hops < b.Hops
		}
		return a.ChunkID < b.ChunkID
	})
}

func uniqueSorted(ids []string) []string {
	out := slices.Clone(ids)
	sort.Strings(out)
	return slices.Compact(out)
}
