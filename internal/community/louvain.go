package community

import (
	"sort"

	"github.com/Aman-CERP/amanrag/internal/graph"
)

// maxLouvainLevels bounds the number of aggregation rounds.
const maxLouvainLevels = 16

type wgraph struct {
	adj    []map[int]float64 // symmetric; self loops hold twice the internal weight
	degree []float64
	total  float64 // sum of degrees (2m)
}

func newWGraph(n int) *wgraph {
	g := &wgraph{adj: make([]map[int]float64, n), degree: make([]float64, n)}
	for i := range g.adj {
		g.adj[i] = make(map[int]float64)
	}
	return g
}

func (g *wgraph) finish() {
	g.total = 0
	for i := range g.adj {
		var d float64
		for _, j := range g.neighbours(i) {
			d += g.adj[i][j]
		}
		g.degree[i] = d
		g.total += d
	}
}

// neighbours returns node IDs adjacent to i in ascending order.
func (g *wgraph) neighbours(i int) []int {
	out := make([]int, 0, len(g.adj[i]))
	for j := range g.adj[i] {
		out = append(out, j)
	}
	sort.Ints(out)
	return out
}

// Louvain partitions entities by greedy modularity optimisation with
// the given resolution (1.0 is standard modularity). Node order is the
// sorted entity ID order, so results are deterministic. The returned map
// assigns each entity a community number; numbers are dense from 0 in
// order of each community's smallest entity ID.
func Louvain(entities []string, relations []graph.Relation, resolution float64) map[string]int {
	if resolution <= 0 {
		resolution = 1
	}
	ids := append([]string(nil), entities...)
	sort.Strings(ids)
	index := make(map[string]int, len(ids))
	uniq := ids[:0]
	for _, id := range ids {
		if _, dup := index[id]; dup {
			continue
		}
		index[id] = len(uniq)
		uniq = append(uniq, id)
	}
	ids = uniq

	g := newWGraph(len(ids))
	for _, r := range relations {
		u, okU := index[r.From]
		v, okV := index[r.To]
		if !okU || !okV || u == v || r.Weight <= 0 {
			continue
		}
		g.adj[u][v] += r.Weight
		g.adj[v][u] += r.Weight
	}
	g.finish()

	// membership maps original nodes to nodes of the current level.
	membership := make([]int, len(ids))
	for i := range membership {
		membership[i] = i
	}

	for level := 0; level < maxLouvainLevels; level++ {
		comm, moved := localMoving(g, resolution)
		if !moved {
			break
		}
		dense := renumber(comm)
		for i := range membership {
			membership[i] = dense[membership[i]]
		}
		g = aggregate(g, dense)
	}

	// Renumber by smallest member so numbering is independent of levels.
	out := make(map[string]int, len(ids))
	seen := make(map[int]int)
	for i, id := range ids {
		c, ok := seen[membership[i]]
		if !ok {
			c = len(seen)
			seen[membership[i]] = c
		}
		out[id] = c
	}
	return out
}

// localMoving runs phase one: move nodes to the neighbouring community
// with the best modularity gain until no node moves.
func localMoving(g *wgraph, resolution float64) ([]int, bool) {
	n := len(g.adj)
	comm := make([]int, n)
	tot := make([]float64, n)
	for i := range comm {
		comm[i] = i
		tot[i] = g.degree[i]
	}
	if g.total == 0 {
		return comm, false
	}

	movedAny := false
	for pass := 0; pass < 100; pass++ {
		moved := false
		for i := 0; i < n; i++ {
			ki := g.degree[i]
			old := comm[i]
			tot[old] -= ki

			links := make(map[int]float64)
			var order []int
			for _, j := range g.neighbours(i) {
				if j == i {
					continue
				}
				c := comm[j]
				if _, ok := links[c]; !ok {
					order = append(order, c)
				}
				links[c] += g.adj[i][j]
			}

			best := old
			bestGain := links[old] - resolution*tot[old]*ki/g.total
			sort.Ints(order)
			for _, c := range order {
				gain := links[c] - resolution*tot[c]*ki/g.total
				if gain > bestGain || (gain == bestGain && c < best) {
					best, bestGain = c, gain
				}
			}

			comm[i] = best
			tot[best] += ki
			if best != old {
				moved = true
				movedAny = true
			}
		}
		if !moved {
			break
		}
	}
	return comm, movedAny
}

// renumber maps community labels to 0..k-1 in order of first appearance.
func renumber(comm []int) []int {
	mapping := make(map[int]int)
	out := make([]int, len(comm))
	for i, c := range comm {
		d, ok := mapping[c]
		if !ok {
			d = len(mapping)
			mapping[c] = d
		}
		out[i] = d
	}
	return out
}

// aggregate builds the community graph; internal edges become self loops.
func aggregate(g *wgraph, comm []int) *wgraph {
	k := 0
	for _, c := range comm {
		k = max(k, c+1)
	}
	next := newWGraph(k)
	for u := range g.adj {
		for _, v := range g.neighbours(u) {
			next.adj[comm[u]][comm[v]] += g.adj[u][v]
		}
	}
	next.finish()
	return next
}

// Modularity computes Newman modularity of a partition (resolution 1).
func Modularity(relations []graph.Relation, partition map[string]int) float64 {
	var m2 float64
	degree := make(map[string]float64)
	for _, r := range relations {
		if r.From == r.To || r.Weight <= 0 {
			continue
		}
		degree[r.From] += r.Weight
		degree[r.To] += r.Weight
		m2 += 2 * r.Weight
	}
	if m2 == 0 {
		return 0
	}
	var internal float64
	tot := make(map[int]float64)
	for _, r := range relations {
		if r.From == r.To || r.Weight <= 0 {
			continue
		}
		if partition[r.From] == partition[r.To] {
			internal += 2 * r.Weight
		}
	}
	for id, d := range degree {
		tot[partition[id]] += d
	}
	q := internal / m2
	for _, t := range tot {
		q -= (t / m2) * (t / m2)
	}
	return q
}
