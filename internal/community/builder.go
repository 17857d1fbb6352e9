package community

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/fusion"
	"github.com/Aman-CERP/amanrag/internal/graph"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// BuilderConfig tunes the offline clustering job.
type BuilderConfig struct {
	// Resolution is the Louvain resolution; higher gives smaller communities.
	Resolution float64

	// MinSize drops communities with fewer members.
	MinSize int

	// MaxChunks caps the chunks recorded per community.
	MaxChunks int

	// SummaryEntities and SummaryKeywords size the generated summary.
	SummaryEntities int
	SummaryKeywords int
}

// DefaultBuilderConfig returns the defaults used by `amanrag community build`.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		Resolution:      1.0,
		MinSize:         1,
		MaxChunks:       50,
		SummaryEntities: 5,
		SummaryKeywords: 8,
	}
}

// Builder clusters the entity graph into communities and writes a
// statistical summary for each: its most connected entities and the most
// frequent terms of its chunks. Summaries are embedded for graph_global.
type Builder struct {
	graph    *graph.MemoryGraph
	texts    fusion.TextResolver
	embedder embed.Embedder
	cfg      BuilderConfig
	now      func() time.Time
}

// NewBuilder creates a builder. texts and embedder may be nil: without
// texts summaries carry no keywords, without an embedder communities
// have no embedding and graph_global cannot match them.
func NewBuilder(g *graph.MemoryGraph, texts fusion.TextResolver, embedder embed.Embedder, cfg BuilderConfig) *Builder {
	d := DefaultBuilderConfig()
	if cfg.Resolution <= 0 {
		cfg.Resolution = d.Resolution
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = d.MinSize
	}
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = d.MaxChunks
	}
	if cfg.SummaryEntities <= 0 {
		cfg.SummaryEntities = d.SummaryEntities
	}
	if cfg.SummaryKeywords <= 0 {
		cfg.SummaryKeywords = d.SummaryKeywords
	}
	return &Builder{graph: g, texts: texts, embedder: embedder, cfg: cfg, now: time.Now}
}

// Build runs clustering and returns a new Snapshot.
func (b *Builder) Build(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	entities := b.graph.Entities()
	ids := make([]string, len(entities))
	names := make(map[string]string, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
		names[e.ID] = e.Name
	}
	relations := b.graph.Relations()

	partition := Louvain(ids, relations, b.cfg.Resolution)
	groups := make(map[int][]string)
	for _, id := range ids {
		groups[partition[id]] = append(groups[partition[id]], id)
	}

	degree := make(map[string]float64)
	for _, r := range relations {
		degree[r.From] += r.Weight
		degree[r.To] += r.Weight
	}

	var members [][]string
	for _, g := range groups {
		if len(g) >= b.cfg.MinSize {
			sort.Strings(g)
			members = append(members, g)
		}
	}
	// Largest first, then by smallest member, for stable numbering.
	sort.Slice(members, func(i, j int) bool {
		if len(members[i]) != len(members[j]) {
			return len(members[i]) > len(members[j])
		}
		return members[i][0] < members[j][0]
	})

	communities := make([]fusion.Community, len(members))
	for i, m := range members {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunks := b.memberChunks(m)
		keywords, err := b.keywords(ctx, chunks)
		if err != nil {
			return nil, fmt.Errorf("community keywords: %w", err)
		}
		communities[i] = fusion.Community{
			ID:      fmt.Sprintf("community-%03d", i+1),
			Members: m,
			Summary: b.summary(m, names, degree, keywords),
			Chunks:  chunks,
		}
	}

	if b.embedder != nil && len(communities) > 0 {
		summaries := make([]string, len(communities))
		for i, c := range communities {
			summaries[i] = c.Summary
		}
		vecs, err := b.embedder.EmbedBatch(ctx, summaries)
		if err != nil {
			return nil, fmt.Errorf("embed community summaries: %w", err)
		}
		for i := range communities {
			communities[i].Embedding = vecs[i]
		}
	}

	builtAt := b.now().UTC()
	snap, err := NewSnapshot(builtAt.Format("20060102T150405Z"), builtAt, communities)
	if err != nil {
		return nil, err
	}

	slog.Info("community_build_complete",
		slog.Int("entities", len(ids)),
		slog.Int("communities", snap.Len()),
		slog.Float64("modularity", Modularity(relations, partition)),
		slog.Duration("duration", time.Since(start)))
	return snap, nil
}

// memberChunks collects chunks mentioning any member, ordered by summed
// mention weight desc then chunk ID, capped at MaxChunks.
func (b *Builder) memberChunks(members []string) []string {
	weight := make(map[string]float64)
	for _, id := range members {
		for _, m := range b.graph.Mentions(id) {
			weight[m.ChunkID] += m.Weight
		}
	}
	chunks := make([]string, 0, len(weight))
	for id := range weight {
		chunks = append(chunks, id)
	}
	sort.Slice(chunks, func(i, j int) bool {
		if weight[chunks[i]] != weight[chunks[j]] {
			return weight[chunks[i]] > weight[chunks[j]]
		}
		return chunks[i] < chunks[j]
	})
	if len(chunks) > b.cfg.MaxChunks {
		chunks = chunks[:b.cfg.MaxChunks]
	}
	return chunks
}

func (b *Builder) keywords(ctx context.Context, chunks []string) ([]string, error) {
	if b.texts == nil || len(chunks) == 0 {
		return nil, nil
	}
	texts, err := b.texts.ChunkTexts(ctx, chunks)
	if err != nil {
		return nil, err
	}
	stop := store.BuildStopWordMap(store.DefaultStopWords)
	counts := make(map[string]int)
	for _, id := range chunks {
		for _, tok := range store.FilterStopWords(store.Tokenize(texts[id], 3), stop) {
			counts[tok]++
		}
	}
	terms := make([]string, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > b.cfg.SummaryKeywords {
		terms = terms[:b.cfg.SummaryKeywords]
	}
	return terms, nil
}

func (b *Builder) summary(members []string, names map[string]string, degree map[string]float64, keywords []string) string {
	ranked := append([]string(nil), members...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return degree[ranked[i]] > degree[ranked[j]]
	})
	top := ranked
	if len(top) > b.cfg.SummaryEntities {
		top = top[:b.cfg.SummaryEntities]
	}
	display := make([]string, len(top))
	for i, id := range top {
		display[i] = names[id]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Entities: %s", strings.Join(display, ", "))
	if extra := len(members) - len(top); extra > 0 {
		fmt.Fprintf(&sb, " (+%d more)", extra)
	}
	sb.WriteString(".")
	if len(keywords) > 0 {
		fmt.Fprintf(&sb, " Topics: %s.", strings.Join(keywords, ", "))
	}
	return sb.String()
}
