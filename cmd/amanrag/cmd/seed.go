package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/embed"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/graph"
	"github.com/Aman-CERP/amanrag/internal/ner"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// seedBatchSize is how many chunks are embedded and written per batch.
const seedBatchSize = 64

// maxParagraphChunk bounds the characters merged into one file chunk.
const maxParagraphChunk = 1500

// dataset is the YAML seed format.
type dataset struct {
	Chunks    []*store.Chunk   `yaml:"chunks"`
	Entities  []graph.Entity   `yaml:"entities"`
	Relations []graph.Relation `yaml:"relations"`
	Mentions  []graph.Mention  `yaml:"mentions"`
}

type seedOptions struct {
	files     []string
	root      string
	link      bool
	noVectors bool
}

func newSeedCmd() *cobra.Command {
	opts := &seedOptions{}

	cmd := &cobra.Command{
		Use:   "seed [dataset.yaml...]",
		Short: "Load chunks and the entity graph into the stores",
		Long: `Write chunks to the chunk, lexical and vector stores and entities,
relations and mentions to the graph.

A dataset file is YAML with chunks, entities, relations and mentions lists.
Plain text files can be added with --files; each is split into paragraph
chunks identified by path and position.

Examples:
  amanrag seed corpus.yaml
  amanrag seed graph.yaml --files "docs/**/*.md" --link`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(opts.files) == 0 {
				return amerrors.InvalidInput("nothing to seed: pass a dataset file or --files")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runSeed(ctx, cmd, cfg, args, opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.files, "files", nil, "Glob of text files to chunk, e.g. \"docs/**/*.md\" (repeatable)")
	cmd.Flags().StringVar(&opts.root, "root", ".", "Directory --files globs are relative to")
	cmd.Flags().BoolVar(&opts.link, "link", false, "Add mentions for entity names found in chunk text")
	cmd.Flags().BoolVar(&opts.noVectors, "no-vectors", false, "Skip embedding (lexical and graph only)")

	return cmd
}

func runSeed(ctx context.Context, cmd *cobra.Command, cfg *config.Config, datasets []string, opts *seedOptions) error {
	out := output.New(cmd.OutOrStdout())

	data := &dataset{}
	for _, path := range datasets {
		d, err := loadDataset(path)
		if err != nil {
			return err
		}
		data.merge(d)
	}
	if len(opts.files) > 0 {
		chunks, err := chunksFromFiles(os.DirFS(opts.root), opts.files)
		if err != nil {
			return err
		}
		data.Chunks = append(data.Chunks, chunks...)
	}

	paths := cfg.Paths()
	if err := os.MkdirAll(paths.DataDir, 0o755); err != nil {
		return amerrors.Wrap(amerrors.ErrCodeStoreIO, err)
	}

	g, err := seedGraph(ctx, paths, data, opts.link)
	if err != nil {
		return err
	}
	if err := seedChunks(ctx, cfg, out, data.Chunks, opts.noVectors); err != nil {
		return err
	}

	stats := g.Stats()
	out.Successf("Seeded %d chunks into %s", len(data.Chunks), paths.DataDir)
	out.KeyValue("Entities", stats.Entities)
	out.KeyValue("Relations", stats.Relations)
	out.KeyValue("Mentions", stats.Mentions)
	out.Status("💡", "Run 'amanrag community build' to refresh community summaries")
	return nil
}

// seedGraph merges the dataset into the saved graph. With link, entity
// names found in chunk text become mentions.
func seedGraph(ctx context.Context, paths store.Paths, data *dataset, link bool) (*graph.MemoryGraph, error) {
	g, err := graph.LoadSQLite(ctx, paths.GraphDB())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		g = graph.NewMemoryGraph()
	}

	for _, e := range data.Entities {
		if err := g.AddEntity(e); err != nil {
			return nil, amerrors.InvalidInput("entity %q: %v", e.ID, err)
		}
	}
	for _, r := range data.Relations {
		if err := g.AddRelation(r); err != nil {
			return nil, amerrors.InvalidInput("relation %s-%s: %v", r.From, r.To, err)
		}
	}
	for _, m := range data.Mentions {
		if err := g.AddMention(m); err != nil {
			return nil, amerrors.InvalidInput("mention: %v", err)
		}
	}

	if link && len(data.Chunks) > 0 {
		gaz := ner.NewGazetteer(g)
		linked := 0
		for _, c := range data.Chunks {
			ids, err := gaz.Extract(ctx, c.Title+" "+c.Content)
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				if err := g.AddMention(graph.Mention{EntityID: id, ChunkID: c.ID}); err != nil {
					return nil, err
				}
				linked++
			}
		}
		slog.Debug("seed_mentions_linked", slog.Int("mentions", linked))
	}

	if err := graph.SaveSQLite(ctx, paths.GraphDB(), g); err != nil {
		return nil, err
	}
	return g, nil
}

// seedChunks writes chunks to the chunk, lexical and vector stores in batches.
func seedChunks(ctx context.Context, cfg *config.Config, out *output.Writer, chunks []*store.Chunk, noVectors bool) error {
	if len(chunks) == 0 {
		return nil
	}
	paths := cfg.Paths()

	chunkStore, err := store.NewSQLiteStore(paths.ChunksDB(), store.DefaultLexicalConfig())
	if err != nil {
		return err
	}
	defer func() { _ = chunkStore.Close() }()

	lexical, err := store.OpenLexical(cfg.Stores.LexicalBackend, paths, chunkStore)
	if err != nil {
		return err
	}
	if lexical != store.LexicalStore(chunkStore) {
		defer func() { _ = lexical.Close() }()
	}

	var (
		embedder embed.Embedder
		vectors  store.VectorStore
	)
	if !noVectors {
		embedder, err = embed.NewEmbedder(ctx, cfg.EmbedOptions())
		if err != nil {
			return err
		}
		defer func() { _ = embedder.Close() }()

		vectors, err = store.OpenVector(ctx, cfg.Stores.VectorBackend, paths, store.VectorOptions{
			Dimensions:  embedder.Dimensions(),
			PostgresDSN: cfg.Stores.PostgresDSN,
			Table:       cfg.Stores.PGTable,
			Create:      true,
		})
		if err != nil {
			return err
		}
		defer func() { _ = vectors.Close() }()
	}

	bar := output.NewProgress(out.Out(), len(chunks), "Seeding")
	for start := 0; start < len(chunks); start += seedBatchSize {
		batch := chunks[start:min(start+seedBatchSize, len(chunks))]

		// The sqlite lexical backend is the chunk store; Index writes both.
		if lexical == store.LexicalStore(chunkStore) {
			err = chunkStore.Index(ctx, batch)
		} else {
			if err = chunkStore.SaveChunks(ctx, batch); err == nil {
				err = lexical.Index(ctx, batch)
			}
		}
		if err != nil {
			return err
		}

		if vectors != nil {
			texts := make([]string, len(batch))
			ids := make([]string, len(batch))
			for i, c := range batch {
				ids[i] = c.ID
				texts[i] = strings.TrimSpace(c.Title + "\n" + c.Content)
			}
			vecs, err := embedder.EmbedBatch(ctx, texts)
			if err != nil {
				return fmt.Errorf("embed batch: %w", err)
			}
			if err := vectors.Add(ctx, ids, vecs); err != nil {
				return err
			}
		}
		bar.Add(len(batch))
	}
	bar.Done()

	if hnsw, ok := vectors.(*store.HNSWVectorStore); ok {
		if err := hnsw.Save(paths.VectorIndex()); err != nil {
			return err
		}
	}
	return nil
}

// loadDataset reads one YAML seed file. Chunks without an ID are rejected.
func loadDataset(path string) (*dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, amerrors.InvalidInput("read dataset %s: %v", path, err)
	}
	d := &dataset{}
	if err := yaml.Unmarshal(raw, d); err != nil {
		return nil, amerrors.InvalidInput("parse dataset %s: %v", path, err)
	}
	for i, c := range d.Chunks {
		if c == nil || strings.TrimSpace(c.ID) == "" {
			return nil, amerrors.InvalidInput("dataset %s: chunk %d has no id", path, i)
		}
	}
	return d, nil
}

func (d *dataset) merge(o *dataset) {
	d.Chunks = append(d.Chunks, o.Chunks...)
	d.Entities = append(d.Entities, o.Entities...)
	d.Relations = append(d.Relations, o.Relations...)
	d.Mentions = append(d.Mentions, o.Mentions...)
}

// chunksFromFiles splits every file matching patterns into paragraph
// chunks. IDs are "<path>#<n>", stable across runs for unchanged files.
func chunksFromFiles(fsys fs.FS, patterns []string) ([]*store.Chunk, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, amerrors.InvalidInput("invalid glob pattern %q", pattern)
		}
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		for _, m := range matches {
			info, err := fs.Stat(fsys, m)
			if err != nil || info.IsDir() {
				continue
			}
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)

	var chunks []*store.Chunk
	for _, name := range files {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		for i, text := range splitParagraphs(string(raw), maxParagraphChunk) {
			chunks = append(chunks, &store.Chunk{
				ID:       fmt.Sprintf("%s#%d", name, i),
				Title:    filepath.Base(name),
				Content:  text,
				Metadata: map[string]string{"path": name},
			})
		}
	}
	return chunks, nil
}

// splitParagraphs groups blank-line separated paragraphs into pieces of
// at most limit bytes. A single longer paragraph is kept whole.
func splitParagraphs(text string, limit int) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(para)+2 > limit {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	flush()
	return out
}
