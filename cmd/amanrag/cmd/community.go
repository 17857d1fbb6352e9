package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amanrag/internal/community"
	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/fusion"
	"github.com/Aman-CERP/amanrag/internal/graph"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/store"
)

func newCommunityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "community",
		Short: "Build and inspect the community snapshot",
		Long: `Communities are clusters of closely related graph entities. Each has a
summary that is attached to fused results and matched by the graph_global
source. A running server picks up a rebuilt snapshot without restarting.`,
	}

	cmd.AddCommand(newCommunityBuildCmd())
	cmd.AddCommand(newCommunityInspectCmd())
	return cmd
}

func newCommunityBuildCmd() *cobra.Command {
	var (
		resolution float64
		minSize    int
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Cluster the entity graph and write a new snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("resolution") {
				cfg.Community.Resolution = resolution
			}
			if cmd.Flags().Changed("min-size") {
				cfg.Community.MinSize = minSize
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runCommunityBuild(ctx, cmd, cfg)
		},
	}

	cmd.Flags().Float64Var(&resolution, "resolution", 1.0, "Louvain resolution; higher gives smaller communities")
	cmd.Flags().IntVar(&minSize, "min-size", 1, "Drop communities with fewer entities")
	return cmd
}

func runCommunityBuild(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	out := output.New(cmd.OutOrStdout())
	paths := cfg.Paths()

	g, err := graph.LoadSQLite(ctx, paths.GraphDB())
	if err != nil {
		return fmt.Errorf("load graph (run 'amanrag seed' first): %w", err)
	}

	chunks, err := store.NewSQLiteStore(paths.ChunksDB(), store.DefaultLexicalConfig())
	if err != nil {
		return err
	}
	defer func() { _ = chunks.Close() }()

	embedder, err := embed.NewEmbedder(ctx, cfg.EmbedOptions())
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	bcfg := community.DefaultBuilderConfig()
	bcfg.Resolution = cfg.Community.Resolution
	bcfg.MinSize = cfg.Community.MinSize

	out.Status("🔍", "Clustering entity graph...")
	snap, err := community.NewBuilder(g, chunks, embedder, bcfg).Build(ctx)
	if err != nil {
		return err
	}

	path := cfg.SnapshotPath()
	if err := community.SaveFile(path, snap); err != nil {
		return err
	}

	out.Successf("Built %d communities", snap.Len())
	out.KeyValue("Version", snap.Version())
	out.KeyValue("Snapshot", path)
	return nil
}

func newCommunityInspectCmd() *cobra.Command {
	var (
		jsonOutput bool
		yamlOutput bool
		id         string
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the communities in the current snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			snap, err := community.LoadFile(ctx, cfg.SnapshotPath())
			if err != nil {
				return err
			}

			comms := snap.Communities()
			if id != "" {
				c, ok := snap.Lookup(id)
				if !ok {
					return fmt.Errorf("community %q not in snapshot %s", id, snap.Version())
				}
				comms = []fusion.Community{c}
			}

			out := output.New(cmd.OutOrStdout())
			switch {
			case jsonOutput:
				return out.JSON(comms)
			case yamlOutput:
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(comms); err != nil {
					return err
				}
				return enc.Close()
			}

			out.Header(fmt.Sprintf("Snapshot %s (%d communities, built %s)",
				snap.Version(), snap.Len(), snap.BuiltAt().Format("2006-01-02 15:04")))
			for _, c := range comms {
				out.KeyValue(c.ID, output.Snippet(c.Summary, 90))
				out.KeyValue("  members", strings.Join(c.Members, ", "))
				out.KeyValue("  chunks", len(c.Chunks))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON (includes embeddings)")
	cmd.Flags().BoolVar(&yamlOutput, "yaml", false, "Output as YAML")
	cmd.Flags().StringVar(&id, "id", "", "Show a single community")
	cmd.MarkFlagsMutuallyExclusive("json", "yaml")
	return cmd
}
