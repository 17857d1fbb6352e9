package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Aman-CERP/amanrag/internal/classifier"
	"github.com/Aman-CERP/amanrag/internal/community"
	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/embed"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/fusion"
	"github.com/Aman-CERP/amanrag/internal/graph"
	"github.com/Aman-CERP/amanrag/internal/ner"
	"github.com/Aman-CERP/amanrag/internal/rerank"
	"github.com/Aman-CERP/amanrag/internal/service"
	"github.com/Aman-CERP/amanrag/internal/source"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// metricsNamespace prefixes every exported Prometheus metric.
const metricsNamespace = "amanrag"

// runtime is everything a query needs, opened from one Config.
type runtime struct {
	cfg *config.Config

	chunks   *store.SQLiteStore
	lexical  store.LexicalStore
	vectors  store.VectorStore
	embedder embed.Embedder
	graph    *graph.MemoryGraph

	index    *community.Index
	matcher  *community.Matcher
	reloader *community.Reloader

	reranker    fusion.Reranker
	collector   *telemetry.Collector
	telemetryDB *telemetry.SQLiteStore
	metrics     *prometheus.Registry
	tracing     *telemetry.Tracing

	engine  *fusion.Engine
	service *service.Service

	closers []func() error
}

// openRuntime opens the stores, loads the graph and community snapshot,
// registers the four sources and builds the engine and service.
//
// A missing graph or snapshot is served empty so the graph sources return
// nothing; a missing vector index is an error because nothing was seeded.
func openRuntime(ctx context.Context, cfg *config.Config) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg, metrics: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	paths := cfg.Paths()
	if err := os.MkdirAll(paths.DataDir, 0o755); err != nil {
		return nil, amerrors.Wrap(amerrors.ErrCodeStoreIO, fmt.Errorf("create data dir: %w", err))
	}

	if err := rt.openStores(ctx); err != nil {
		return nil, err
	}

	rt.embedder, err = embed.NewEmbedder(ctx, cfg.EmbedOptions())
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, rt.embedder.Close)

	rt.graph, err = graph.LoadSQLite(ctx, paths.GraphDB())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		slog.Warn("graph_not_found", slog.String("path", paths.GraphDB()))
		rt.graph = graph.NewMemoryGraph()
	}

	rt.openCommunities(ctx)

	reg, err := rt.registry()
	if err != nil {
		return nil, err
	}

	if cfg.Reranker.Enabled {
		r, err := rerank.NewHTTPReranker(ctx, cfg.RerankConfig())
		if err != nil {
			// Fuse falls back to fused order without a reranker.
			slog.Warn("reranker_unavailable", slog.String("error", err.Error()))
		} else {
			rt.reranker = r
			rt.closers = append(rt.closers, r.Close)
		}
	}

	if err := rt.openTelemetry(ctx); err != nil {
		return nil, err
	}

	engineOpts := []fusion.EngineOption{
		fusion.WithConfig(cfg.EngineConfig()),
		fusion.WithCommunityIndex(rt.index),
		fusion.WithTextResolver(rt.chunks),
		fusion.WithMetrics(rt.recorder()),
		fusion.WithTracer(rt.tracing.Tracer()),
	}
	if rt.reranker != nil {
		engineOpts = append(engineOpts, fusion.WithReranker(rt.reranker))
	}
	rt.engine, err = fusion.NewEngine(reg, engineOpts...)
	if err != nil {
		return nil, err
	}

	defaults, err := cfg.RoutingWeights()
	if err != nil {
		return nil, err
	}
	svcOpts := []service.Option{
		service.WithDefaultWeights(defaults),
		service.WithSnapshot(func() service.SnapshotInfo { return rt.index.Load() }),
		service.WithReloader(rt.reloader),
		service.WithCollector(rt.collector),
	}
	if cfg.Fusion.Classify {
		svcOpts = append(svcOpts, service.WithClassifier(
			classifier.NewCached(classifier.NewPatternClassifier(), classifier.DefaultCacheSize)))
	}
	rt.service, err = service.New(rt.engine, svcOpts...)
	if err != nil {
		return nil, err
	}

	slog.Debug("runtime_opened",
		slog.String("data_dir", paths.DataDir),
		slog.Int("chunks", rt.chunks.Count()),
		slog.Int("vectors", rt.vectors.Count()),
		slog.Int("entities", len(rt.graph.Entities())),
		slog.Int("communities", rt.index.Load().Len()),
		slog.Bool("reranker", rt.reranker != nil))
	return rt, nil
}

func (rt *runtime) openStores(ctx context.Context) error {
	cfg := rt.cfg
	paths := cfg.Paths()

	chunks, err := store.NewSQLiteStore(paths.ChunksDB(), store.DefaultLexicalConfig())
	if err != nil {
		return err
	}
	rt.chunks = chunks
	rt.closers = append(rt.closers, chunks.Close)

	rt.lexical, err = store.OpenLexical(cfg.Stores.LexicalBackend, paths, chunks)
	if err != nil {
		return err
	}
	if rt.lexical != store.LexicalStore(chunks) {
		rt.closers = append(rt.closers, rt.lexical.Close)
	}

	rt.vectors, err = store.OpenVector(ctx, cfg.Stores.VectorBackend, paths, store.VectorOptions{
		Dimensions:  cfg.Embeddings.Dimensions,
		PostgresDSN: cfg.Stores.PostgresDSN,
		Table:       cfg.Stores.PGTable,
	})
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, rt.vectors.Close)
	return nil
}

// openCommunities loads the snapshot into the index. Failures leave the
// empty snapshot in place; the reloader picks up a later build.
func (rt *runtime) openCommunities(ctx context.Context) {
	path := rt.cfg.SnapshotPath()
	snap, err := community.LoadFile(ctx, path)
	switch {
	case err == nil:
	case amerrors.GetCode(err) == amerrors.ErrCodeSnapshotNotFound:
		slog.Warn("community_snapshot_not_found", slog.String("path", path))
	default:
		slog.Warn("community_snapshot_load_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
	rt.index = community.NewIndex(snap)
	rt.matcher = community.NewMatcher(rt.index)
	rt.reloader = community.NewReloader(path, rt.index)
}

// registry registers the four retrieval sources.
func (rt *runtime) registry() (*fusion.Registry, error) {
	cfg := rt.cfg
	reg := fusion.NewRegistry()
	adapters := []struct {
		name    fusion.SourceName
		adapter fusion.Adapter
	}{
		{fusion.SourceVector, source.NewVectorAdapter(rt.embedder, rt.vectors)},
		{fusion.SourceLexical, source.NewLexicalAdapter(rt.lexical,
			source.WithExpander(source.NewExpander(nil, source.DefaultMaxExpansions)))},
		{fusion.SourceGraphLocal, source.NewGraphLocalAdapter(ner.NewGazetteer(rt.graph), rt.graph, cfg.Graph.MaxHops)},
		{fusion.SourceGraphGlobal, source.NewGraphGlobalAdapter(rt.embedder, rt.matcher, rt.index, cfg.Graph.CommunityTopM)},
	}
	for _, a := range adapters {
		if err := reg.Register(a.name, a.adapter); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// openTelemetry sets up the query collector, the Prometheus recorder and
// span export.
func (rt *runtime) openTelemetry(ctx context.Context) error {
	cfg := rt.cfg
	rt.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if cfg.Telemetry.Enabled {
		db, err := telemetry.OpenSQLiteStore(cfg.MetricsDBPath())
		if err != nil {
			slog.Warn("telemetry_store_unavailable", slog.String("error", err.Error()))
			rt.collector = telemetry.NewCollector(nil, telemetry.DefaultCollectorConfig())
		} else {
			ccfg := telemetry.DefaultCollectorConfig()
			ccfg.FlushInterval = cfg.Telemetry.FlushInterval
			rt.collector = telemetry.NewCollector(db, ccfg)
			rt.telemetryDB = db
			rt.closers = append(rt.closers, db.Close)
		}
		// Registered after the store so the collector flushes before the store closes.
		rt.closers = append(rt.closers, rt.collector.Close)
	}

	tracing, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: version.Program,
		Version:     version.Version,
		Insecure:    true,
	})
	if err != nil {
		return err
	}
	rt.tracing = tracing
	rt.closers = append(rt.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tracing.Shutdown(ctx)
	})
	return nil
}

func (rt *runtime) recorder() fusion.MetricsRecorder {
	multi := telemetry.Multi{telemetry.NewPrometheusRecorder(rt.metrics, metricsNamespace)}
	if rt.collector != nil {
		multi = append(multi, rt.collector)
	}
	return multi
}

// MetricsHandler serves the runtime's Prometheus registry.
func (rt *runtime) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(rt.metrics, promhttp.HandlerOpts{Registry: rt.metrics})
}

// Close releases everything in reverse open order.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
