package fusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

const instrumentationName = "github.com/Aman-CERP/amanrag/internal/fusion"

// FusionEvent summarizes one Fuse call for metrics collectors.
type FusionEvent struct {
	RequestID       string
	Query           string
	Sources         []SourceName
	DegradedSources []SourceName
	SourceLatency   map[SourceName]time.Duration
	Results         int
	Reranked        bool
	RerankSkipped   string
	Elapsed         time.Duration
	ErrorCode       string
}

// MetricsRecorder receives one event per Fuse call. Implementations must
// not block.
type MetricsRecorder interface {
	RecordFusion(ev FusionEvent)
}

// Engine is the retrieval-fusion facade. It is safe for concurrent use.
type Engine struct {
	adapters  map[SourceName]Adapter
	cfg       Config
	combiner  Combiner
	orch      *orchestrator
	reranker  Reranker
	summaries SummaryProvider
	texts     TextResolver
	metrics   MetricsRecorder
	tracer    trace.Tracer
	newID     func() string
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithConfig replaces the default engine config. Zero fields keep their defaults.
func WithConfig(cfg Config) EngineOption {
	return func(e *Engine) {
		e.cfg = cfg.withDefaults()
	}
}

// WithReranker sets the cross-encoder collaborator. Without one, results
// are returned in RRF order with Reranked=false.
func WithReranker(r Reranker) EngineOption {
	return func(e *Engine) {
		e.reranker = r
	}
}

// WithCommunityIndex sets where graph_global summaries come from.
func WithCommunityIndex(p SummaryProvider) EngineOption {
	return func(e *Engine) {
		e.summaries = p
	}
}

// WithTextResolver sets the chunk text lookup used before reranking.
func WithTextResolver(t TextResolver) EngineOption {
	return func(e *Engine) {
		e.texts = t
	}
}

// WithMetrics sets an optional metrics recorder.
func WithMetrics(m MetricsRecorder) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithRequestIDs overrides request ID generation.
func WithRequestIDs(fn func() string) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// NewEngine creates an engine over the adapters in reg.
func NewEngine(reg *Registry, opts ...EngineOption) (*Engine, error) {
	if reg == nil {
		return nil, ErrNilRegistry
	}
	if reg.Len() == 0 {
		return nil, ErrNoAdapters
	}

	e := &Engine{
		adapters: reg.snapshot(),
		cfg:      DefaultConfig(),
		tracer:   otel.Tracer(instrumentationName),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.combiner = NewCombiner(e.cfg.RRFConstant)
	e.orch = &orchestrator{
		adapters:       e.adapters,
		defaultTimeout: e.cfg.SourceTimeout,
		tracer:         e.tracer,
	}
	return e, nil
}

// Config returns the effective engine config.
func (e *Engine) Config() Config {
	return e.cfg
}

// Sources returns the registered sources in canonical order.
func (e *Engine) Sources() []SourceName {
	var names []SourceName
	for _, s := range AllSources() {
		if _, ok := e.adapters[s]; ok {
			names = append(names, s)
		}
	}
	return names
}

// Fuse runs one retrieval request: validate, fan out, combine, rerank.
//
// The result is never nil. On InvalidInput no adapter is called. On
// AllSourcesFailed Items is empty and DegradedSources names every
// selected source. If ctx is cancelled Fuse returns ctx.Err() promptly.
// Expiry of the global deadline degrades the sources still running
// instead of failing the request.
func (e *Engine) Fuse(ctx context.Context, q Query, weights RoutingWeights, opts FuseOptions) (*FusionResult, error) {
	start := time.Now()
	reqID := e.newID()
	result := &FusionResult{
		Items:           []FusedResult{},
		DegradedSources: []string{},
		RequestID:       reqID,
	}
	ev := FusionEvent{RequestID: reqID, Query: q.Text}

	ctx, span := e.tracer.Start(ctx, "fusion.Fuse",
		trace.WithAttributes(attribute.String("fusion.request_id", reqID)))
	defer span.End()

	finish := func(err error) (*FusionResult, error) {
		elapsed := time.Since(start)
		result.ElapsedMS = elapsed.Milliseconds()
		ev.Elapsed = elapsed
		ev.Results = len(result.Items)
		ev.Reranked = result.Reranked
		if err != nil {
			ev.ErrorCode = amerrors.GetCode(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if e.metrics != nil {
			e.metrics.RecordFusion(ev)
		}
		span.SetAttributes(
			attribute.Int("fusion.results", len(result.Items)),
			attribute.Bool("fusion.reranked", result.Reranked),
			attribute.StringSlice("fusion.degraded", result.DegradedSources))
		return result, err
	}

	if err := validateRequest(q, weights, opts); err != nil {
		slog.Debug("fuse_rejected", slog.String("request_id", reqID), slog.String("error", err.Error()))
		return finish(err)
	}

	active := weights.Active()
	ev.Sources = active
	topN := e.cfg.TopN
	if opts.TopN > 0 {
		topN = opts.TopN
	}
	candidateK := e.cfg.CandidateK
	if opts.CandidateK > 0 {
		candidateK = opts.CandidateK
	}

	deadline := start.Add(e.cfg.GlobalDeadline)
	if !q.Deadline.IsZero() && q.Deadline.Before(deadline) {
		deadline = q.Deadline
	}
	gctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	fanStart := time.Now()
	lists, failures, latency := e.orch.fanOut(gctx, q, active, candidateK, opts.SourceTimeouts)
	fanOutElapsed := time.Since(fanStart)
	ev.SourceLatency = latency

	if err := ctx.Err(); err != nil && errors.Is(err, context.Canceled) {
		slog.Debug("fuse_cancelled", slog.String("request_id", reqID))
		return finish(err)
	}

	causes := make([]error, 0, len(failures))
	for _, f := range failures {
		result.DegradedSources = append(result.DegradedSources, string(f.Source))
		ev.DegradedSources = append(ev.DegradedSources, f.Source)
		causes = append(causes, f.Err)
	}
	if len(failures) == len(active) {
		err := amerrors.AllSourcesFailed(causes...)
		slog.Warn("fuse_all_sources_failed",
			slog.String("request_id", reqID),
			slog.Int("sources", len(active)),
			slog.Duration("fan_out", fanOutElapsed))
		return finish(err)
	}

	var lookup SummaryLookup
	if e.summaries != nil {
		lookup = e.summaries.Summaries()
	}
	fused := e.combiner.Combine(lists, weights, lookup, topN)

	rerankOn := e.cfg.RerankEnabled
	if opts.Rerank != nil {
		rerankOn = *opts.Rerank
	}
	result.Items = fused
	if rerankOn {
		items, reranked, skip := e.rerank(gctx, q, fused)
		result.Items = items
		result.Reranked = reranked
		ev.RerankSkipped = skip
	} else {
		ev.RerankSkipped = "disabled"
	}

	slog.Info("fuse_complete",
		slog.String("request_id", reqID),
		slog.Int("sources", len(active)),
		slog.Int("degraded", len(failures)),
		slog.Int("results", len(result.Items)),
		slog.Bool("reranked", result.Reranked),
		slog.Duration("fan_out", fanOutElapsed),
		slog.Duration("total", time.Since(start)))
	return finish(nil)
}

func validateRequest(q Query, weights RoutingWeights, opts FuseOptions) error {
	if err := q.Validate(); err != nil {
		return err
	}
	if err := weights.Validate(); err != nil {
		return err
	}
	return opts.Validate()
}

// rerank calls the reranker within min(RerankBudget, remaining window).
// Any failure returns items unchanged with reranked=false and the reason.
func (e *Engine) rerank(ctx context.Context, q Query, items []FusedResult) ([]FusedResult, bool, string) {
	if e.reranker == nil {
		return items, false, "no_reranker"
	}
	if len(items) == 0 {
		return items, false, "no_candidates"
	}

	budget := e.cfg.RerankBudget
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining < budget {
			budget = remaining
		}
	}
	if budget < e.cfg.MinRerankWindow {
		slog.Debug("rerank_skipped_window_exhausted", slog.Duration("remaining", budget))
		return items, false, "window_exhausted"
	}

	rctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	rctx, span := e.tracer.Start(rctx, "fusion.rerank",
		trace.WithAttributes(
			attribute.Int("fusion.candidates", len(items)),
			attribute.Int64("fusion.budget_ms", budget.Milliseconds())))
	defer span.End()

	candidates := e.candidateTexts(rctx, items)

	start := time.Now()
	type rerankOut struct {
		scores []RerankScore
		err    error
	}
	done := make(chan rerankOut, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- rerankOut{err: fmt.Errorf("reranker panic: %v", r)}
			}
		}()
		scores, err := e.reranker.Rerank(rctx, q.Text, candidates)
		done <- rerankOut{scores: scores, err: err}
	}()

	var out rerankOut
	select {
	case out = <-done:
	case <-rctx.Done():
		out.err = rctx.Err()
	}
	if out.err == nil {
		var reordered []FusedResult
		reordered, out.err = applyRerank(items, out.scores)
		if out.err == nil {
			slog.Debug("rerank_complete",
				slog.Int("candidates", len(items)),
				slog.Duration("elapsed", time.Since(start)))
			return reordered, true, ""
		}
	}

	err := amerrors.RerankerUnavailable(out.err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Code)
	slog.Warn("rerank_failed_using_rrf_order",
		slog.String("error", err.Error()),
		slog.Duration("elapsed", time.Since(start)))
	return items, false, "failed"
}

// candidateTexts returns one text per item. Missing texts are looked up
// through the TextResolver; the ChunkID stands in when none is found.
func (e *Engine) candidateTexts(ctx context.Context, items []FusedResult) []string {
	texts := make([]string, len(items))
	var missing []string
	for i, it := range items {
		texts[i] = it.Text
		if it.Text == "" {
			missing = append(missing, it.ChunkID)
		}
	}
	if len(missing) > 0 && e.texts != nil {
		found, err := e.texts.ChunkTexts(ctx, missing)
		if err != nil {
			slog.Debug("chunk_text_lookup_failed", slog.String("error", err.Error()))
		}
		for i, it := range items {
			if texts[i] == "" {
				texts[i] = found[it.ChunkID]
			}
		}
	}
	for i, it := range items {
		if texts[i] == "" {
			texts[i] = it.ChunkID
		}
	}
	return texts
}
