package fusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// SourceLists holds the per-source ranked lists collected by a fan-out.
type SourceLists map[SourceName][]RankedItem

// SourceFailure records a source that failed or timed out.
type SourceFailure struct {
	Source SourceName
	Err    error
}

var errNotRegistered = errors.New("no adapter registered")

type sourceOutcome struct {
	items   []RankedItem
	err     error
	elapsed time.Duration
}

// orchestrator issues concurrent adapter calls for one request.
type orchestrator struct {
	adapters       map[SourceName]Adapter
	defaultTimeout time.Duration
	tracer         trace.Tracer
}

func (o *orchestrator) timeoutFor(src SourceName, overrides map[SourceName]time.Duration) time.Duration {
	if d, ok := overrides[src]; ok && d > 0 {
		return d
	}
	return o.defaultTimeout
}

// fanOut calls every source in sources concurrently and waits until each
// has reported or ctx is done. Each worker reports at the latest when its
// soft timeout fires, so the join is bounded by the largest soft timeout
// and by ctx. A failing source never cancels its siblings.
func (o *orchestrator) fanOut(
	ctx context.Context,
	q Query,
	sources []SourceName,
	k int,
	timeouts map[SourceName]time.Duration,
) (SourceLists, []SourceFailure, map[SourceName]time.Duration) {
	outcomes := make([]sourceOutcome, len(sources))

	// Workers never return an error, so the group context is only
	// cancelled by the parent.
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		adapter, ok := o.adapters[src]
		if !ok {
			outcomes[i] = sourceOutcome{err: amerrors.SourceUnavailable(string(src), errNotRegistered)}
			continue
		}
		timeout := o.timeoutFor(src, timeouts)
		g.Go(func() error {
			outcomes[i] = o.runSource(gctx, adapter, src, q, k, timeout)
			return nil
		})
	}
	_ = g.Wait()

	lists := make(SourceLists, len(sources))
	latency := make(map[SourceName]time.Duration, len(sources))
	var failures []SourceFailure
	for i, src := range sources {
		out := outcomes[i]
		latency[src] = out.elapsed
		if out.err != nil {
			failures = append(failures, SourceFailure{Source: src, Err: out.err})
			slog.Warn("source_degraded",
				slog.String("source", string(src)),
				slog.String("code", amerrors.GetCode(out.err)),
				slog.Duration("elapsed", out.elapsed),
				slog.String("error", out.err.Error()))
			continue
		}
		lists[src] = out.items
		slog.Debug("source_complete",
			slog.String("source", string(src)),
			slog.Int("results", len(out.items)),
			slog.Duration("elapsed", out.elapsed))
	}
	return lists, failures, latency
}

// runSource calls one adapter under its soft timeout. The adapter runs in
// its own goroutine so a backend that ignores cancellation still cannot
// hold the worker past the timeout.
func (o *orchestrator) runSource(
	ctx context.Context,
	adapter Adapter,
	src SourceName,
	q Query,
	k int,
	timeout time.Duration,
) sourceOutcome {
	start := time.Now()

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sctx, span := o.tracer.Start(sctx, "fusion.source",
		trace.WithAttributes(
			attribute.String("fusion.source", string(src)),
			attribute.Int("fusion.k", k),
			attribute.Int64("fusion.soft_timeout_ms", timeout.Milliseconds())))
	defer span.End()

	done := make(chan sourceOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- sourceOutcome{err: fmt.Errorf("adapter panic: %v", r)}
			}
		}()
		items, err := adapter.Search(sctx, q, k)
		done <- sourceOutcome{items: items, err: err}
	}()

	var out sourceOutcome
	select {
	case out = <-done:
	case <-sctx.Done():
		out = sourceOutcome{err: sctx.Err()}
	}
	out.elapsed = time.Since(start)

	if out.err != nil {
		switch {
		case ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded):
			// Caller cancelled; the engine reports the context error.
			out.err = amerrors.SourceUnavailable(string(src), ctx.Err())
		case errors.Is(sctx.Err(), context.DeadlineExceeded):
			out.err = amerrors.SourceTimeout(string(src), out.err)
		default:
			out.err = amerrors.Classify(string(src), out.err)
		}
		span.RecordError(out.err)
		span.SetStatus(codes.Error, amerrors.GetCode(out.err))
		return out
	}

	out.items = sanitize(src, out.items, k)
	span.SetAttributes(attribute.Int("fusion.results", len(out.items)))
	return out
}

// sanitize enforces the adapter contract on a returned list: the source
// tag, at most k items, and dense unique ranks in list order.
func sanitize(src SourceName, items []RankedItem, k int) []RankedItem {
	if k > 0 && len(items) > k {
		items = items[:k]
	}
	out := make([]RankedItem, len(items))
	copy(out, items)
	for i := range out {
		out[i].Source = src
	}
	if err := ValidateRanks(out); err != nil {
		slog.Warn("source_ranks_rebuilt",
			slog.String("source", string(src)),
			slog.String("reason", err.Error()))
		return rerankDense(src, out, k)
	}
	return out
}
