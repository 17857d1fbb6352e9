// Package service is the request-level entry point shared by the CLI, the
// MCP server and the HTTP API. It resolves routing weights, calls the
// fusion engine and reports runtime status.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/amanrag/internal/classifier"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/fusion"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// Fuser is the part of *fusion.Engine the service depends on.
type Fuser interface {
	Fuse(ctx context.Context, q fusion.Query, weights fusion.RoutingWeights, opts fusion.FuseOptions) (*fusion.FusionResult, error)
	Sources() []fusion.SourceName
}

// SnapshotInfo describes the community snapshot being served.
type SnapshotInfo interface {
	Version() string
	BuiltAt() time.Time
	Len() int
}

// ReloadStatus reports hot-reload health.
type ReloadStatus interface {
	Status() (reloads int, lastErr error)
}

// Request is one fusion call as received from a client.
type Request struct {
	Query      string             `json:"query"`
	SubQueries []string           `json:"sub_queries,omitempty"`
	Weights    map[string]float64 `json:"weights,omitempty"`
	TopN       int                `json:"top_n,omitempty"`
	Rerank     *bool              `json:"rerank,omitempty"`
	Timeouts   map[string]string  `json:"source_timeouts,omitempty"`
}

// Response is a fusion result together with how it was routed.
type Response struct {
	*fusion.FusionResult
	QueryType string             `json:"query_type"`
	Weights   map[string]float64 `json:"weights"`
}

// Status summarizes what the service is serving.
type Status struct {
	Sources   []string            `json:"sources"`
	Community CommunityStatus     `json:"community"`
	Telemetry *telemetry.Snapshot `json:"telemetry,omitempty"`
}

// CommunityStatus describes the live community snapshot.
type CommunityStatus struct {
	Version     string    `json:"version"`
	Communities int       `json:"communities"`
	BuiltAt     time.Time `json:"built_at,omitempty"`
	Reloads     int       `json:"reloads"`
	LastError   string    `json:"last_error,omitempty"`
}

// Service wires a classifier in front of the fusion engine.
type Service struct {
	engine     Fuser
	classifier classifier.Classifier
	defaults   fusion.RoutingWeights
	snapshot   func() SnapshotInfo
	reloader   ReloadStatus
	collector  *telemetry.Collector
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClassifier routes requests without explicit weights. Without one,
// the default weights are used.
func WithClassifier(c classifier.Classifier) Option {
	return func(s *Service) { s.classifier = c }
}

// WithDefaultWeights sets the fallback weights.
func WithDefaultWeights(w fusion.RoutingWeights) Option {
	return func(s *Service) {
		if len(w) > 0 {
			s.defaults = w
		}
	}
}

// WithSnapshot reports the community snapshot returned by fn.
func WithSnapshot(fn func() SnapshotInfo) Option {
	return func(s *Service) { s.snapshot = fn }
}

// WithReloader reports hot-reload status.
func WithReloader(r ReloadStatus) Option {
	return func(s *Service) { s.reloader = r }
}

// WithCollector includes telemetry in Status.
func WithCollector(c *telemetry.Collector) Option {
	return func(s *Service) { s.collector = c }
}

// New creates a Service over engine.
func New(engine Fuser, opts ...Option) (*Service, error) {
	if engine == nil {
		return nil, errors.New("fusion engine is required")
	}
	s := &Service{
		engine:   engine,
		defaults: classifier.WeightsFor(classifier.QueryTypeMixed),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Fuse resolves weights for req and runs one fusion call.
//
// Explicit weights win. Otherwise the classifier picks them, and a
// classifier failure falls back to the default weights.
func (s *Service) Fuse(ctx context.Context, req Request) (*Response, error) {
	weights, queryType, err := s.resolveWeights(ctx, req)
	if err != nil {
		return &Response{FusionResult: emptyResult()}, err
	}
	timeouts, err := parseTimeouts(req.Timeouts)
	if err != nil {
		return &Response{FusionResult: emptyResult()}, err
	}

	q := fusion.NewQuery(req.Query, req.SubQueries...)
	res, err := s.engine.Fuse(ctx, q, weights, fusion.FuseOptions{
		TopN:           req.TopN,
		Rerank:         req.Rerank,
		SourceTimeouts: timeouts,
	})
	if res == nil {
		res = emptyResult()
	}
	return &Response{FusionResult: res, QueryType: queryType, Weights: weightsToMap(weights)}, err
}

func (s *Service) resolveWeights(ctx context.Context, req Request) (fusion.RoutingWeights, string, error) {
	if len(req.Weights) > 0 {
		w := make(fusion.RoutingWeights, len(req.Weights))
		for name, v := range req.Weights {
			src, err := fusion.ParseSourceName(name)
			if err != nil {
				return nil, "", err
			}
			w[src] = v
		}
		return w, "explicit", nil
	}

	if s.classifier == nil || strings.TrimSpace(req.Query) == "" {
		return s.defaults, "default", nil
	}
	qt, w, err := s.classifier.Classify(ctx, req.Query)
	if err != nil {
		s.logger.Warn("classify_failed", slog.String("error", err.Error()))
		return s.defaults, "default", nil
	}
	return w, strings.ToLower(string(qt)), nil
}

// Status reports sources, the community snapshot and telemetry.
func (s *Service) Status() Status {
	st := Status{}
	for _, src := range s.engine.Sources() {
		st.Sources = append(st.Sources, string(src))
	}
	if s.snapshot != nil {
		if snap := s.snapshot(); snap != nil {
			st.Community.Version = snap.Version()
			st.Community.Communities = snap.Len()
			st.Community.BuiltAt = snap.BuiltAt()
		}
	}
	if s.reloader != nil {
		reloads, lastErr := s.reloader.Status()
		st.Community.Reloads = reloads
		if lastErr != nil {
			st.Community.LastError = lastErr.Error()
		}
	}
	if s.collector != nil {
		st.Telemetry = s.collector.Snapshot()
	}
	return st
}

func parseTimeouts(raw map[string]string) (map[fusion.SourceName]time.Duration, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[fusion.SourceName]time.Duration, len(raw))
	for name, v := range raw {
		src, err := fusion.ParseSourceName(name)
		if err != nil {
			return nil, err
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, amerrors.InvalidInput("source timeout for %s: %v", src, err)
		}
		out[src] = d
	}
	return out, nil
}

func weightsToMap(w fusion.RoutingWeights) map[string]float64 {
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[string(k)] = v
	}
	return out
}

func emptyResult() *fusion.FusionResult {
	return &fusion.FusionResult{Items: []fusion.FusedResult{}, DegradedSources: []string{}}
}
