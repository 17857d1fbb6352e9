// Package rerank provides cross-encoder reranker clients for the fusion
// engine. The engine gives the reranker a hard budget and falls back to
// fused order on any error, so clients here fail fast rather than retry.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/fusion"
)

// HTTP reranker defaults.
const (
	DefaultEndpoint        = "http://localhost:9659"
	DefaultModel           = "reranker-small"
	DefaultTimeout         = 2 * time.Second
	DefaultRateLimit       = 50
	DefaultBurst           = 10
	DefaultBreakerFailures = 3
	DefaultBreakerReset    = 15 * time.Second
)

// ErrRateLimited is returned when the client-side rate limit is exhausted.
var ErrRateLimited = errors.New("reranker rate limit exceeded")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("reranker is closed")

// Config configures an HTTPReranker.
type Config struct {
	// Endpoint is the server base URL; /rerank and /health are appended.
	Endpoint string

	Model string

	// Instruction is an optional task instruction sent with each request.
	Instruction string

	// Timeout caps one HTTP call. The engine's budget is usually tighter.
	Timeout time.Duration

	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64
	Burst     int

	BreakerFailures int
	BreakerReset    time.Duration

	// SkipHealthCheck skips the health probe in NewHTTPReranker.
	SkipHealthCheck bool
}

// DefaultConfig returns defaults for a local reranker server.
func DefaultConfig() Config {
	return Config{
		Endpoint:        DefaultEndpoint,
		Model:           DefaultModel,
		Timeout:         DefaultTimeout,
		RateLimit:       DefaultRateLimit,
		Burst:           DefaultBurst,
		BreakerFailures: DefaultBreakerFailures,
		BreakerReset:    DefaultBreakerReset,
	}
}

// HTTPReranker calls a cross-encoder server over HTTP.
// Calls go through a rate limiter and a circuit breaker; when either
// refuses, Rerank fails immediately without touching the network.
type HTTPReranker struct {
	client   *http.Client
	config   Config
	endpoint string
	limiter  *rate.Limiter
	breaker  *amerrors.CircuitBreaker

	mu     sync.RWMutex
	closed bool
}

var _ fusion.Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker creates a client and, unless skipped, probes /health.
func NewHTTPReranker(ctx context.Context, cfg Config) (*HTTPReranker, error) {
	d := DefaultConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = d.Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = d.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = d.Burst
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = d.BreakerFailures
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = d.BreakerReset
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	r := &HTTPReranker{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		config:   cfg,
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		breaker: amerrors.NewCircuitBreaker("reranker",
			amerrors.WithMaxFailures(cfg.BreakerFailures),
			amerrors.WithResetTimeout(cfg.BreakerReset)),
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := r.healthCheck(checkCtx); err != nil {
			return nil, fmt.Errorf("reranker health check failed: %w", err)
		}
	}

	slog.Debug("http_reranker_created",
		slog.String("endpoint", r.endpoint),
		slog.String("model", cfg.Model),
		slog.Duration("timeout", cfg.Timeout),
		slog.Float64("rate_limit", cfg.RateLimit))
	return r, nil
}

func (r *HTTPReranker) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to reranker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("reranker unhealthy (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

type rerankRequest struct {
	Query       string   `json:"query"`
	Documents   []string `json:"documents"`
	Model       string   `json:"model,omitempty"`
	Instruction string   `json:"instruction,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
	Model            string  `json:"model"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// Rerank scores candidates against query. Scores are returned as the
// server sent them; the engine validates indices.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []string) ([]fusion.RerankScore, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if len(candidates) == 0 {
		return []fusion.RerankScore{}, nil
	}
	if !r.limiter.Allow() {
		return nil, ErrRateLimited
	}

	return amerrors.CircuitExecute(r.breaker, func() ([]fusion.RerankScore, error) {
		return r.doRerank(ctx, query, candidates)
	})
}

func (r *HTTPReranker) doRerank(ctx context.Context, query string, candidates []string) ([]fusion.RerankScore, error) {
	start := time.Now()

	body, err := json.Marshal(rerankRequest{
		Query:       query,
		Documents:   candidates,
		Model:       r.config.Model,
		Instruction: r.config.Instruction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, r.endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank failed (status %d): %s", resp.StatusCode, string(msg))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	scores := make([]fusion.RerankScore, len(result.Results))
	for i, res := range result.Results {
		scores[i] = fusion.RerankScore{Index: res.Index, Score: res.Score}
	}

	slog.Debug("reranker_http_timing",
		slog.Int("doc_count", len(candidates)),
		slog.Int("payload_bytes", len(body)),
		slog.Duration("total", time.Since(start)),
		slog.Float64("server_time_ms", result.ProcessingTimeMs))
	return scores, nil
}

// Available reports whether the breaker admits calls and /health answers.
func (r *HTTPReranker) Available(ctx context.Context) bool {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed || !r.breaker.Allow() {
		return false
	}
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.healthCheck(checkCtx) == nil
}

// BreakerState exposes the circuit state for status output.
func (r *HTTPReranker) BreakerState() amerrors.State {
	return r.breaker.State()
}

// Close releases idle connections. Further calls return ErrClosed.
func (r *HTTPReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if transport, ok := r.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}
