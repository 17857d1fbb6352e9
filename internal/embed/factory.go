package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderStatic uses hash-based embeddings (offline, deterministic)
	ProviderStatic ProviderType = "static"

	// ProviderOllama uses the Ollama HTTP API
	ProviderOllama ProviderType = "ollama"
)

// ParseProvider parses a provider name. Empty selects static.
func ParseProvider(s string) (ProviderType, error) {
	switch ProviderType(strings.ToLower(strings.TrimSpace(s))) {
	case "", ProviderStatic:
		return ProviderStatic, nil
	case ProviderOllama:
		return ProviderOllama, nil
	default:
		return "", fmt.Errorf("unknown embedding provider %q (valid: static, ollama)", s)
	}
}

// Options selects and configures an embedder stack.
type Options struct {
	Provider   ProviderType
	Model      string
	Host       string
	Dimensions int
	Timeout    time.Duration

	// CacheSize is the in-process LRU size. Negative disables the LRU.
	CacheSize int

	// RedisURL enables the shared Redis cache below the LRU.
	RedisURL string
	RedisTTL time.Duration
}

// NewEmbedder builds the configured embedder: the provider, wrapped by
// the optional Redis cache, wrapped by the LRU. An explicitly selected
// provider that is unavailable is an error; there is no silent fallback
// because vectors from different models are not comparable.
func NewEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	var embedder Embedder

	switch opts.Provider {
	case "", ProviderStatic:
		embedder = NewStaticEmbedder(opts.Dimensions)
	case ProviderOllama:
		cfg := DefaultOllamaConfig()
		if opts.Host != "" {
			cfg.Host = opts.Host
		}
		if opts.Model != "" {
			cfg.Model = opts.Model
		}
		if opts.Timeout > 0 {
			cfg.Timeout = opts.Timeout
		}
		cfg.Dimensions = opts.Dimensions
		ollama, err := NewOllamaEmbedder(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("ollama unavailable: %w\n\nTo fix:\n  1. Start Ollama: ollama serve\n  2. Pull the model: ollama pull %s\n  3. Or use static embeddings: embeddings.provider: static", err, cfg.Model)
		}
		embedder = ollama
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", opts.Provider)
	}

	if opts.RedisURL != "" {
		var redisOpts []RedisOption
		if opts.RedisTTL > 0 {
			redisOpts = append(redisOpts, WithRedisTTL(opts.RedisTTL))
		}
		cached, err := DialRedisCache(ctx, embedder, opts.RedisURL, redisOpts...)
		if err != nil {
			// The shared cache is an optimisation; run without it.
			slog.Warn("embedding_redis_cache_disabled", slog.String("error", err.Error()))
		} else {
			embedder = cached
		}
	}

	if opts.CacheSize >= 0 {
		embedder = NewCachedEmbedder(embedder, opts.CacheSize)
	}
	return embedder, nil
}
