package embed

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisKeyPrefix namespaces embedding keys in a shared Redis.
	DefaultRedisKeyPrefix = "amanrag:emb:"

	// DefaultRedisTTL expires cached embeddings so model upgrades age out.
	DefaultRedisTTL = 24 * time.Hour
)

// RedisCachedEmbedder shares embeddings across processes through Redis.
// Redis errors are logged and treated as cache misses; the inner embedder
// remains the source of truth.
type RedisCachedEmbedder struct {
	inner  Embedder
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	owns   bool
}

var _ Embedder = (*RedisCachedEmbedder)(nil)

// RedisOption configures a RedisCachedEmbedder.
type RedisOption func(*RedisCachedEmbedder)

// WithRedisPrefix overrides the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *RedisCachedEmbedder) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithRedisTTL overrides the entry TTL. Zero disables expiry.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(r *RedisCachedEmbedder) {
		if ttl >= 0 {
			r.ttl = ttl
		}
	}
}

// NewRedisCachedEmbedder wraps inner with a Redis cache using an existing client.
// The client is not closed by Close.
func NewRedisCachedEmbedder(inner Embedder, client redis.UniversalClient, opts ...RedisOption) *RedisCachedEmbedder {
	r := &RedisCachedEmbedder{
		inner:  inner,
		client: client,
		prefix: DefaultRedisKeyPrefix,
		ttl:    DefaultRedisTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DialRedisCache parses a redis:// URL, pings the server and wraps inner.
// The created client is closed by Close.
func DialRedisCache(ctx context.Context, inner Embedder, url string, opts ...RedisOption) (*RedisCachedEmbedder, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	r := NewRedisCachedEmbedder(inner, client, opts...)
	r.owns = true
	return r, nil
}

func (r *RedisCachedEmbedder) key(text string) string {
	return r.prefix + cacheKey(r.inner.ModelName(), text)
}

// Embed returns the shared cached embedding, computing and storing it on a miss.
func (r *RedisCachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := r.key(text)
	raw, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if vec, derr := decodeVector(raw); derr == nil {
			return vec, nil
		}
		slog.Debug("embedding_cache_corrupt", slog.String("key", key))
	case !errors.Is(err, redis.Nil):
		slog.Debug("embedding_cache_unavailable", slog.String("error", err.Error()))
	}

	vec, err := r.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	r.store(ctx, map[string][]float32{key: vec})
	return vec, nil
}

// EmbedBatch fetches all keys with one MGET and embeds the misses in one batch.
func (r *RedisCachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = r.key(text)
	}

	results := make([][]float32, len(texts))
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		slog.Debug("embedding_cache_unavailable", slog.String("error", err.Error()))
		vals = nil
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if vec, derr := decodeVector([]byte(s)); derr == nil {
			results[i] = vec
		}
	}

	var missIdx []int
	var missTexts []string
	for i, vec := range results {
		if vec == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
		}
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := r.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	toStore := make(map[string][]float32, len(missIdx))
	for j, idx := range missIdx {
		results[idx] = fresh[j]
		toStore[keys[idx]] = fresh[j]
	}
	r.store(ctx, toStore)
	return results, nil
}

func (r *RedisCachedEmbedder) store(ctx context.Context, entries map[string][]float32) {
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for key, vec := range entries {
			p.Set(ctx, key, encodeVector(vec), r.ttl)
		}
		return nil
	})
	if err != nil {
		slog.Debug("embedding_cache_write_failed", slog.String("error", err.Error()))
	}
}

// encodeVector packs a vector as little-endian float32s.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil, fmt.Errorf("invalid vector encoding of %d bytes", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

// Dimensions returns the embedding dimension (passthrough to inner).
func (r *RedisCachedEmbedder) Dimensions() int {
	return r.inner.Dimensions()
}

// ModelName returns the model identifier (passthrough to inner).
func (r *RedisCachedEmbedder) ModelName() string {
	return r.inner.ModelName()
}

// Available checks if the inner embedder is ready. Redis is optional.
func (r *RedisCachedEmbedder) Available(ctx context.Context) bool {
	return r.inner.Available(ctx)
}

// Close closes the inner embedder and, if dialled here, the Redis client.
func (r *RedisCachedEmbedder) Close() error {
	err := r.inner.Close()
	if r.owns {
		err = errors.Join(err, r.client.Close())
	}
	return err
}
