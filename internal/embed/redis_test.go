package embed

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisCache(t *testing.T, opts ...RedisOption) (*miniredis.Miniredis, *mockEmbedder, *RedisCachedEmbedder) {
	t.Helper()
	mr := miniredis.RunT(t)
	inner := newMockEmbedder(4)
	cached, err := DialRedisCache(context.Background(), inner, "redis://"+mr.Addr()+"/0", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cached.Close() })
	return mr, inner, cached
}

func TestRedisCachedEmbedder_Embed_StoresAndReuses(t *testing.T) {
	// Given: an empty Redis
	mr, inner, cached := setupRedisCache(t)
	ctx := context.Background()

	// When: I embed the same text twice
	first, err := cached.Embed(ctx, "refund policy")
	require.NoError(t, err)
	second, err := cached.Embed(ctx, "refund policy")
	require.NoError(t, err)

	// Then: one key with a TTL was written and the inner embedder ran once
	assert.Equal(t, int64(1), inner.embedCalls.Load())
	assert.Equal(t, first, second)
	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], DefaultRedisKeyPrefix))
	assert.Equal(t, DefaultRedisTTL, mr.TTL(keys[0]))
}

func TestRedisCachedEmbedder_SharedAcrossInstances(t *testing.T) {
	// Given: two cache instances over the same Redis
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	innerA, innerB := newMockEmbedder(4), newMockEmbedder(4)
	a := NewRedisCachedEmbedder(innerA, client)
	b := NewRedisCachedEmbedder(innerB, client)
	ctx := context.Background()

	// When: A computes and B asks for the same text
	va, err := a.Embed(ctx, "on-call rota")
	require.NoError(t, err)
	vb, err := b.Embed(ctx, "on-call rota")
	require.NoError(t, err)

	// Then: B never called its model
	assert.Equal(t, va, vb)
	assert.Zero(t, innerB.embedCalls.Load())
}

func TestRedisCachedEmbedder_EmbedBatch_PartialHits(t *testing.T) {
	// Given: one text already cached
	_, inner, cached := setupRedisCache(t)
	ctx := context.Background()
	_, err := cached.Embed(ctx, "xx")
	require.NoError(t, err)

	// When: I batch-embed it with two new texts
	got, err := cached.EmbedBatch(ctx, []string{"y", "xx", "zzz"})
	require.NoError(t, err)

	// Then: only the misses were computed, in order
	assert.Equal(t, int64(2), inner.batchTexts.Load())
	require.Len(t, got, 3)
	for i, text := range []string{"y", "xx", "zzz"} {
		assert.Equal(t, inner.vectorFor(text), got[i], "entry %d", i)
	}
}

func TestRedisCachedEmbedder_RedisDown_FallsThrough(t *testing.T) {
	// Given: a cache whose Redis has gone away
	mr, inner, cached := setupRedisCache(t)
	mr.Close()

	// When: I embed
	vec, err := cached.Embed(context.Background(), "still works")

	// Then: the inner embedder answers
	require.NoError(t, err)
	assert.Equal(t, inner.vectorFor("still works"), vec)

	got, err := cached.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRedisCachedEmbedder_CorruptEntryIsRecomputed(t *testing.T) {
	// Given: a garbage value at the key for "q"
	mr, inner, cached := setupRedisCache(t)
	require.NoError(t, mr.Set(cached.key("q"), "abc"))

	// When: I embed "q"
	vec, err := cached.Embed(context.Background(), "q")

	// Then: the value is recomputed and overwritten
	require.NoError(t, err)
	assert.Equal(t, inner.vectorFor("q"), vec)
	assert.Equal(t, int64(1), inner.embedCalls.Load())
	raw, err := mr.Get(cached.key("q"))
	require.NoError(t, err)
	assert.Len(t, raw, 16)
}

func TestRedisCachedEmbedder_Options(t *testing.T) {
	// Given: custom prefix and TTL
	mr, _, cached := setupRedisCache(t, WithRedisPrefix("test:"), WithRedisTTL(time.Minute))

	// When: I embed
	_, err := cached.Embed(context.Background(), "q")
	require.NoError(t, err)

	// Then: the key uses them
	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "test:"))
	assert.Equal(t, time.Minute, mr.TTL(keys[0]))
}

func TestDialRedisCache_Errors(t *testing.T) {
	inner := newMockEmbedder(4)

	_, err := DialRedisCache(context.Background(), inner, "not a url")
	assert.Error(t, err)

	// Nothing listens on this port.
	_, err = DialRedisCache(context.Background(), inner, "redis://127.0.0.1:1/0")
	assert.Error(t, err)
}

func TestVectorEncoding_RoundTrip(t *testing.T) {
	vec := []float32{0, -1.5, 3.25, 1e-7}
	got, err := decodeVector(encodeVector(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
	_, err = decodeVector(nil)
	assert.Error(t, err)
}
