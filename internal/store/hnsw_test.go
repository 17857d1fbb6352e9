package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHNSW(t *testing.T) *HNSWVectorStore {
	t.Helper()
	s, err := NewHNSWVectorStore(DefaultVectorStoreConfig(3))
	require.NoError(t, err)
	return s
}

func TestHNSWVectorStore_Search(t *testing.T) {
	ctx := context.Background()
	s := newTestHNSW(t)
	require.NoError(t, s.Add(ctx,
		[]string{"x", "y", "xy"},
		[][]float32{{1, 0, 0}, {0, 1, 0}, {1, 1, 0}}))

	hits, err := s.Search(ctx, []float32{2, 0, 0}, 2)

	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "x", hits[0].ChunkID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-5)
	assert.Equal(t, "xy", hits[1].ChunkID)
	assert.InDelta(t, 0.7071, hits[1].Similarity, 1e-3)
}

func TestHNSWVectorStore_ReplaceAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestHNSW(t)
	require.NoError(t, s.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0, 0}, {0, 1, 0}}))

	require.NoError(t, s.Add(ctx, []string{"a"}, [][]float32{{0, 0, 1}}))
	require.NoError(t, s.Delete(ctx, []string{"b"}))

	assert.Equal(t, 1, s.Count())
	hits, err := s.Search(ctx, []float32{0, 1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ChunkID)
	assert.InDelta(t, 0.0, hits[0].Similarity, 1e-5)
}

func TestHNSWVectorStore_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestHNSW(t)

	err := s.Add(ctx, []string{"a"}, [][]float32{{1, 0}})
	assert.ErrorAs(t, err, &ErrDimensionMismatch{})

	_, err = s.Search(ctx, []float32{1}, 1)
	assert.ErrorAs(t, err, &ErrDimensionMismatch{})

	assert.Error(t, s.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0, 0}}))
}

func TestHNSWVectorStore_EmptyAndCancelled(t *testing.T) {
	s := newTestHNSW(t)

	hits, err := s.Search(context.Background(), []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, s.Add(context.Background(), []string{"a"}, [][]float32{{1, 0, 0}}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Search(ctx, []float32{1, 0, 0}, 3)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHNSWVectorStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	s := newTestHNSW(t)
	require.NoError(t, s.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0, 0}, {0, 1, 0}}))
	require.NoError(t, s.Save(path))

	loaded, err := LoadHNSWVectorStore(path)
	require.NoError(t, err)

	assert.Equal(t, 2, loaded.Count())
	assert.Equal(t, 3, loaded.Dimensions())
	hits, err := loaded.Search(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ChunkID)
}

func TestNewHNSWVectorStore_RejectsZeroDimensions(t *testing.T) {
	_, err := NewHNSWVectorStore(VectorStoreConfig{})
	assert.Error(t, err)
}
