package graph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLite_SaveLoadPreservesGraph(t *testing.T) {
	// Given: a populated graph saved to disk
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graph.db")
	original := sampleGraph(t)
	require.NoError(t, SaveSQLite(ctx, path, original))

	// When: I load it back
	loaded, err := LoadSQLite(ctx, path)
	require.NoError(t, err)

	// Then: entities, relations and traversal results match
	assert.Equal(t, original.Entities(), loaded.Entities())
	assert.Equal(t, original.Relations(), loaded.Relations())
	assert.Equal(t, original.AllMentions(), loaded.AllMentions())

	want, err := original.Traverse(ctx, []string{"billing"}, 2)
	require.NoError(t, err)
	got, err := loaded.Traverse(ctx, []string{"billing"}, 2)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSQLite_SaveReplacesPreviousContent(t *testing.T) {
	// Given: a saved sample graph
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graph.db")
	require.NoError(t, SaveSQLite(ctx, path, sampleGraph(t)))

	// When: I save a smaller graph to the same path
	small := NewMemoryGraph()
	require.NoError(t, small.AddEntity(Entity{ID: "solo"}))
	require.NoError(t, SaveSQLite(ctx, path, small))

	// Then: only the new content remains
	loaded, err := LoadSQLite(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, Stats{Entities: 1}, loaded.Stats())
	e, ok := loaded.Entity("solo")
	require.True(t, ok)
	assert.Equal(t, "solo", e.Name)
}

func TestLoadSQLite_MissingFile(t *testing.T) {
	_, err := LoadSQLite(context.Background(), filepath.Join(t.TempDir(), "absent.db"))
	assert.Error(t, err)
}
