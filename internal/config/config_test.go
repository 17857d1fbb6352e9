package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/fusion"
)

// isolate points the user config at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	return xdg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// =============================================================================
// Defaults
// =============================================================================

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, 60, cfg.Fusion.RRFConstant)
	assert.Equal(t, 50, cfg.Fusion.TopN)
	assert.Equal(t, 50, cfg.Fusion.CandidateK)
	assert.Equal(t, 300*time.Millisecond, cfg.Fusion.SourceTimeout)
	assert.Equal(t, 800*time.Millisecond, cfg.Fusion.GlobalDeadline)
	assert.Equal(t, 150*time.Millisecond, cfg.Fusion.RerankBudget)
	assert.True(t, cfg.Fusion.Classify)
	assert.Equal(t, 2, cfg.Graph.MaxHops)
	assert.Equal(t, 3, cfg.Graph.CommunityTopM)
	assert.Equal(t, "sqlite", cfg.Stores.LexicalBackend)
	assert.Equal(t, "hnsw", cfg.Stores.VectorBackend)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.False(t, cfg.Reranker.Enabled)
	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, "info", cfg.Server.LogLevel)

	require.NoError(t, cfg.Validate())
}

func TestConfig_EngineConfigMirrorsFusionSection(t *testing.T) {
	cfg := NewConfig()
	cfg.Fusion.TopN = 20
	cfg.Reranker.Enabled = true

	ec := cfg.EngineConfig()

	assert.Equal(t, 20, ec.TopN)
	assert.Equal(t, 60, ec.RRFConstant)
	assert.True(t, ec.RerankEnabled)
	assert.Equal(t, fusion.DefaultConfig().MinRerankWindow, ec.MinRerankWindow)
}

func TestConfig_DerivedPaths(t *testing.T) {
	cfg := NewConfig()
	cfg.DataDir = "/data"

	assert.Equal(t, "/data/communities.db", cfg.SnapshotPath())
	assert.Equal(t, "/data/telemetry.db", cfg.MetricsDBPath())

	cfg.Community.SnapshotPath = "/snap/c.db"
	assert.Equal(t, "/snap/c.db", cfg.SnapshotPath())
}

// =============================================================================
// Layered loading
// =============================================================================

func TestLoad_NoFilesUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, NewConfig().Fusion, cfg.Fusion)
}

func TestLoad_ProjectOverridesUser(t *testing.T) {
	// Given: a user config and a project config touching the same key
	xdg := isolate(t)
	writeFile(t, filepath.Join(xdg, "amanrag", "config.yaml"), `
fusion:
  top_n: 30
  source_timeout: 200ms
reranker:
  enabled: true
`)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), `
fusion:
  top_n: 10
`)

	// When: loading
	cfg, err := Load(dir)

	// Then: the project wins, other user keys survive, untouched keys keep defaults
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Fusion.TopN)
	assert.Equal(t, 200*time.Millisecond, cfg.Fusion.SourceTimeout)
	assert.True(t, cfg.Reranker.Enabled)
	assert.Equal(t, 800*time.Millisecond, cfg.Fusion.GlobalDeadline)
}

func TestLoad_FalseBooleanOverridesTrueDefault(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), "community:\n  watch: false\nfusion:\n  classify: false\n")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.False(t, cfg.Community.Watch)
	assert.False(t, cfg.Fusion.Classify)
}

func TestLoad_EmptyFileIsFine(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), "")

	_, err := Load(dir)
	require.NoError(t, err)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errText string
	}{
		{name: "unknown key", content: "fusion:\n  rrf_konstant: 60\n", errText: "rrf_konstant"},
		{name: "bad yaml", content: "fusion: [\n", errText: "parse config"},
		{name: "bad duration", content: "fusion:\n  source_timeout: soon\n", errText: "parse config"},
		{name: "timeout above deadline", content: "fusion:\n  source_timeout: 2s\n", errText: "exceeds"},
		{name: "unknown weight source", content: "fusion:\n  default_weights:\n    web: 1\n", errText: "default_weights"},
		{name: "pgvector without dsn", content: "stores:\n  vector_backend: pgvector\n", errText: "postgres_dsn"},
		{name: "bad transport", content: "server:\n  transport: sse\n", errText: "transport"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, ProjectConfigName), tt.content)

			_, err := Load(dir)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errText)
			assert.Equal(t, amerrors.ErrCodeConfigInvalid, amerrors.GetCode(err))
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))

	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeConfigNotFound, amerrors.GetCode(err))
}

// =============================================================================
// Environment overrides
// =============================================================================

func TestLoad_EnvOverrides(t *testing.T) {
	// Given: a project file and env vars for the same keys
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), "fusion:\n  rrf_k: 40\n")
	t.Setenv("AMANRAG_RRF_K", "80")
	t.Setenv("AMANRAG_GLOBAL_DEADLINE", "1s")
	t.Setenv("AMANRAG_RERANK_ENABLED", "true")
	t.Setenv("AMANRAG_LEXICAL_BACKEND", "bleve")
	t.Setenv("AMANRAG_LOG_LEVEL", "debug")

	// When: loading
	cfg, err := Load(dir)

	// Then: env vars take precedence
	require.NoError(t, err)
	assert.Equal(t, 80, cfg.Fusion.RRFConstant)
	assert.Equal(t, time.Second, cfg.Fusion.GlobalDeadline)
	assert.True(t, cfg.Reranker.Enabled)
	assert.Equal(t, "bleve", cfg.Stores.LexicalBackend)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
}

func TestLoad_EmptyEnvIsIgnored(t *testing.T) {
	isolate(t)
	t.Setenv("AMANRAG_EMBEDDINGS_PROVIDER", "")

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
}

func TestLoad_MalformedEnv(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"AMANRAG_TOP_N", "many"},
		{"AMANRAG_SOURCE_TIMEOUT", "300"},
		{"AMANRAG_RERANK_ENABLED", "sometimes"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			isolate(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load(t.TempDir())

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

// =============================================================================
// Routing weights
// =============================================================================

func TestConfig_RoutingWeights(t *testing.T) {
	cfg := NewConfig()
	cfg.Fusion.DefaultWeights = map[string]float64{"Vector": 1, "graph_global": 0}

	w, err := cfg.RoutingWeights()

	require.NoError(t, err)
	assert.Equal(t, []fusion.SourceName{fusion.SourceVector}, w.Active())

	cfg.Fusion.DefaultWeights = map[string]float64{"vector": 0}
	_, err = cfg.RoutingWeights()
	require.Error(t, err)
}

// =============================================================================
// WriteYAML round trip
// =============================================================================

func TestWriteYAML_RoundTrip(t *testing.T) {
	isolate(t)
	cfg := NewConfig()
	cfg.Fusion.SourceTimeout = 250 * time.Millisecond
	cfg.Graph.MaxHops = 3
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, cfg.WriteYAML(path))
	loaded, err := LoadFile(path)

	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, loaded.Fusion.SourceTimeout)
	assert.Equal(t, 3, loaded.Graph.MaxHops)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "source_timeout: 250ms")
}

func TestGetUserConfigPath_HonoursXDG(t *testing.T) {
	xdg := isolate(t)
	assert.Equal(t, filepath.Join(xdg, "amanrag", "config.yaml"), GetUserConfigPath())
	assert.False(t, UserConfigExists())
}
