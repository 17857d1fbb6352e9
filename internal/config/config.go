package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amanrag/internal/embed"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/fusion"
	"github.com/Aman-CERP/amanrag/internal/rerank"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// ProjectConfigName is the per-project config file.
const ProjectConfigName = ".amanrag.yaml"

// Config is the complete amanrag configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	DataDir    string           `yaml:"data_dir" json:"data_dir"`
	Fusion     FusionConfig     `yaml:"fusion" json:"fusion"`
	Graph      GraphConfig      `yaml:"graph" json:"graph"`
	Stores     StoresConfig     `yaml:"stores" json:"stores"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Reranker   RerankerConfig   `yaml:"reranker" json:"reranker"`
	Community  CommunityConfig  `yaml:"community" json:"community"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// FusionConfig holds engine defaults.
type FusionConfig struct {
	// RRFConstant is k in 1/(k+rank). 60 is the common choice.
	RRFConstant    int           `yaml:"rrf_k" json:"rrf_k"`
	TopN           int           `yaml:"top_n" json:"top_n"`
	CandidateK     int           `yaml:"candidate_k" json:"candidate_k"`
	SourceTimeout  time.Duration `yaml:"source_timeout" json:"source_timeout"`
	GlobalDeadline time.Duration `yaml:"global_deadline" json:"global_deadline"`
	RerankBudget   time.Duration `yaml:"rerank_budget" json:"rerank_budget"`

	// Classify derives routing weights from the query when the caller
	// gives none. When false DefaultWeights are used.
	Classify       bool               `yaml:"classify" json:"classify"`
	DefaultWeights map[string]float64 `yaml:"default_weights" json:"default_weights"`
}

// GraphConfig configures the graph adapters.
type GraphConfig struct {
	MaxHops       int `yaml:"max_hops" json:"max_hops"`
	CommunityTopM int `yaml:"community_top_m" json:"community_top_m"`
}

// StoresConfig selects store backends.
type StoresConfig struct {
	LexicalBackend string `yaml:"lexical_backend" json:"lexical_backend"`
	VectorBackend  string `yaml:"vector_backend" json:"vector_backend"`
	PostgresDSN    string `yaml:"postgres_dsn" json:"postgres_dsn"`
	PGTable        string `yaml:"pg_table" json:"pg_table"`
}

// EmbeddingsConfig configures the embedder stack.
type EmbeddingsConfig struct {
	Provider   string        `yaml:"provider" json:"provider"`
	Model      string        `yaml:"model" json:"model"`
	Host       string        `yaml:"host" json:"host"`
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	CacheSize  int           `yaml:"cache_size" json:"cache_size"`
	RedisURL   string        `yaml:"redis_url" json:"redis_url"`
	RedisTTL   time.Duration `yaml:"redis_ttl" json:"redis_ttl"`
}

// RerankerConfig configures the HTTP cross-encoder client.
type RerankerConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Endpoint        string        `yaml:"endpoint" json:"endpoint"`
	Model           string        `yaml:"model" json:"model"`
	Instruction     string        `yaml:"instruction" json:"instruction"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	RateLimit       float64       `yaml:"rate_limit" json:"rate_limit"`
	Burst           int           `yaml:"burst" json:"burst"`
	BreakerFailures int           `yaml:"breaker_failures" json:"breaker_failures"`
	BreakerReset    time.Duration `yaml:"breaker_reset" json:"breaker_reset"`
}

// CommunityConfig configures the community snapshot.
type CommunityConfig struct {
	// SnapshotPath defaults to <data_dir>/communities.db.
	SnapshotPath string  `yaml:"snapshot_path" json:"snapshot_path"`
	Watch        bool    `yaml:"watch" json:"watch"`
	Resolution   float64 `yaml:"resolution" json:"resolution"`
	MinSize      int     `yaml:"min_size" json:"min_size"`
}

// TelemetryConfig configures local metrics and tracing.
type TelemetryConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	MetricsDB     string        `yaml:"metrics_db" json:"metrics_db"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
	OTLPEndpoint  string        `yaml:"otlp_endpoint" json:"otlp_endpoint"`
}

// ServerConfig configures `amanrag serve`.
type ServerConfig struct {
	// Transport is stdio (MCP), http (REST API) or both.
	Transport string `yaml:"transport" json:"transport"`
	HTTPAddr  string `yaml:"http_addr" json:"http_addr"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// NewConfig returns the defaults.
func NewConfig() *Config {
	fd := fusion.DefaultConfig()
	rd := rerank.DefaultConfig()
	return &Config{
		Version: 1,
		DataDir: defaultDataDir(),
		Fusion: FusionConfig{
			RRFConstant:    fd.RRFConstant,
			TopN:           fd.TopN,
			CandidateK:     fd.CandidateK,
			SourceTimeout:  fd.SourceTimeout,
			GlobalDeadline: fd.GlobalDeadline,
			RerankBudget:   fd.RerankBudget,
			Classify:       true,
			DefaultWeights: map[string]float64{
				string(fusion.SourceVector):      0.7,
				string(fusion.SourceLexical):     0.6,
				string(fusion.SourceGraphLocal):  0.4,
				string(fusion.SourceGraphGlobal): 0.3,
			},
		},
		Graph: GraphConfig{
			MaxHops:       2,
			CommunityTopM: 3,
		},
		Stores: StoresConfig{
			LexicalBackend: string(store.LexicalBackendSQLite),
			VectorBackend:  string(store.VectorBackendHNSW),
			PGTable:        "chunk_vectors",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   string(embed.ProviderStatic),
			Dimensions: 256,
			Timeout:    30 * time.Second,
			CacheSize:  1000,
			RedisTTL:   24 * time.Hour,
		},
		Reranker: RerankerConfig{
			Enabled:         false,
			Endpoint:        rd.Endpoint,
			Model:           rd.Model,
			Timeout:         rd.Timeout,
			RateLimit:       rd.RateLimit,
			Burst:           rd.Burst,
			BreakerFailures: rd.BreakerFailures,
			BreakerReset:    rd.BreakerReset,
		},
		Community: CommunityConfig{
			Watch:      true,
			Resolution: 1.0,
			MinSize:    1,
		},
		Telemetry: TelemetryConfig{
			Enabled:       true,
			FlushInterval: time.Minute,
		},
		Server: ServerConfig{
			Transport: "stdio",
			HTTPAddr:  "127.0.0.1:8790",
			LogLevel:  "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amanrag", "data")
	}
	return filepath.Join(home, ".amanrag", "data")
}

// GetUserConfigPath returns $XDG_CONFIG_HOME/amanrag/config.yaml or
// ~/.config/amanrag/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amanrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanrag", "config.yaml")
}

// GetUserConfigDir returns the directory of the user config.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the user config file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load builds the configuration for dir. Precedence, lowest first:
//  1. Defaults
//  2. User config (~/.config/amanrag/config.yaml)
//  3. Project config (.amanrag.yaml in dir)
//  4. AMANRAG_* environment variables
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if dir != "" {
		if path := filepath.Join(dir, ProjectConfigName); fileExists(path) {
			if err := cfg.loadYAML(path); err != nil {
				return nil, err
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads defaults plus a single explicit file, then env overrides.
func LoadFile(path string) (*Config, error) {
	if !fileExists(path) {
		return nil, amerrors.New(amerrors.ErrCodeConfigNotFound, "config file not found: "+path, nil)
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML decodes path over the current values. Keys absent from the
// file keep their current value; unknown keys are rejected.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return amerrors.New(amerrors.ErrCodeConfigInvalid, fmt.Sprintf("read config %s: %v", path, err), err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return amerrors.New(amerrors.ErrCodeConfigInvalid, fmt.Sprintf("parse config %s: %v", path, err), err).
			WithDetail("file", path)
	}
	return nil
}

// applyEnvOverrides applies AMANRAG_* variables. Malformed values are errors.
func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"AMANRAG_DATA_DIR":            &c.DataDir,
		"AMANRAG_LEXICAL_BACKEND":     &c.Stores.LexicalBackend,
		"AMANRAG_VECTOR_BACKEND":      &c.Stores.VectorBackend,
		"AMANRAG_POSTGRES_DSN":        &c.Stores.PostgresDSN,
		"AMANRAG_EMBEDDINGS_PROVIDER": &c.Embeddings.Provider,
		"AMANRAG_EMBEDDINGS_MODEL":    &c.Embeddings.Model,
		"AMANRAG_OLLAMA_HOST":         &c.Embeddings.Host,
		"AMANRAG_REDIS_URL":           &c.Embeddings.RedisURL,
		"AMANRAG_RERANKER_ENDPOINT":   &c.Reranker.Endpoint,
		"AMANRAG_COMMUNITY_SNAPSHOT":  &c.Community.SnapshotPath,
		"AMANRAG_METRICS_DB":          &c.Telemetry.MetricsDB,
		"AMANRAG_OTLP_ENDPOINT":       &c.Telemetry.OTLPEndpoint,
		"AMANRAG_TRANSPORT":           &c.Server.Transport,
		"AMANRAG_HTTP_ADDR":           &c.Server.HTTPAddr,
		"AMANRAG_LOG_LEVEL":           &c.Server.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"AMANRAG_RRF_K":       &c.Fusion.RRFConstant,
		"AMANRAG_TOP_N":       &c.Fusion.TopN,
		"AMANRAG_CANDIDATE_K": &c.Fusion.CandidateK,
		"AMANRAG_MAX_HOPS":    &c.Graph.MaxHops,
		"AMANRAG_DIMENSIONS":  &c.Embeddings.Dimensions,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return envError(key, v, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"AMANRAG_SOURCE_TIMEOUT":  &c.Fusion.SourceTimeout,
		"AMANRAG_GLOBAL_DEADLINE": &c.Fusion.GlobalDeadline,
		"AMANRAG_RERANK_BUDGET":   &c.Fusion.RerankBudget,
	}
	for key, dst := range durations {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return envError(key, v, err)
			}
			*dst = d
		}
	}

	bools := map[string]*bool{
		"AMANRAG_RERANK_ENABLED":    &c.Reranker.Enabled,
		"AMANRAG_CLASSIFY":          &c.Fusion.Classify,
		"AMANRAG_COMMUNITY_WATCH":   &c.Community.Watch,
		"AMANRAG_TELEMETRY_ENABLED": &c.Telemetry.Enabled,
	}
	for key, dst := range bools {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return envError(key, v, err)
			}
			*dst = b
		}
	}
	return nil
}

func envError(key, value string, err error) error {
	return amerrors.New(amerrors.ErrCodeConfigInvalid, fmt.Sprintf("invalid %s=%q: %v", key, value, err), err)
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return amerrors.New(amerrors.ErrCodeConfigInvalid, fmt.Sprintf(format, args...), nil)
	}

	if c.DataDir == "" {
		return invalid("data_dir must not be empty")
	}
	if c.Fusion.RRFConstant <= 0 {
		return invalid("fusion.rrf_k must be positive, got %d", c.Fusion.RRFConstant)
	}
	if c.Fusion.TopN <= 0 {
		return invalid("fusion.top_n must be positive, got %d", c.Fusion.TopN)
	}
	if c.Fusion.CandidateK <= 0 {
		return invalid("fusion.candidate_k must be positive, got %d", c.Fusion.CandidateK)
	}
	if c.Fusion.SourceTimeout <= 0 || c.Fusion.GlobalDeadline <= 0 || c.Fusion.RerankBudget <= 0 {
		return invalid("fusion timeouts must be positive")
	}
	if c.Fusion.SourceTimeout > c.Fusion.GlobalDeadline {
		return invalid("fusion.source_timeout (%s) exceeds fusion.global_deadline (%s)",
			c.Fusion.SourceTimeout, c.Fusion.GlobalDeadline)
	}
	if _, err := c.RoutingWeights(); err != nil {
		return invalid("fusion.default_weights: %v", err)
	}
	if c.Graph.MaxHops < 1 {
		return invalid("graph.max_hops must be at least 1, got %d", c.Graph.MaxHops)
	}
	if c.Graph.CommunityTopM < 1 {
		return invalid("graph.community_top_m must be at least 1, got %d", c.Graph.CommunityTopM)
	}

	switch store.LexicalBackend(c.Stores.LexicalBackend) {
	case store.LexicalBackendSQLite, store.LexicalBackendBleve:
	default:
		return invalid("stores.lexical_backend must be 'sqlite' or 'bleve', got %q", c.Stores.LexicalBackend)
	}
	switch store.VectorBackend(c.Stores.VectorBackend) {
	case store.VectorBackendHNSW:
	case store.VectorBackendPGVector:
		if c.Stores.PostgresDSN == "" {
			return invalid("stores.postgres_dsn is required for the pgvector backend")
		}
	default:
		return invalid("stores.vector_backend must be 'hnsw' or 'pgvector', got %q", c.Stores.VectorBackend)
	}

	if _, err := embed.ParseProvider(c.Embeddings.Provider); err != nil {
		return invalid("embeddings.provider: %v", err)
	}
	if c.Embeddings.Dimensions < 0 {
		return invalid("embeddings.dimensions must be non-negative, got %d", c.Embeddings.Dimensions)
	}

	if c.Reranker.RateLimit < 0 {
		return invalid("reranker.rate_limit must be non-negative")
	}

	switch strings.ToLower(c.Server.Transport) {
	case "stdio", "http", "both":
	default:
		return invalid("server.transport must be 'stdio', 'http' or 'both', got %q", c.Server.Transport)
	}
	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("server.log_level must be 'debug', 'info', 'warn', or 'error', got %q", c.Server.LogLevel)
	}
	return nil
}

// RoutingWeights converts fusion.default_weights to engine weights.
func (c *Config) RoutingWeights() (fusion.RoutingWeights, error) {
	w := make(fusion.RoutingWeights, len(c.Fusion.DefaultWeights))
	for name, v := range c.Fusion.DefaultWeights {
		src, err := fusion.ParseSourceName(name)
		if err != nil {
			return nil, err
		}
		w[src] = v
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// EngineConfig returns the fusion engine settings.
func (c *Config) EngineConfig() fusion.Config {
	cfg := fusion.DefaultConfig()
	cfg.RRFConstant = c.Fusion.RRFConstant
	cfg.TopN = c.Fusion.TopN
	cfg.CandidateK = c.Fusion.CandidateK
	cfg.SourceTimeout = c.Fusion.SourceTimeout
	cfg.GlobalDeadline = c.Fusion.GlobalDeadline
	cfg.RerankBudget = c.Fusion.RerankBudget
	cfg.RerankEnabled = c.Reranker.Enabled
	return cfg
}

// Paths returns the on-disk layout under DataDir.
func (c *Config) Paths() store.Paths {
	return store.Paths{DataDir: c.DataDir}
}

// SnapshotPath returns the community snapshot path.
func (c *Config) SnapshotPath() string {
	if c.Community.SnapshotPath != "" {
		return c.Community.SnapshotPath
	}
	return c.Paths().Communities()
}

// MetricsDBPath returns the telemetry database path.
func (c *Config) MetricsDBPath() string {
	if c.Telemetry.MetricsDB != "" {
		return c.Telemetry.MetricsDB
	}
	return filepath.Join(c.DataDir, "telemetry.db")
}

// EmbedOptions returns options for embed.NewEmbedder.
func (c *Config) EmbedOptions() embed.Options {
	provider, _ := embed.ParseProvider(c.Embeddings.Provider)
	return embed.Options{
		Provider:   provider,
		Model:      c.Embeddings.Model,
		Host:       c.Embeddings.Host,
		Dimensions: c.Embeddings.Dimensions,
		Timeout:    c.Embeddings.Timeout,
		CacheSize:  c.Embeddings.CacheSize,
		RedisURL:   c.Embeddings.RedisURL,
		RedisTTL:   c.Embeddings.RedisTTL,
	}
}

// RerankConfig returns the HTTP reranker client settings.
func (c *Config) RerankConfig() rerank.Config {
	return rerank.Config{
		Endpoint:        c.Reranker.Endpoint,
		Model:           c.Reranker.Model,
		Instruction:     c.Reranker.Instruction,
		Timeout:         c.Reranker.Timeout,
		RateLimit:       c.Reranker.RateLimit,
		Burst:           c.Reranker.Burst,
		BreakerFailures: c.Reranker.BreakerFailures,
		BreakerReset:    c.Reranker.BreakerReset,
	}
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
