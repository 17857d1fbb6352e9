package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LexicalBackend selects the lexical store implementation.
type LexicalBackend string

const (
	// LexicalBackendSQLite uses SQLite FTS5 (default). WAL mode allows
	// concurrent readers across processes.
	LexicalBackendSQLite LexicalBackend = "sqlite"

	// LexicalBackendBleve uses Bleve v2. Single process only.
	LexicalBackendBleve LexicalBackend = "bleve"
)

// VectorBackend selects the vector store implementation.
type VectorBackend string

const (
	VectorBackendHNSW     VectorBackend = "hnsw"
	VectorBackendPGVector VectorBackend = "pgvector"
)

// Paths lays out the files under a data directory.
type Paths struct {
	DataDir string
}

// ChunksDB is the SQLite database holding chunk text (and FTS5 when
// the lexical backend is sqlite).
func (p Paths) ChunksDB() string { return filepath.Join(p.DataDir, "chunks.db") }

// BleveIndex is the Bleve index directory.
func (p Paths) BleveIndex() string { return filepath.Join(p.DataDir, "lexical.bleve") }

// VectorIndex is the HNSW graph file; its ID map sits next to it with ".meta".
func (p Paths) VectorIndex() string { return filepath.Join(p.DataDir, "vectors.hnsw") }

// GraphDB is the SQLite database holding the entity graph.
func (p Paths) GraphDB() string { return filepath.Join(p.DataDir, "graph.db") }

// Communities is the bbolt community snapshot.
func (p Paths) Communities() string { return filepath.Join(p.DataDir, "communities.db") }

// OpenLexical returns the lexical store for backend. The sqlite backend
// reuses chunks so chunk text and FTS live in one database.
func OpenLexical(backend string, paths Paths, chunks *SQLiteStore) (LexicalStore, error) {
	switch LexicalBackend(backend) {
	case LexicalBackendSQLite, "":
		if chunks == nil {
			return nil, fmt.Errorf("sqlite lexical backend needs the chunk store")
		}
		return chunks, nil
	case LexicalBackendBleve:
		path := ""
		if paths.DataDir != "" {
			path = paths.BleveIndex()
		}
		return NewBleveLexicalStore(path)
	default:
		return nil, fmt.Errorf("unknown lexical backend: %s (valid options: sqlite, bleve)", backend)
	}
}

// VectorOptions configures OpenVector.
type VectorOptions struct {
	Dimensions  int
	PostgresDSN string
	Table       string

	// Create allows an empty HNSW store when no saved index exists.
	Create bool
}

// OpenVector returns the vector store for backend.
func OpenVector(ctx context.Context, backend string, paths Paths, opts VectorOptions) (VectorStore, error) {
	switch VectorBackend(backend) {
	case VectorBackendHNSW, "":
		path := paths.VectorIndex()
		if paths.DataDir != "" && fileExists(path) {
			s, err := LoadHNSWVectorStore(path)
			if err != nil {
				return nil, err
			}
			if opts.Dimensions > 0 && s.Dimensions() != opts.Dimensions {
				return nil, ErrDimensionMismatch{Expected: s.Dimensions(), Got: opts.Dimensions}
			}
			return s, nil
		}
		if !opts.Create && paths.DataDir != "" {
			return nil, fmt.Errorf("no vector index at %s (run 'amanrag seed')", path)
		}
		return NewHNSWVectorStore(DefaultVectorStoreConfig(opts.Dimensions))
	case VectorBackendPGVector:
		if opts.PostgresDSN == "" {
			return nil, fmt.Errorf("pgvector backend needs stores.postgres_dsn")
		}
		var pgOpts []PGVectorOption
		if opts.Table != "" {
			pgOpts = append(pgOpts, WithTable(opts.Table))
		}
		return NewPGVectorStore(ctx, opts.PostgresDSN, opts.Dimensions, pgOpts...)
	default:
		return nil, fmt.Errorf("unknown vector backend: %s (valid options: hnsw, pgvector)", backend)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
