package store

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// pgConn is the subset of pgxpool.Pool the store uses.
type pgConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

// PGVectorStore implements VectorStore on PostgreSQL with pgvector, for
// deployments that share one embedding table between several servers.
type PGVectorStore struct {
	conn   pgConn
	pool   *pgxpool.Pool
	table  string
	dims   int
	mu     sync.RWMutex
	closed bool
}

var _ VectorStore = (*PGVectorStore)(nil)

// PGVectorOption configures a PGVectorStore.
type PGVectorOption func(*PGVectorStore)

// WithTable overrides the embeddings table name (default chunk_embeddings).
func WithTable(name string) PGVectorOption {
	return func(s *PGVectorStore) {
		s.table = name
	}
}

var tableNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// NewPGVectorStore connects to dsn, registers the pgvector types on every
// connection and ensures the table exists.
func NewPGVectorStore(ctx context.Context, dsn string, dims int, opts ...PGVectorOption) (*PGVectorStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	s, err := newPGVectorStore(ctx, pool, dims, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.pool = pool
	return s, nil
}

func newPGVectorStore(ctx context.Context, conn pgConn, dims int, opts ...PGVectorOption) (*PGVectorStore, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("vector dimensions must be positive, got %d", dims)
	}
	s := &PGVectorStore{conn: conn, table: "chunk_embeddings", dims: dims}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	if !tableNameRe.MatchString(s.table) {
		return nil, fmt.Errorf("invalid table name %q", s.table)
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PGVectorStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			chunk_id  TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL
		)`, s.table, s.dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_hnsw ON %s USING hnsw (embedding vector_cosine_ops)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure pgvector schema: %w", err)
		}
	}
	return nil
}

// Add upserts embeddings.
func (s *PGVectorStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	upsert := fmt.Sprintf(`INSERT INTO %s (chunk_id, embedding) VALUES ($1, $2)
		ON CONFLICT (chunk_id) DO UPDATE SET embedding = EXCLUDED.embedding`, s.table)
	for i, id := range ids {
		if len(vectors[i]) != s.dims {
			return ErrDimensionMismatch{Expected: s.dims, Got: len(vectors[i])}
		}
		if _, err := s.conn.Exec(ctx, upsert, id, pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("upsert embedding %s: %w", id, err)
		}
	}
	return nil
}

// Search orders by cosine distance (<=>), ties by chunk ID.
func (s *PGVectorStore) Search(ctx context.Context, query []float32, k int) ([]*VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if len(query) != s.dims {
		return nil, ErrDimensionMismatch{Expected: s.dims, Got: len(query)}
	}
	if k <= 0 {
		return []*VectorHit{}, nil
	}

	sql := fmt.Sprintf(`SELECT chunk_id, embedding <=> $1 AS distance
		FROM %s ORDER BY distance, chunk_id LIMIT $2`, s.table)
	rows, err := s.conn.Query(ctx, sql, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	hits := make([]*VectorHit, 0, k)
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, fmt.Errorf("scan pgvector row: %w", err)
		}
		hits = append(hits, &VectorHit{
			ChunkID:    id,
			Distance:   float32(distance),
			Similarity: distanceToSimilarity(float32(distance), "cos"),
		})
	}
	return hits, rows.Err()
}

// Delete removes embeddings by chunk ID.
func (s *PGVectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.conn.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE chunk_id = ANY($1)`, s.table), ids)
	if err != nil {
		return fmt.Errorf("delete embeddings: %w", err)
	}
	return nil
}

// Count returns the number of stored embeddings, or 0 on error.
func (s *PGVectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	var n int
	if err := s.conn.QueryRow(context.Background(), fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Close closes the pool when the store owns it.
func (s *PGVectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
