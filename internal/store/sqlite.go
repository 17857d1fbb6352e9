package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteStore keeps chunk text and an FTS5 index in one SQLite database.
// It implements both LexicalStore and ChunkStore. WAL mode lets the
// seed command write while a server process reads.
type SQLiteStore struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	config    LexicalConfig
	closed    bool
	stopWords map[string]struct{}
}

var (
	_ LexicalStore = (*SQLiteStore)(nil)
	_ ChunkStore   = (*SQLiteStore)(nil)
)

// validateSQLiteIntegrity checks an existing database before opening it.
// A missing file is valid; it will be created.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// NewSQLiteStore opens or creates the store at path. An empty path
// creates an in-memory store.
func NewSQLiteStore(path string, config LexicalConfig) (*SQLiteStore, error) {
	if config.MinTokenLength <= 0 {
		config.MinTokenLength = DefaultLexicalConfig().MinTokenLength
	}

	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		if err := validateSQLiteIntegrity(path); err != nil {
			// Chunk text is source data, so a corrupt file is reported, not cleared.
			return nil, fmt.Errorf("chunk store at %s: %w", path, err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; an in-memory database also needs one shared connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores most DSN params, so set pragmas explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{
		db:        db,
		path:      path,
		config:    config,
		stopWords: BuildStopWordMap(config.StopWords),
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	slog.Debug("sqlite_store_opened", slog.String("path", path))
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id       TEXT PRIMARY KEY,
		title    TEXT NOT NULL DEFAULT '',
		content  TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}'
	);

	-- content holds pre-tokenized text (identifiers split, stop words removed)
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_content USING fts5(
		doc_id UNINDEXED,
		content,
		tokenize='unicode61'
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) tokens(text string) []string {
	return FilterStopWords(Tokenize(text, s.config.MinTokenLength), s.stopWords)
}

// SaveChunks stores chunk text and metadata without touching the FTS index.
func (s *SQLiteStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	return s.write(ctx, chunks, false)
}

// Index stores chunks and indexes their title and content for BM25.
func (s *SQLiteStore) Index(ctx context.Context, chunks []*Chunk) error {
	return s.write(ctx, chunks, true)
}

func (s *SQLiteStore) write(ctx context.Context, chunks []*Chunk, index bool) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	chunkStmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO chunks(id, title, content, metadata) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk statement: %w", err)
	}
	defer chunkStmt.Close()

	// FTS5 virtual tables don't support REPLACE, so delete first.
	deleteStmt, err := tx.PrepareContext(ctx, `DELETE FROM fts_content WHERE doc_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}
	defer deleteStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx, `INSERT INTO fts_content(doc_id, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare FTS statement: %w", err)
	}
	defer insertStmt.Close()

	for _, c := range chunks {
		if c == nil || c.ID == "" {
			return fmt.Errorf("chunk without ID")
		}
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", c.ID, err)
		}
		if _, err := chunkStmt.ExecContext(ctx, c.ID, c.Title, c.Content, string(meta)); err != nil {
			return fmt.Errorf("failed to save chunk %s: %w", c.ID, err)
		}
		if !index {
			continue
		}
		processed := strings.Join(s.tokens(c.Title+" "+c.Content), " ")
		if _, err := deleteStmt.ExecContext(ctx, c.ID); err != nil {
			return fmt.Errorf("failed to delete existing document %s: %w", c.ID, err)
		}
		if _, err := insertStmt.ExecContext(ctx, c.ID, processed); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// Search returns chunks matching any query term, best BM25 first.
// Equal scores are ordered by chunk ID.
func (s *SQLiteStore) Search(ctx context.Context, queryStr string, limit int) ([]*LexicalHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 || strings.TrimSpace(queryStr) == "" {
		return []*LexicalHit{}, nil
	}

	terms := uniqueTokens(s.tokens(queryStr))
	if len(terms) == 0 {
		return []*LexicalHit{}, nil
	}

	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	match := strings.Join(quoted, " OR ")

	// bm25() is negative with lower meaning better.
	query := `
		SELECT doc_id, bm25(fts_content) AS score, content
		FROM fts_content
		WHERE fts_content MATCH ?
		ORDER BY score, doc_id
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, match, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []*LexicalHit{}, nil
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	results := make([]*LexicalHit, 0, limit)
	for rows.Next() {
		var docID, content string
		var score float64
		if err := rows.Scan(&docID, &score, &content); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, &LexicalHit{
			ChunkID:      docID,
			Score:        -score,
			MatchedTerms: matchedTerms(terms, content),
		})
	}
	return results, rows.Err()
}

func matchedTerms(terms []string, processed string) []string {
	present := make(map[string]struct{})
	for _, tok := range strings.Fields(processed) {
		present[tok] = struct{}{}
	}
	var matched []string
	for _, t := range terms {
		if _, ok := present[t]; ok {
			matched = append(matched, t)
		}
	}
	return matched
}

// GetChunks returns the chunks with the given IDs in the requested order.
// Unknown IDs are skipped.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return []*Chunk{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	placeholders, args := inClause(ids)
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, title, content, metadata FROM chunks WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Chunk, len(ids))
	for rows.Next() {
		var c Chunk
		var meta string
		if err := rows.Scan(&c.ID, &c.Title, &c.Content, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if meta != "" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
				slog.Warn("chunk_metadata_invalid", slog.String("chunk_id", c.ID), slog.String("error", err.Error()))
			}
		}
		byID[c.ID] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Chunk, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// ChunkTexts returns chunk content keyed by ID.
func (s *SQLiteStore) ChunkTexts(ctx context.Context, ids []string) (map[string]string, error) {
	chunks, err := s.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	texts := make(map[string]string, len(chunks))
	for _, c := range chunks {
		texts[c.ID] = c.Content
	}
	return texts, nil
}

// Delete removes chunks from both the chunk table and the FTS index.
func (s *SQLiteStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders, args := inClause(ids)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM fts_content WHERE doc_id IN (%s)", placeholders), args...); err != nil {
		return fmt.Errorf("failed to delete from FTS: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM chunks WHERE id IN (%s)", placeholders), args...); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return tx.Commit()
}

// Count returns the number of stored chunks.
func (s *SQLiteStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		return 0
	}
	return count
}

// Close checkpoints the WAL and closes the database. Idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

func inClause(ids []string) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ","), args
}
