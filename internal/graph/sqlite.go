package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

const graphSchema = `
CREATE TABLE IF NOT EXISTS entities (
	id      TEXT PRIMARY KEY,
	name    TEXT NOT NULL,
	type    TEXT NOT NULL DEFAULT '',
	aliases TEXT NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS relations (
	src    TEXT NOT NULL,
	dst    TEXT NOT NULL,
	type   TEXT NOT NULL DEFAULT '',
	weight REAL NOT NULL,
	PRIMARY KEY (src, dst)
);
CREATE TABLE IF NOT EXISTS mentions (
	entity_id TEXT NOT NULL,
	chunk_id  TEXT NOT NULL,
	weight    REAL NOT NULL,
	PRIMARY KEY (entity_id, chunk_id)
);
CREATE INDEX IF NOT EXISTS idx_mentions_chunk ON mentions(chunk_id);
`

func openGraphDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph database: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(graphSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize graph schema: %w", err)
	}
	return db, nil
}

// SaveSQLite replaces the graph stored at path with g in one transaction.
func SaveSQLite(ctx context.Context, path string, g *MemoryGraph) (err error) {
	db, err := openGraphDB(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"mentions", "relations", "entities"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	entStmt, err := tx.PrepareContext(ctx, `INSERT INTO entities (id, name, type, aliases) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer entStmt.Close()
	entities := g.Entities()
	for _, e := range entities {
		aliases, merr := json.Marshal(e.Aliases)
		if merr != nil {
			return fmt.Errorf("failed to encode aliases for %s: %w", e.ID, merr)
		}
		if _, err = entStmt.ExecContext(ctx, e.ID, e.Name, e.Type, string(aliases)); err != nil {
			return fmt.Errorf("failed to insert entity %s: %w", e.ID, err)
		}
	}

	relStmt, err := tx.PrepareContext(ctx, `INSERT INTO relations (src, dst, type, weight) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer relStmt.Close()
	relations := g.Relations()
	for _, r := range relations {
		if _, err = relStmt.ExecContext(ctx, r.From, r.To, r.Type, r.Weight); err != nil {
			return fmt.Errorf("failed to insert relation %s-%s: %w", r.From, r.To, err)
		}
	}

	menStmt, err := tx.PrepareContext(ctx, `INSERT INTO mentions (entity_id, chunk_id, weight) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer menStmt.Close()
	mentions := g.AllMentions()
	for _, m := range mentions {
		if _, err = menStmt.ExecContext(ctx, m.EntityID, m.ChunkID, m.Weight); err != nil {
			return fmt.Errorf("failed to insert mention %s/%s: %w", m.EntityID, m.ChunkID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit graph: %w", err)
	}

	slog.Debug("graph_saved",
		slog.String("path", path),
		slog.Int("entities", len(entities)),
		slog.Int("relations", len(relations)),
		slog.Int("mentions", len(mentions)))
	return nil
}

// LoadSQLite reads a graph written by SaveSQLite. A missing file is an error.
func LoadSQLite(ctx context.Context, path string) (*MemoryGraph, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("graph database %s: %w", path, err)
	}
	db, err := openGraphDB(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	g := NewMemoryGraph()

	rows, err := db.QueryContext(ctx, `SELECT id, name, type, aliases FROM entities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	for rows.Next() {
		var e Entity
		var aliases string
		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &aliases); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if err := json.Unmarshal([]byte(aliases), &e.Aliases); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("entity %s has invalid aliases: %w", e.ID, err)
		}
		if err := g.AddEntity(e); err != nil {
			_ = rows.Close()
			return nil, err
		}
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, `SELECT src, dst, type, weight FROM relations ORDER BY src, dst`)
	if err != nil {
		return nil, fmt.Errorf("failed to query relations: %w", err)
	}
	for rows.Next() {
		var r Relation
		if err := rows.Scan(&r.From, &r.To, &r.Type, &r.Weight); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if err := g.AddRelation(r); err != nil {
			_ = rows.Close()
			return nil, err
		}
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, `SELECT entity_id, chunk_id, weight FROM mentions ORDER BY entity_id, chunk_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query mentions: %w", err)
	}
	for rows.Next() {
		var m Mention
		if err := rows.Scan(&m.EntityID, &m.ChunkID, &m.Weight); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if err := g.AddMention(m); err != nil {
			_ = rows.Close()
			return nil, err
		}
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	stats := g.Stats()
	slog.Debug("graph_loaded",
		slog.String("path", path),
		slog.Int("entities", stats.Entities),
		slog.Int("relations", stats.Relations),
		slog.Int("mentions", stats.Mentions))
	return g, nil
}

func closeRows(rows *sql.Rows) error {
	return errors.Join(rows.Err(), rows.Close())
}
