// Package fts maintains an optional SQLite sidecar for full-text body
// search. Like the JSON caches it is derived state: safe to delete,
// rebuilt from record files, never part of the consistency audit.
//
// Build with the sqlite_fts5 tag for FTS5 matching with snippets;
// without it, search falls back to LIKE over the memories table.
package fts

import (
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/muninn/internal/apperr"
)

// FileName is the sidecar database location relative to the store root.
const FileName = "search.db"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS memories (
	id    TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	body  TEXT NOT NULL DEFAULT '',
	tags  TEXT NOT NULL DEFAULT ''
);
`

// Result is one full-text hit.
type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// DB wraps the sidecar connection.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the sidecar database and applies the schema.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, apperr.IO("open search sidecar", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, apperr.IO("ping search sidecar", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, apperr.IO("apply sidecar schema", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, apperr.IO("apply fts schema", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Upsert replaces the searchable text for one record.
func (db *DB) Upsert(id, title, body string, tags []string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return apperr.IO("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	joined := strings.Join(tags, " ")
	_, err = tx.Exec(`
		INSERT INTO memories (id, title, body, tags) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body  = excluded.body,
			tags  = excluded.tags
	`, id, title, body, joined)
	if err != nil {
		return apperr.IO("upsert searchable text", err)
	}
	if err := ftsUpsert(tx, id, title, body, joined); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes a record's searchable text.
func (db *DB) Delete(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return apperr.IO("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, id)
	_, _ = tx.Exec(`DELETE FROM memories WHERE id = ?`, id)
	return tx.Commit()
}

// Reset wipes every row; used before a full rebuild.
func (db *DB) Reset() error {
	tx, err := db.conn.Begin()
	if err != nil {
		return apperr.IO("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsReset(tx)
	if _, err := tx.Exec(`DELETE FROM memories`); err != nil {
		return apperr.IO("reset sidecar", err)
	}
	return tx.Commit()
}
