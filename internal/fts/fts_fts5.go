//go:build sqlite_fts5

package fts

import (
	"database/sql"

	"github.com/starford/muninn/internal/apperr"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			id UNINDEXED,
			title,
			body,
			tags,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, id, title, body, tags string) error {
	_, _ = tx.Exec(`DELETE FROM memories_fts WHERE id = ?`, id)
	_, err := tx.Exec(`INSERT INTO memories_fts (id, title, body, tags) VALUES (?, ?, ?, ?)`,
		id, title, body, tags)
	if err != nil {
		return apperr.IO("upsert fts", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, id string) {
	_, _ = tx.Exec(`DELETE FROM memories_fts WHERE id = ?`, id)
}

func ftsReset(tx *sql.Tx) {
	_, _ = tx.Exec(`DELETE FROM memories_fts`)
}

// Search performs an FTS5 full-text search, best rank first.
func (db *DB) Search(query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT id,
		       title,
		       snippet(memories_fts, 2, '<b>', '</b>', '...', 64)
		FROM memories_fts
		WHERE memories_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, apperr.IO("fts search", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
