package pagestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const schema = `
CREATE TABLE IF NOT EXISTS pages (
	key TEXT PRIMARY KEY,
	body TEXT NOT NULL,
	content_model TEXT NOT NULL DEFAULT 'wikitext',
	summary TEXT NOT NULL DEFAULT '',
	actor TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
)`

// SQLite stores pages in a local SQLite database. Pages with a
// content_model other than wikitext are reported as non-text.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) a page database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open page db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init page db: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM pages ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan page key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *SQLite) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM pages WHERE key = ?`, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat page %s: %w", key, err)
	}
	return true, nil
}

func (s *SQLite) ReadBody(ctx context.Context, key string) (string, error) {
	var body, model string
	err := s.db.QueryRowContext(ctx,
		`SELECT body, content_model FROM pages WHERE key = ?`, key).Scan(&body, &model)
	if err != nil {
		return "", fmt.Errorf("read page %s: %w", key, err)
	}
	if model != "wikitext" {
		return "", fmt.Errorf("page %s has content model %s: %w", key, model, ErrNotText)
	}
	return body, nil
}

func (s *SQLite) ReplaceBody(ctx context.Context, key, body, summary, actor string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pages (key, body, summary, actor, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			body = excluded.body,
			summary = excluded.summary,
			actor = excluded.actor,
			updated_at = excluded.updated_at
	`, key, body, summary, actor, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("write page %s: %w", key, err)
	}
	return nil
}
