package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/tokligence/chatrelay/internal/ledger"
)

// Store implements ledger.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// a single writer avoids SQLITE_BUSY under concurrent exchanges
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	exchange_id TEXT NOT NULL UNIQUE,
	model TEXT NOT NULL DEFAULT '',
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	fragments INTEGER NOT NULL DEFAULT 0,
	outcome TEXT NOT NULL CHECK(outcome IN ('completed','interrupted','aborted')),
	duration_ms INTEGER NOT NULL DEFAULT 0,
	ttfb_ms INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_exchanges_created ON exchanges(created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a new exchange entry.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if err := ledger.Validate(entry); err != nil {
		return err
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO exchanges(exchange_id, model, prompt_tokens, completion_tokens, fragments, outcome, duration_ms, ttfb_ms, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ExchangeID,
		entry.Model,
		entry.PromptTokens,
		entry.CompletionTokens,
		entry.Fragments,
		string(entry.Outcome),
		entry.DurationMs,
		entry.TTFBMs,
		created.UTC(),
	)
	return err
}

// Summary returns aggregated usage across all exchanges.
func (s *Store) Summary(ctx context.Context) (ledger.Summary, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN outcome='completed' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN outcome='interrupted' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN outcome='aborted' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(prompt_tokens), 0),
	COALESCE(SUM(completion_tokens), 0)
FROM exchanges`)

	var summary ledger.Summary
	if err := row.Scan(&summary.Exchanges, &summary.Completed, &summary.Interrupted, &summary.Aborted,
		&summary.PromptTokens, &summary.CompletionTokens); err != nil {
		return ledger.Summary{}, err
	}
	summary.TotalTokens = summary.PromptTokens + summary.CompletionTokens
	return summary, nil
}

// ListRecent returns the latest exchanges, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = ledger.DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, exchange_id, model, prompt_tokens, completion_tokens, fragments, outcome, duration_ms, ttfb_ms, created_at
FROM exchanges
ORDER BY created_at DESC, id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var outcome string
		if err := rows.Scan(&e.ID, &e.ExchangeID, &e.Model, &e.PromptTokens, &e.CompletionTokens,
			&e.Fragments, &outcome, &e.DurationMs, &e.TTFBMs, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Outcome = ledger.Outcome(outcome)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
