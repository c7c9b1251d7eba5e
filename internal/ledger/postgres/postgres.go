package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tokligence/chatrelay/internal/ledger"
)

// Store implements ledger.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// PoolConfig tunes the database/sql connection pool. Zero values keep the driver defaults.
type PoolConfig struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// New opens a PostgreSQL-backed ledger store using the provided DSN and pool settings.
func New(dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}

	if pool.MaxOpen > 0 {
		db.SetMaxOpenConns(pool.MaxOpen)
	}
	if pool.MaxIdle > 0 {
		db.SetMaxIdleConns(pool.MaxIdle)
	}
	if pool.MaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.MaxLifetime)
	}
	if pool.MaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.MaxIdleTime)
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
	id BIGSERIAL PRIMARY KEY,
	exchange_id UUID NOT NULL UNIQUE,
	model TEXT NOT NULL DEFAULT '',
	prompt_tokens BIGINT NOT NULL,
	completion_tokens BIGINT NOT NULL,
	fragments BIGINT NOT NULL DEFAULT 0,
	outcome TEXT NOT NULL CHECK(outcome IN ('completed','interrupted','aborted')),
	duration_ms BIGINT NOT NULL DEFAULT 0,
	ttfb_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_exchanges_created ON exchanges(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_exchanges_outcome ON exchanges(outcome);
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
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ExchangeID,
		entry.Model,
		entry.PromptTokens,
		entry.CompletionTokens,
		entry.Fragments,
		string(entry.Outcome),
		entry.DurationMs,
		entry.TTFBMs,
		created,
	)
	return err
}

// Summary returns aggregated usage across all exchanges.
func (s *Store) Summary(ctx context.Context) (ledger.Summary, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE outcome = 'completed'),
	COUNT(*) FILTER (WHERE outcome = 'interrupted'),
	COUNT(*) FILTER (WHERE outcome = 'aborted'),
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
SELECT id, exchange_id::text, model, prompt_tokens, completion_tokens, fragments, outcome, duration_ms, ttfb_ms, created_at
FROM exchanges
ORDER BY created_at DESC, id DESC
LIMIT $1`, limit)
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
