package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hockey-notifier/pkg/notifier"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `CREATE TABLE IF NOT EXISTS live_matches (
	key        TEXT PRIMARY KEY,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// NewPool creates and validates a pgx connection pool.
func NewPool(ctx context.Context, databaseURL string, minConns, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolCfg.MinConns = minConns
	poolCfg.MaxConns = maxConns
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// PostgresPrimary stores each match as a JSONB row.
type PostgresPrimary struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresPrimary creates a Postgres-backed primary.
func NewPostgresPrimary(pool *pgxpool.Pool, logger *slog.Logger) *PostgresPrimary {
	return &PostgresPrimary{pool: pool, logger: logger}
}

// EnsureSchema creates the live_matches table if needed.
func (p *PostgresPrimary) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create live_matches: %w", err)
	}
	return nil
}

// Load reads one match.
func (p *PostgresPrimary) Load(ctx context.Context, key string) (*notifier.LiveMatch, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx, "SELECT doc FROM live_matches WHERE key = $1", key).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("match %s: %w", key, notifier.ErrNotFound)
		}
		return nil, fmt.Errorf("select match %s: %w", key, err)
	}
	var m notifier.LiveMatch
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("unmarshal match %s: %w", key, err)
	}
	return &m, nil
}

// Save upserts one match.
func (p *PostgresPrimary) Save(ctx context.Context, m *notifier.LiveMatch) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal match %s: %w", m.Key, err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO live_matches (key, doc, updated_at) VALUES ($1, $2::jsonb, $3)
		ON CONFLICT (key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		m.Key, string(doc), m.LastUpdated)
	if err != nil {
		return fmt.Errorf("upsert match %s: %w", m.Key, err)
	}
	return nil
}

// Remove deletes one match.
func (p *PostgresPrimary) Remove(ctx context.Context, key string) error {
	tag, err := p.pool.Exec(ctx, "DELETE FROM live_matches WHERE key = $1", key)
	if err != nil {
		return fmt.Errorf("delete match %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("match %s: %w", key, notifier.ErrNotFound)
	}
	return nil
}

// List reads every match ordered by key.
func (p *PostgresPrimary) List(ctx context.Context) ([]*notifier.LiveMatch, error) {
	rows, err := p.pool.Query(ctx, "SELECT doc FROM live_matches ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	var matches []*notifier.LiveMatch
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		var m notifier.LiveMatch
		if err := json.Unmarshal(doc, &m); err != nil {
			p.logger.Warn("Skipping unreadable live match row", "error", err)
			continue
		}
		matches = append(matches, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return matches, nil
}
