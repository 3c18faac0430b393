package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	// Each in-flight pipeline run pins one connection for its lease.
	cfg.MaxConns = 16
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Schema creates the project and transcript tables. lyrics_source is keyed by
// project_id so transcript writes are upserts.
const Schema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	audio_url TEXT,
	isolated_vocals_url TEXT,
	status TEXT NOT NULL DEFAULT 'idle',
	error_message TEXT,
	processing_notes TEXT,
	video_url TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_id);
CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);
CREATE TABLE IF NOT EXISTS lyrics_source (
	project_id TEXT PRIMARY KEY REFERENCES projects(id) ON DELETE CASCADE,
	raw_text TEXT NOT NULL,
	timed_json JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);`

// EnsureSchema applies Schema. Keeping the migration in code lets
// docker-compose bootstrap everything.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
