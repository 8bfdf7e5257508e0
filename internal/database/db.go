package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Credentials override the role used for document writes.
type Credentials struct {
	User     string
	Password string
}

// Connect opens a PostgreSQL connection pool using pgx and verifies connectivity.
// A non-empty credential password replaces the one embedded in the DSN.
func Connect(ctx context.Context, dsn string, creds Credentials) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN must not be empty")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	if creds.User != "" {
		cfg.ConnConfig.User = creds.User
	}
	if creds.Password != "" {
		cfg.ConnConfig.Password = creds.Password
	}

	// Batch jobs hold few connections for a short time.
	cfg.MaxConns = 4
	cfg.MaxConnLifetime = 1 * time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
    project    TEXT        NOT NULL,
    dataset    TEXT        NOT NULL,
    id         TEXT        NOT NULL,
    doc_type   TEXT        NOT NULL,
    body       JSONB       NOT NULL DEFAULT '{}'::jsonb,
    rev        TEXT,
    tx_id      TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (project, dataset, id)
);
CREATE INDEX IF NOT EXISTS documents_type_idx ON documents (project, dataset, doc_type);
CREATE INDEX IF NOT EXISTS documents_geopoint_idx ON documents (
    ((body->'location'->'geopoint'->>'lat')::float8),
    ((body->'location'->'geopoint'->>'lng')::float8)
) WHERE body->'location'->'geopoint' IS NOT NULL;
`

// EnsureSchema creates the documents table and its indexes when missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure documents schema: %w", err)
	}
	return nil
}
