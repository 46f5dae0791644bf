// Package db provides a pgxpool-based connection pool with schema bootstrap,
// prepared statement registration, and health checking.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campwatch/campwatch/internal/config"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// schema is the full campwatch schema. One row per stored result document,
// keyed by the deterministic object key.
const schema = `
CREATE TABLE IF NOT EXISTS results (
	object_key text PRIMARY KEY,
	entity_id  text NOT NULL,
	doc        jsonb NOT NULL,
	created_at timestamptz NOT NULL
)`

// New creates and validates a new connection pool. The schema is ensured
// before the pool opens so prepared statements can reference it.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	if err := ensureSchema(ctx, cfg.DatabaseURL); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// ensureSchema applies the schema on a throwaway connection before the pool
// starts preparing statements against it.
func ensureSchema(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect for schema bootstrap: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// registerPreparedStatements registers all statements the result store and
// maintenance sweep use. Prepared statements eliminate parse overhead on
// every request.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Result store
		"result_get": "SELECT doc FROM results WHERE object_key = $1",
		"result_put": `
			INSERT INTO results (object_key, entity_id, doc, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (object_key)
			DO UPDATE SET entity_id = EXCLUDED.entity_id,
			              doc = EXCLUDED.doc,
			              created_at = EXCLUDED.created_at`,
		"result_delete": "DELETE FROM results WHERE object_key = $1",
		"result_list":   "SELECT entity_id, created_at FROM results ORDER BY entity_id",
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
