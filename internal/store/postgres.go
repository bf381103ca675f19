package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"kb-retriever/internal/logger"
)

// NewPool connects to Postgres and waits for it to become reachable,
// so the service can start alongside the database in compose setups.
func NewPool(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	for i := 0; i < 30; i++ {
		if err = pool.Ping(ctx); err == nil {
			return pool, nil
		}
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	pool.Close()
	return nil, fmt.Errorf("postgres not reachable: %w", err)
}

// InitSchema creates the metadata and ledger tables. The vector table
// is owned by PgVectorIndex.EnsureSchema because its shape depends on
// the embedding dimension.
func InitSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
	CREATE TABLE IF NOT EXISTS files (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		tenant_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		sha256 TEXT NOT NULL,
		pages INT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_files_scope ON files(tenant_id, project_id);

	CREATE TABLE IF NOT EXISTS requests_log (
		id BIGSERIAL PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		tokens_in INT NOT NULL DEFAULT 0,
		tokens_out INT NOT NULL DEFAULT 0,
		cost_usd NUMERIC(10,4) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_requests_log_tenant_day ON requests_log(tenant_id, created_at);
	`
	if _, err := pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("schema init failed: %w", err)
	}
	logger.Info("postgres schema ready")
	return nil
}
