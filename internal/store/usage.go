package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"kb-retriever/models"
)

// UsageStore is the append-only requests_log ledger. Rows are written
// once and never touched again; daily totals come from aggregation
// over a day-truncated window.
type UsageStore struct {
	pool *pgxpool.Pool
}

func NewUsageStore(pool *pgxpool.Pool) *UsageStore {
	return &UsageStore{pool: pool}
}

func (s *UsageStore) Append(ctx context.Context, rec models.UsageRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO requests_log (tenant_id, user_id, tokens_in, tokens_out, cost_usd)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.TenantID, rec.UserID, rec.TokensIn, rec.TokensOut, rec.CostUSD)
	return err
}

func (s *UsageStore) DailyTenantTokens(ctx context.Context, tenantID string) (int, error) {
	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(tokens_in + tokens_out), 0)
		FROM requests_log
		WHERE tenant_id = $1
		  AND date_trunc('day', created_at) = date_trunc('day', now())`,
		tenantID,
	).Scan(&total)
	return total, err
}

func (s *UsageStore) DailyUserTokens(ctx context.Context, tenantID, userID string) (int, error) {
	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(tokens_in + tokens_out), 0)
		FROM requests_log
		WHERE tenant_id = $1 AND user_id = $2
		  AND date_trunc('day', created_at) = date_trunc('day', now())`,
		tenantID, userID,
	).Scan(&total)
	return total, err
}

// ActiveTenantsToday lists tenants with any consumption today, for
// the quota alert sweep.
func (s *UsageStore) ActiveTenantsToday(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT tenant_id FROM requests_log
		WHERE date_trunc('day', created_at) = date_trunc('day', now())`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}
