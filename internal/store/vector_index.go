package store

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"kb-retriever/internal/logger"
	"kb-retriever/models"
	"kb-retriever/services"
)

// PgVectorIndex stores chunk embeddings in a pgvector table and
// serves filtered cosine-similarity search. The embedding dimension
// is fixed at schema creation; a mismatch is a configuration problem,
// never a per-request one.
type PgVectorIndex struct {
	pool *pgxpool.Pool
	dim  int
}

func NewPgVectorIndex(pool *pgxpool.Pool, dim int) *PgVectorIndex {
	return &PgVectorIndex{pool: pool, dim: dim}
}

// EnsureSchema idempotently creates the points table. If the table
// exists with a different vector dimension it is dropped and
// recreated: searches against a wrong-dimension index are
// meaningless, not merely degraded.
func (ix *PgVectorIndex) EnsureSchema(ctx context.Context, dimension int) error {
	if dimension != ix.dim {
		return &services.ConfigurationError{
			Detail: fmt.Sprintf("vector index configured for dimension %d, asked to ensure %d", ix.dim, dimension),
		}
	}

	if _, err := ix.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("enable pgvector: %w", err)
	}

	var existingDim *int
	err := ix.pool.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = to_regclass('kb_points') AND attname = 'embedding'
	`).Scan(&existingDim)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("inspect kb_points: %w", err)
	}

	if existingDim != nil && *existingDim != dimension {
		logger.Warn("vector table has wrong dimension, recreating",
			"have", *existingDim, "want", dimension)
		if _, err := ix.pool.Exec(ctx, `DROP TABLE kb_points`); err != nil {
			return fmt.Errorf("drop mismatched kb_points: %w", err)
		}
		existingDim = nil
	}

	if existingDim == nil {
		create := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS kb_points (
			id UUID PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			document_id UUID NOT NULL,
			chunk_index INT NOT NULL,
			page INT NOT NULL DEFAULT 1,
			sha256 TEXT NOT NULL,
			filename TEXT NOT NULL,
			snippet TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_kb_points_scope ON kb_points(tenant_id, project_id);
		CREATE INDEX IF NOT EXISTS idx_kb_points_document ON kb_points(document_id);
		CREATE INDEX IF NOT EXISTS idx_kb_points_embedding ON kb_points
			USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
		`, dimension)
		if _, err := ix.pool.Exec(ctx, create); err != nil {
			return fmt.Errorf("create kb_points: %w", err)
		}
	}
	return nil
}

// Upsert validates every point, then writes them in fixed-size
// batches, each awaited before the next begins. A batch failure
// aborts the remaining batches; its diagnostic names the batch shape
// but never leaks vector contents into logs.
func (ix *PgVectorIndex) Upsert(ctx context.Context, points []models.IndexedPoint, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 64
	}
	if err := validatePoints(points, ix.dim); err != nil {
		return err
	}

	for start := 0; start < len(points); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + batchSize
		if end > len(points) {
			end = len(points)
		}
		chunk := points[start:end]

		batch := &pgx.Batch{}
		for _, p := range chunk {
			batch.Queue(`
				INSERT INTO kb_points
					(id, tenant_id, project_id, document_id, chunk_index, page, sha256, filename, snippet, embedding)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
				ON CONFLICT (id) DO UPDATE SET
					snippet = EXCLUDED.snippet,
					embedding = EXCLUDED.embedding`,
				p.ID, p.Payload.TenantID, p.Payload.ProjectID, p.Payload.DocumentID,
				p.Payload.ChunkIndex, p.Payload.Page, p.Payload.SHA256, p.Payload.Filename,
				p.Payload.Snippet, pgvector.NewVector(p.Vector),
			)
		}

		br := ix.pool.SendBatch(ctx, batch)
		_, err := br.Exec()
		closeErr := br.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			return fmt.Errorf("upsert batch failed (size=%d, first_id=%s, vector_len=%d, payload_keys=[tenant_id project_id document_id chunk_index page sha256 filename snippet]): %w",
				len(chunk), chunk[0].ID, len(chunk[0].Vector), err)
		}
	}
	return nil
}

// Search returns the top limit points for scope ordered by cosine
// similarity. The tenant/project filter is applied in SQL, so no
// cross-scope point can surface regardless of the requested limit.
func (ix *PgVectorIndex) Search(ctx context.Context, vector []float32, limit int, scope models.Scope) ([]models.ScoredPoint, error) {
	if len(vector) != ix.dim {
		return nil, &services.ConfigurationError{
			Detail: fmt.Sprintf("query vector has dimension %d, index expects %d", len(vector), ix.dim),
		}
	}

	rows, err := ix.pool.Query(ctx, `
		SELECT id, tenant_id, project_id, document_id, chunk_index, page, sha256, filename, snippet,
		       1 - (embedding <=> $1) AS score
		FROM kb_points
		WHERE tenant_id = $2 AND project_id = $3
		ORDER BY embedding <=> $1
		LIMIT $4`,
		pgvector.NewVector(vector), scope.TenantID, scope.ProjectID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []models.ScoredPoint
	for rows.Next() {
		var p models.ScoredPoint
		if err := rows.Scan(
			&p.ID, &p.Payload.TenantID, &p.Payload.ProjectID, &p.Payload.DocumentID,
			&p.Payload.ChunkIndex, &p.Payload.Page, &p.Payload.SHA256, &p.Payload.Filename,
			&p.Payload.Snippet, &p.Score,
		); err != nil {
			return nil, err
		}
		hits = append(hits, p)
	}
	return hits, rows.Err()
}

// DeleteByDocument removes every point of a document within a tenant.
func (ix *PgVectorIndex) DeleteByDocument(ctx context.Context, tenantID, documentID string) error {
	_, err := ix.pool.Exec(ctx,
		`DELETE FROM kb_points WHERE tenant_id = $1 AND document_id = $2`,
		tenantID, documentID)
	return err
}

// validatePoints rejects the whole batch before any network call if a
// single vector has the wrong length or a non-finite value. Partial
// corruption must never reach the store.
func validatePoints(points []models.IndexedPoint, dim int) error {
	for _, p := range points {
		if len(p.Vector) != dim {
			return &services.VectorValidationError{
				PointID: p.ID,
				Detail:  fmt.Sprintf("expected %d dimensions, got %d", dim, len(p.Vector)),
			}
		}
		for i, v := range p.Vector {
			f := float64(v)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return &services.VectorValidationError{
					PointID: p.ID,
					Detail:  fmt.Sprintf("non-finite value at index %d", i),
				}
			}
		}
		if p.Payload.TenantID == "" || p.Payload.ProjectID == "" {
			return &services.VectorValidationError{
				PointID: p.ID,
				Detail:  "payload missing tenant/project scope",
			}
		}
	}
	return nil
}
