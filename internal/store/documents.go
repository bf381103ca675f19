package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"kb-retriever/models"
)

// DocumentStore persists per-file metadata rows in Postgres.
type DocumentStore struct {
	pool *pgxpool.Pool
}

func NewDocumentStore(pool *pgxpool.Pool) *DocumentStore {
	return &DocumentStore{pool: pool}
}

func (s *DocumentStore) Insert(ctx context.Context, doc models.Document) (string, error) {
	pages := doc.Pages
	if pages <= 0 {
		pages = 1
	}
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO files (tenant_id, project_id, filename, sha256, pages)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		doc.TenantID, doc.ProjectID, doc.Filename, doc.SHA256, pages,
	).Scan(&id)
	return id, err
}

func (s *DocumentStore) List(ctx context.Context, scope models.Scope) ([]models.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, project_id, filename, sha256, pages, created_at
		FROM files
		WHERE tenant_id = $1 AND project_id = $2
		ORDER BY created_at DESC`,
		scope.TenantID, scope.ProjectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.TenantID, &d.ProjectID, &d.Filename, &d.SHA256, &d.Pages, &d.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *DocumentStore) Delete(ctx context.Context, tenantID, documentID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM files WHERE tenant_id = $1 AND id = $2`,
		tenantID, documentID)
	return err
}
