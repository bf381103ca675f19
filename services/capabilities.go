package services

import (
	"context"
	"errors"

	"kb-retriever/models"
)

// Capability interfaces consumed by the pipeline. Concrete providers
// live in internal/ai and internal/store; everything here is written
// against the contract, not the provider.

// ErrRequestTooLarge is the distinguishable "batch/request too large"
// condition an EmbeddingService must surface (wrapped) when the
// upstream rejects a request for its size. The batcher reacts to it
// by bisecting; any other failure propagates untouched.
var ErrRequestTooLarge = errors.New("embedding request too large")

// EmbeddingService turns texts into fixed-dimension vectors. The
// result must be order-preserving and equal in length to the input.
type EmbeddingService interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// TokenUsage is the actual token consumption reported by a
// completion call.
type TokenUsage struct {
	TokensIn  int
	TokensOut int
}

// CompletionService produces text from a prompt.
type CompletionService interface {
	Complete(ctx context.Context, prompt string, temperature float32) (string, TokenUsage, error)
}

// VectorIndex owns the mapping from chunk identity to embedding and
// payload. Implemented by internal/store on pgvector.
type VectorIndex interface {
	EnsureSchema(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, points []models.IndexedPoint, batchSize int) error
	Search(ctx context.Context, vector []float32, limit int, scope models.Scope) ([]models.ScoredPoint, error)
	DeleteByDocument(ctx context.Context, tenantID, documentID string) error
}

// DocumentStore persists document metadata rows.
type DocumentStore interface {
	Insert(ctx context.Context, doc models.Document) (string, error)
	List(ctx context.Context, scope models.Scope) ([]models.Document, error)
	Delete(ctx context.Context, tenantID, documentID string) error
}

// UsageStore is the append-only ledger backing the QuotaLedger.
type UsageStore interface {
	Append(ctx context.Context, rec models.UsageRecord) error
	DailyTenantTokens(ctx context.Context, tenantID string) (int, error)
	DailyUserTokens(ctx context.Context, tenantID, userID string) (int, error)
	ActiveTenantsToday(ctx context.Context) ([]string, error)
}

// TextExtractor pulls plain text out of raw document bytes.
type TextExtractor interface {
	Extract(filename string, data []byte) (text string, pages int, err error)
}
