package services

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"kb-retriever/internal/logger"
	"kb-retriever/models"
	"kb-retriever/utils"
)

// snippetMaxChars caps the stored text snippet per point; the snippet
// is LLM context later, not an archive of the document.
const snippetMaxChars = 2000

// UploadedFile is one file of an ingestion request.
type UploadedFile struct {
	Filename string
	Data     []byte
}

// IngestResult reports what an ingestion request committed.
type IngestResult struct {
	FilesProcessed int `json:"files"`
	ChunksIndexed  int `json:"chunks"`
}

// IngestionPipeline composes extraction, chunking, batched embedding
// and vector upsert, guarded by the quota ledger. Files are processed
// sequentially; the first failure stops the remaining files of the
// request while earlier files stay committed, and the result carries
// the partial counts alongside the error.
type IngestionPipeline struct {
	extractor TextExtractor
	batcher   *EmbeddingBatcher
	index     VectorIndex
	docs      DocumentStore
	ledger    *QuotaLedger
	estimator *TokenEstimator

	chunkSize    int
	chunkOverlap int
	upsertBatch  int
}

func NewIngestionPipeline(
	extractor TextExtractor,
	batcher *EmbeddingBatcher,
	index VectorIndex,
	docs DocumentStore,
	ledger *QuotaLedger,
	estimator *TokenEstimator,
	chunkSize, chunkOverlap, upsertBatch int,
) *IngestionPipeline {
	return &IngestionPipeline{
		extractor:    extractor,
		batcher:      batcher,
		index:        index,
		docs:         docs,
		ledger:       ledger,
		estimator:    estimator,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		upsertBatch:  upsertBatch,
	}
}

// IngestFiles runs the write path for each file in order.
func (p *IngestionPipeline) IngestFiles(ctx context.Context, scope models.Scope, userID string, files []UploadedFile) (IngestResult, error) {
	var res IngestResult
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		chunks, err := p.ingestOne(ctx, scope, userID, f)
		if err != nil {
			return res, err
		}
		res.FilesProcessed++
		res.ChunksIndexed += chunks
	}
	return res, nil
}

func (p *IngestionPipeline) ingestOne(ctx context.Context, scope models.Scope, userID string, f UploadedFile) (int, error) {
	hash := utils.SHA256Hex(f.Data)

	text, pages, err := p.extractor.Extract(f.Filename, f.Data)
	if err != nil {
		return 0, err
	}

	// Quota guard runs before any expensive upstream call.
	projected := p.estimator.ProjectIngest(text)
	if err := p.ledger.Enforce(ctx, scope.TenantID, userID, projected); err != nil {
		return 0, err
	}

	chunks, err := ChunkWords(text, p.chunkSize, p.chunkOverlap)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, &NoChunksAfterSplitError{Filename: f.Filename}
	}

	kept, vectors, err := p.batcher.EmbedAll(ctx, chunks)
	if err != nil {
		return 0, err
	}

	docID, err := p.docs.Insert(ctx, models.Document{
		TenantID:  scope.TenantID,
		ProjectID: scope.ProjectID,
		Filename:  f.Filename,
		SHA256:    hash,
		Pages:     pages,
	})
	if err != nil {
		return 0, err
	}

	points := make([]models.IndexedPoint, len(kept))
	for i := range kept {
		points[i] = models.IndexedPoint{
			ID:     uuid.NewString(),
			Vector: vectors[i],
			Payload: models.PointPayload{
				TenantID:   scope.TenantID,
				ProjectID:  scope.ProjectID,
				DocumentID: docID,
				ChunkIndex: i,
				Page:       1,
				SHA256:     hash,
				Filename:   f.Filename,
				Snippet:    sanitizeSnippet(kept[i]),
			},
		}
	}

	if err := p.index.Upsert(ctx, points, p.upsertBatch); err != nil {
		return 0, err
	}

	// Tokens were already consumed by the embedding calls; the ledger
	// write is best-effort and never rolls that back.
	p.ledger.Record(ctx, scope.TenantID, userID, projected, 0)

	logger.Info("document ingested",
		"tenant_id", scope.TenantID, "project_id", scope.ProjectID,
		"filename", f.Filename, "sha256", hash, "chunks", len(points))
	return len(points), nil
}

// DeleteDocument removes a document's vectors and metadata. The
// vector deletion is best-effort: if the store rejects it, the
// metadata row is still removed so orphaned vectors never block a
// user-facing delete. The orphan is a known consistency gap, kept
// visible in the logs.
func (p *IngestionPipeline) DeleteDocument(ctx context.Context, tenantID, documentID string) error {
	if err := p.index.DeleteByDocument(ctx, tenantID, documentID); err != nil {
		logger.Error("vector delete failed, proceeding with metadata delete",
			"tenant_id", tenantID, "document_id", documentID, "error", err)
	}
	return p.docs.Delete(ctx, tenantID, documentID)
}

// sanitizeSnippet caps the snippet length and strips control
// characters that would corrupt downstream prompts or logs. Newlines
// and tabs survive.
func sanitizeSnippet(text string) string {
	if len(text) > snippetMaxChars {
		text = truncateToTokens(text, snippetMaxChars/4)
	}
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, text)
}
