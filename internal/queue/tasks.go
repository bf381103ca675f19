package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hibiken/asynq"

	"kb-retriever/internal/logger"
	"kb-retriever/models"
	"kb-retriever/services"
)

const (
	TaskIngestDocument = "ingest:document"
)

// IngestDocumentPayload carries everything the worker needs to ingest
// a file that was too large to process inline. The file body lives on
// shared storage; the payload only points at it.
type IngestDocumentPayload struct {
	TenantID   string `json:"tenant_id"`
	ProjectID  string `json:"project_id"`
	UserID     string `json:"user_id"`
	Filename   string `json:"filename"`
	StoredPath string `json:"stored_path"`
}

func NewIngestDocumentTask(tenantID, projectID, userID, filename, storedPath string) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestDocumentPayload{
		TenantID:   tenantID,
		ProjectID:  projectID,
		UserID:     userID,
		Filename:   filename,
		StoredPath: storedPath,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIngestDocument,
		payload,
		asynq.MaxRetry(3),
		asynq.Queue("ingest"),
	), nil
}

// TaskProcessor runs queued ingestion jobs against the same pipeline
// the synchronous path uses.
type TaskProcessor struct {
	pipeline   *services.IngestionPipeline
	storageDir string
}

func NewTaskProcessor(pipeline *services.IngestionPipeline, storageDir string) *TaskProcessor {
	return &TaskProcessor{pipeline: pipeline, storageDir: storageDir}
}

// HandleIngestDocument ingests a stored file. Client-caused failures
// (unreadable document, quota denial) are not retried; transient ones
// go back to the queue. The stored file is removed after a successful
// ingest or a permanent failure.
func (p *TaskProcessor) HandleIngestDocument(ctx context.Context, t *asynq.Task) error {
	var payload IngestDocumentPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	// The stored path must stay inside the storage dir; payloads come
	// off a shared queue.
	path := filepath.Clean(payload.StoredPath)
	rel, err := filepath.Rel(p.storageDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("stored path %q escapes storage dir: %w", payload.StoredPath, asynq.SkipRetry)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("queued ingest could not read stored file",
			"path", path, "tenant_id", payload.TenantID, "error", err)
		return fmt.Errorf("read stored file: %w", asynq.SkipRetry)
	}

	scope := models.Scope{TenantID: payload.TenantID, ProjectID: payload.ProjectID}
	res, err := p.pipeline.IngestFiles(ctx, scope, payload.UserID, []services.UploadedFile{
		{Filename: payload.Filename, Data: data},
	})
	if err != nil {
		if services.IsClientError(err) {
			p.removeStored(path)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		var quotaErr *services.QuotaExceededError
		if errors.As(err, &quotaErr) {
			// Quota resets daily; let the retry back off and land
			// after the reset instead of dropping the document.
			return err
		}
		return err
	}

	p.removeStored(path)
	logger.Info("queued ingest completed",
		"tenant_id", payload.TenantID, "filename", payload.Filename,
		"chunks", res.ChunksIndexed)
	return nil
}

func (p *TaskProcessor) removeStored(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove stored upload", "path", path, "error", err)
	}
}
