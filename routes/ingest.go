package routes

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"kb-retriever/internal/config"
	"kb-retriever/internal/crawler"
	"kb-retriever/internal/logger"
	"kb-retriever/internal/queue"
	"kb-retriever/internal/telemetry"
	"kb-retriever/middleware"
	"kb-retriever/models"
	"kb-retriever/services"
	"kb-retriever/utils"
)

type ingestURLRequest struct {
	URL       string `json:"url" binding:"required"`
	ProjectID string `json:"project_id"`
}

func SetupIngestRoutes(
	router *gin.Engine,
	cfg *config.Config,
	pipeline *services.IngestionPipeline,
	queueClient *asynq.Client,
	metrics *telemetry.Metrics,
	authMiddleware *middleware.AuthMiddleware,
) {
	group := router.Group("/ingest")
	group.Use(authMiddleware.RequireAuth())

	// POST /ingest accepts multipart uploads. Small files are chunked,
	// embedded and indexed inline; files over the sync limit are saved
	// to shared storage and handed to the worker, and the request
	// answers 202.
	group.POST("", func(c *gin.Context) {
		scope := models.Scope{
			TenantID:  middleware.GetTenantID(c),
			ProjectID: c.DefaultQuery("project_id", "kb"),
		}
		userID := middleware.GetUserID(c)

		form, err := c.MultipartForm()
		if err != nil {
			utils.RespondWithBadRequest(c, "Invalid multipart form", gin.H{"error": err.Error()})
			return
		}

		var headers []*multipart.FileHeader
		for _, fhs := range form.File {
			headers = append(headers, fhs...)
		}
		if len(headers) == 0 {
			utils.RespondWithBadRequest(c, "No files provided", nil)
			return
		}

		var inline []services.UploadedFile
		var queued []gin.H
		for _, header := range headers {
			if header.Size > cfg.MaxFileSize {
				utils.RespondWithPayloadTooLarge(c, fmt.Sprintf("%s exceeds the maximum file size", header.Filename))
				return
			}

			if header.Size > cfg.SyncProcessingLimit {
				taskID, err := enqueueStoredUpload(cfg, queueClient, scope, userID, header)
				if err != nil {
					utils.RespondWithInternalError(c, "Failed to queue file for processing", gin.H{"error": err.Error()})
					return
				}
				queued = append(queued, gin.H{"filename": header.Filename, "task_id": taskID})
				continue
			}

			data, err := readUpload(header)
			if err != nil {
				utils.RespondWithBadRequest(c, fmt.Sprintf("Cannot read %s", header.Filename), gin.H{"error": err.Error()})
				return
			}
			inline = append(inline, services.UploadedFile{Filename: header.Filename, Data: data})
		}

		res, err := pipeline.IngestFiles(c.Request.Context(), scope, userID, inline)
		if err != nil {
			handleIngestError(c, err, res)
			return
		}
		metrics.RecordIngest(scope.TenantID, res.ChunksIndexed)

		status := http.StatusOK
		if len(queued) > 0 {
			status = http.StatusAccepted
		}
		c.JSON(status, gin.H{
			"ok":     true,
			"files":  res.FilesProcessed,
			"chunks": res.ChunksIndexed,
			"queued": queued,
		})
	})

	// POST /ingest/url fetches one web page and ingests its readable
	// text as a document.
	group.POST("/url", func(c *gin.Context) {
		var req ingestURLRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "url required", gin.H{"error": err.Error()})
			return
		}
		if req.ProjectID == "" {
			req.ProjectID = "kb"
		}

		page, err := crawler.FetchPage(req.URL)
		if err != nil {
			utils.RespondWithUnprocessable(c, "Could not fetch page", gin.H{"error": err.Error()})
			return
		}

		scope := models.Scope{TenantID: middleware.GetTenantID(c), ProjectID: req.ProjectID}
		res, err := pipeline.IngestFiles(c.Request.Context(), scope, middleware.GetUserID(c), []services.UploadedFile{
			{Filename: page.URL, Data: []byte(page.Text)},
		})
		if err != nil {
			handleIngestError(c, err, res)
			return
		}
		metrics.RecordIngest(scope.TenantID, res.ChunksIndexed)

		c.JSON(http.StatusOK, gin.H{
			"ok":     true,
			"url":    page.URL,
			"title":  page.Title,
			"chunks": res.ChunksIndexed,
		})
	})
}

func readUpload(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// enqueueStoredUpload saves the upload under the tenant's storage dir
// and enqueues an ingest task pointing at it.
func enqueueStoredUpload(cfg *config.Config, queueClient *asynq.Client, scope models.Scope, userID string, header *multipart.FileHeader) (string, error) {
	uploadDir := filepath.Join(cfg.FileStorageDir, scope.TenantID)
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return "", err
	}

	storedPath := filepath.Join(uploadDir, uuid.NewString()+filepath.Ext(header.Filename))
	src, err := header.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.OpenFile(storedPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, io.LimitReader(src, cfg.MaxFileSize)); err != nil {
		os.Remove(storedPath)
		return "", err
	}

	task, err := queue.NewIngestDocumentTask(scope.TenantID, scope.ProjectID, userID, header.Filename, storedPath)
	if err != nil {
		os.Remove(storedPath)
		return "", err
	}
	info, err := queueClient.Enqueue(task)
	if err != nil {
		os.Remove(storedPath)
		return "", err
	}

	logger.Info("large upload queued",
		"tenant_id", scope.TenantID, "filename", header.Filename,
		"size", header.Size, "task_id", info.ID)
	return info.ID, nil
}
