package routes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"kb-retriever/services"
	"kb-retriever/utils"
)

// handleServiceError maps the service error taxonomy onto HTTP
// responses. Anything unrecognized is an internal failure.
func handleServiceError(c *gin.Context, err error) {
	status, code, message, details := classifyServiceError(err)
	utils.RespondWithError(c, status, code, message, details)
}

// handleIngestError reports a failed ingestion without hiding what the
// request committed before the failure. Files are processed
// sequentially and earlier files stay indexed, so the partial counts
// ride along in the error details.
func handleIngestError(c *gin.Context, err error, res services.IngestResult) {
	status, code, message, details := classifyServiceError(err)
	if details == nil {
		details = gin.H{}
	}
	details["files"] = res.FilesProcessed
	details["chunks"] = res.ChunksIndexed
	utils.RespondWithError(c, status, code, message, details)
}

func classifyServiceError(err error) (int, string, string, gin.H) {
	var quotaErr *services.QuotaExceededError
	if errors.As(err, &quotaErr) {
		return http.StatusTooManyRequests, "quota_exceeded", quotaErr.Error(), gin.H{
			"scope": quotaErr.Scope,
			"used":  quotaErr.Used,
			"cap":   quotaErr.Cap,
		}
	}

	var tooLarge *services.EmbeddingTooLargeError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, "payload_too_large", tooLarge.Error(), nil
	}

	if services.IsClientError(err) {
		return http.StatusUnprocessableEntity, "unprocessable", err.Error(), nil
	}

	var cfgErr *services.ConfigurationError
	if errors.As(err, &cfgErr) {
		return http.StatusInternalServerError, "internal_error", "Service misconfigured", gin.H{"error": cfgErr.Error()}
	}

	return http.StatusInternalServerError, "internal_error", "Request failed", gin.H{"error": err.Error()}
}
