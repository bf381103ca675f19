package routes

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kb-retriever/internal/telemetry"
	"kb-retriever/middleware"
	"kb-retriever/models"
	"kb-retriever/services"
	"kb-retriever/utils"
)

type retrieveRequest struct {
	ProjectID string   `json:"project_id"`
	Query     string   `json:"query"`
	TopK      int      `json:"top_k"`
	MMRLambda *float64 `json:"mmr_lambda"`
}

type askRequest struct {
	ProjectID string `json:"project_id"`
	Query     string `json:"query"`
	TopK      int    `json:"top_k"`
}

func SetupRetrieveRoutes(
	router *gin.Engine,
	retriever *services.Retriever,
	completions services.CompletionService,
	ledger *services.QuotaLedger,
	estimator *services.TokenEstimator,
	metrics *telemetry.Metrics,
	authMiddleware *middleware.AuthMiddleware,
	tenantLimiter gin.HandlerFunc,
) {
	// POST /retrieve returns ranked passages without any generation.
	router.POST("/retrieve", authMiddleware.RequireAuth(), func(c *gin.Context) {
		var req retrieveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request body", gin.H{"error": err.Error()})
			return
		}
		if req.Query == "" {
			utils.RespondWithBadRequest(c, "query required", nil)
			return
		}
		if req.ProjectID == "" {
			req.ProjectID = "kb"
		}
		lambda := services.DefaultMMRLambda
		if req.MMRLambda != nil {
			lambda = *req.MMRLambda
		}

		scope := models.Scope{TenantID: middleware.GetTenantID(c), ProjectID: req.ProjectID}
		hits, err := retriever.Retrieve(c.Request.Context(), scope, req.Query, req.TopK, lambda)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		metrics.RecordVectorSearch(scope.TenantID)

		c.JSON(http.StatusOK, gin.H{"ok": true, "hits": hits})
	})

	// POST /ask retrieves context and generates a cited answer. The
	// quota gate runs on projected tokens before any model call; the
	// ledger records the actual usage afterwards.
	router.POST("/ask", authMiddleware.RequireAuth(), tenantLimiter, func(c *gin.Context) {
		var req askRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request body", gin.H{"error": err.Error()})
			return
		}
		if req.Query == "" {
			utils.RespondWithBadRequest(c, "query required", nil)
			return
		}
		if req.ProjectID == "" {
			req.ProjectID = "kb"
		}

		tenantID := middleware.GetTenantID(c)
		userID := middleware.GetUserID(c)
		ctx := c.Request.Context()

		if err := ledger.Enforce(ctx, tenantID, userID, estimator.ProjectAsk(req.Query)); err != nil {
			handleServiceError(c, err)
			return
		}

		scope := models.Scope{TenantID: tenantID, ProjectID: req.ProjectID}
		hits, err := retriever.Retrieve(ctx, scope, req.Query, req.TopK, services.DefaultMMRLambda)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		metrics.RecordVectorSearch(tenantID)

		answer, usage, err := completions.Complete(ctx, buildAskPrompt(req.Query, hits), 0.2)
		if err != nil {
			utils.RespondWithInternalError(c, "Answer generation failed", gin.H{"error": err.Error()})
			return
		}

		ledger.Record(ctx, tenantID, userID, usage.TokensIn, usage.TokensOut)
		metrics.RecordTokensUsed(int64(usage.TokensIn+usage.TokensOut), "gemini")

		sources := make([]gin.H, len(hits))
		for i, h := range hits {
			sources[i] = gin.H{
				"n":     i + 1,
				"file":  h.Filename,
				"page":  h.Page,
				"score": h.Score,
			}
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "answer": answer, "sources": sources})
	})
}

// buildAskPrompt numbers each passage so the model can cite sources
// inline.
func buildAskPrompt(query string, hits []models.Passage) string {
	blocks := make([]string, len(hits))
	for i, h := range hits {
		text := h.Text
		if text == "" {
			text = "(no snippet)"
		}
		blocks[i] = fmt.Sprintf("[%d] (file:%s page:%d)\n%s", i+1, h.Filename, h.Page, text)
	}

	return fmt.Sprintf(`You are a helpful assistant for a company knowledge base.
Use only the provided context if relevant. Cite sources inline like [1], [2].

Context:
%s

Question: %s
Answer:`, strings.Join(blocks, "\n\n"), query)
}
