package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"kb-retriever/middleware"
	"kb-retriever/services"
	"kb-retriever/utils"
)

type quotaCheckRequest struct {
	ProjectedTokens int `json:"projected_tokens"`
}

func SetupQuotaRoutes(
	router *gin.Engine,
	ledger *services.QuotaLedger,
	authMiddleware *middleware.AuthMiddleware,
) {
	// POST /quota/check reports today's usage against both caps and
	// whether a projected spend would fit. Advisory only; the write
	// paths re-enforce on their own.
	router.POST("/quota/check", authMiddleware.RequireAuth(), func(c *gin.Context) {
		var req quotaCheckRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			req.ProjectedTokens = 0
		}
		if req.ProjectedTokens < 0 {
			utils.RespondWithBadRequest(c, "projected_tokens must not be negative", nil)
			return
		}

		tenant, user, err := ledger.Status(c.Request.Context(), middleware.GetTenantID(c), middleware.GetUserID(c))
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to read quota status", gin.H{"error": err.Error()})
			return
		}

		ok := tenant.Used+req.ProjectedTokens <= tenant.Cap &&
			user.Used+req.ProjectedTokens <= user.Cap

		c.JSON(http.StatusOK, gin.H{
			"ok":     ok,
			"tenant": tenant,
			"user":   user,
		})
	})
}
