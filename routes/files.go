package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"kb-retriever/middleware"
	"kb-retriever/models"
	"kb-retriever/services"
	"kb-retriever/utils"
)

func SetupFileRoutes(
	router *gin.Engine,
	docs services.DocumentStore,
	pipeline *services.IngestionPipeline,
	authMiddleware *middleware.AuthMiddleware,
) {
	files := router.Group("/files")
	files.Use(authMiddleware.RequireAuth())

	// GET /files lists the caller's documents in a project, newest
	// first.
	files.GET("", func(c *gin.Context) {
		scope := models.Scope{
			TenantID:  middleware.GetTenantID(c),
			ProjectID: c.DefaultQuery("project_id", "kb"),
		}

		list, err := docs.List(c.Request.Context(), scope)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to list files", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "files": list})
	})

	// DELETE /files/:id removes a document's vectors and metadata.
	files.DELETE("/:id", func(c *gin.Context) {
		tenantID := middleware.GetTenantID(c)
		if err := pipeline.DeleteDocument(c.Request.Context(), tenantID, c.Param("id")); err != nil {
			utils.RespondWithInternalError(c, "Failed to delete file", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
}
