package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb-retriever/services"
	"kb-retriever/utils"
)

func errorBody(t *testing.T, w *httptest.ResponseRecorder) (utils.ErrorResponse, map[string]interface{}) {
	t.Helper()
	var resp utils.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	details, _ := resp.Details.(map[string]interface{})
	return resp, details
}

func TestHandleIngestErrorKeepsPartialCounts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	handleIngestError(c, errors.New("embed backend down"),
		services.IngestResult{FilesProcessed: 1, ChunksIndexed: 3})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp, details := errorBody(t, w)
	assert.Equal(t, "internal_error", resp.ErrorCode)
	require.NotNil(t, details)
	assert.Equal(t, float64(1), details["files"], "committed file count must survive the failure")
	assert.Equal(t, float64(3), details["chunks"])
	assert.Equal(t, "embed backend down", details["error"])
}

func TestHandleIngestErrorQuotaKeepsDenialDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	handleIngestError(c, &services.QuotaExceededError{Scope: "tenant", Used: 95, Cap: 100},
		services.IngestResult{FilesProcessed: 2, ChunksIndexed: 9})

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	resp, details := errorBody(t, w)
	assert.Equal(t, "quota_exceeded", resp.ErrorCode)
	require.NotNil(t, details)
	assert.Equal(t, "tenant", details["scope"])
	assert.Equal(t, float64(95), details["used"])
	assert.Equal(t, float64(100), details["cap"])
	assert.Equal(t, float64(2), details["files"])
	assert.Equal(t, float64(9), details["chunks"])
}

func TestHandleServiceErrorClientInput(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	handleServiceError(c, &services.NoChunksAfterSplitError{Filename: "tiny.txt"})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp, _ := errorBody(t, w)
	assert.Equal(t, "unprocessable", resp.ErrorCode)
}
