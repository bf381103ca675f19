package services

import (
	"errors"
	"fmt"
)

// Error taxonomy for the ingestion and retrieval pipeline. Routes map
// these to HTTP status classes with errors.As; anything not listed
// here is treated as an upstream/internal failure.

// ConfigurationError marks a structurally invalid setup: bad chunk
// size/overlap, vector dimension mismatch. Fatal, never retried.
type ConfigurationError struct {
	Detail string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Detail
}

// NoTextExtractedError means extraction produced nothing usable, e.g.
// a scanned image-only PDF. Client-correctable, not retryable.
type NoTextExtractedError struct {
	Filename string
}

func (e *NoTextExtractedError) Error() string {
	return fmt.Sprintf("no text extracted from %q", e.Filename)
}

// NoChunksAfterSplitError means the extracted text was too short to
// produce a single chunk.
type NoChunksAfterSplitError struct {
	Filename string
}

func (e *NoChunksAfterSplitError) Error() string {
	return fmt.Sprintf("no chunks after splitting %q", e.Filename)
}

// EmbeddingTooLargeError marks a single chunk that could not be
// embedded even after aggressive trimming.
type EmbeddingTooLargeError struct {
	Index int
	Chars int
}

func (e *EmbeddingTooLargeError) Error() string {
	return fmt.Sprintf("chunk %d (%d chars) exceeds the embedding request budget after trimming", e.Index, e.Chars)
}

// VectorValidationError marks a malformed vector detected before any
// network submission. The whole batch is rejected.
type VectorValidationError struct {
	PointID string
	Detail  string
}

func (e *VectorValidationError) Error() string {
	return fmt.Sprintf("invalid vector for point %s: %s", e.PointID, e.Detail)
}

// QuotaExceededError denies an operation before any expensive
// upstream call is made. Scope is "tenant" or "user"; the tenant
// check runs first and its denial takes precedence.
type QuotaExceededError struct {
	Scope string
	Used  int
	Cap   int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s daily token cap reached (used %d of %d)", e.Scope, e.Used, e.Cap)
}

// RetrievalError wraps a failure of the retrieval read path. Query
// expansion failures are wrapped in this and treated as non-fatal by
// the Retriever.
type RetrievalError struct {
	Op  string
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval %s: %v", e.Op, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// IsClientError reports whether err is caused by degenerate client
// input rather than a service fault.
func IsClientError(err error) bool {
	var noText *NoTextExtractedError
	var noChunks *NoChunksAfterSplitError
	var tooLarge *EmbeddingTooLargeError
	return errors.As(err, &noText) || errors.As(err, &noChunks) || errors.As(err, &tooLarge)
}
