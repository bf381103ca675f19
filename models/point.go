package models

// PointPayload is the metadata stored alongside each vector. The
// tenant/project fields must always be present: they are the only
// thing standing between two tenants' data at query time.
type PointPayload struct {
	TenantID   string `json:"tenant_id"`
	ProjectID  string `json:"project_id"`
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	Page       int    `json:"page"`
	SHA256     string `json:"sha256"`
	Filename   string `json:"filename"`
	// Snippet is a length-capped, control-character-stripped copy of
	// the chunk text, used later as LLM context.
	Snippet string `json:"snippet"`
}

// IndexedPoint is the persisted unit in the vector store.
type IndexedPoint struct {
	ID      string       `json:"id"`
	Vector  []float32    `json:"-"`
	Payload PointPayload `json:"payload"`
}

// ScoredPoint is a search hit: a stored payload plus its cosine
// similarity to the query vector.
type ScoredPoint struct {
	ID      string       `json:"id"`
	Score   float64      `json:"score"`
	Payload PointPayload `json:"payload"`
}

// Passage is one entry of the final ranked context set handed to the
// answer-generation step.
type Passage struct {
	Text       string  `json:"text"`
	Filename   string  `json:"filename"`
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Page       int     `json:"page"`
	Score      float64 `json:"score"`
}
