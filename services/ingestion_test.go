package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb-retriever/models"
)

type fakeExtractor struct {
	texts map[string]string
	errs  map[string]error
}

func (f *fakeExtractor) Extract(filename string, _ []byte) (string, int, error) {
	if err := f.errs[filename]; err != nil {
		return "", 0, err
	}
	return f.texts[filename], 1, nil
}

type memIndex struct {
	points    []models.IndexedPoint
	deleteErr error
	deletes   []string
}

func (m *memIndex) EnsureSchema(context.Context, int) error { return nil }
func (m *memIndex) Upsert(_ context.Context, points []models.IndexedPoint, _ int) error {
	m.points = append(m.points, points...)
	return nil
}
func (m *memIndex) Search(context.Context, []float32, int, models.Scope) ([]models.ScoredPoint, error) {
	return nil, nil
}
func (m *memIndex) DeleteByDocument(_ context.Context, _, documentID string) error {
	m.deletes = append(m.deletes, documentID)
	return m.deleteErr
}

type memDocs struct {
	inserted []models.Document
	deleted  []string
}

func (m *memDocs) Insert(_ context.Context, doc models.Document) (string, error) {
	m.inserted = append(m.inserted, doc)
	return "doc-1", nil
}
func (m *memDocs) List(context.Context, models.Scope) ([]models.Document, error) {
	return m.inserted, nil
}
func (m *memDocs) Delete(_ context.Context, _, documentID string) error {
	m.deleted = append(m.deleted, documentID)
	return nil
}

type pipelineFixture struct {
	pipeline *IngestionPipeline
	embedder *scriptedEmbedder
	index    *memIndex
	docs     *memDocs
	usage    *fakeUsage
}

func newPipelineFixture(extractor *fakeExtractor, usage *fakeUsage, tenantCap int) *pipelineFixture {
	embedder := &scriptedEmbedder{position: map[string]float32{}}
	index := &memIndex{}
	docs := &memDocs{}
	ledger := NewQuotaLedger(usage, tenantCap, tenantCap)
	pipeline := NewIngestionPipeline(
		extractor,
		NewEmbeddingBatcher(embedder, 2000, 16000),
		index, docs, ledger, NewTokenEstimator(),
		4, 0, 64,
	)
	return &pipelineFixture{pipeline: pipeline, embedder: embedder, index: index, docs: docs, usage: usage}
}

var testScope = models.Scope{TenantID: "t1", ProjectID: "kb"}

func TestIngestFilesIndexesChunks(t *testing.T) {
	text := "one two three four five six seven eight nine ten"
	fx := newPipelineFixture(&fakeExtractor{texts: map[string]string{"a.txt": text}}, &fakeUsage{}, 1_000_000)

	res, err := fx.pipeline.IngestFiles(context.Background(), testScope, "u1", []UploadedFile{
		{Filename: "a.txt", Data: []byte(text)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesProcessed)
	assert.Equal(t, 3, res.ChunksIndexed)

	require.Len(t, fx.index.points, 3)
	for i, p := range fx.index.points {
		assert.Equal(t, "t1", p.Payload.TenantID)
		assert.Equal(t, "kb", p.Payload.ProjectID)
		assert.Equal(t, "doc-1", p.Payload.DocumentID)
		assert.Equal(t, i, p.Payload.ChunkIndex)
		assert.NotEmpty(t, p.Payload.Snippet)
		assert.NotEmpty(t, p.ID)
	}

	require.Len(t, fx.docs.inserted, 1)
	assert.Equal(t, "a.txt", fx.docs.inserted[0].Filename)
	assert.NotEmpty(t, fx.docs.inserted[0].SHA256)

	require.Len(t, fx.usage.appended, 1)
	assert.Equal(t, len(text)/3, fx.usage.appended[0].TokensIn)
	assert.Equal(t, 0, fx.usage.appended[0].TokensOut)
}

func TestIngestFilesQuotaDeniedBeforeEmbedding(t *testing.T) {
	text := "one two three four five six seven eight nine ten"
	fx := newPipelineFixture(&fakeExtractor{texts: map[string]string{"a.txt": text}}, &fakeUsage{tenantUsed: 99}, 100)

	res, err := fx.pipeline.IngestFiles(context.Background(), testScope, "u1", []UploadedFile{
		{Filename: "a.txt", Data: []byte(text)},
	})
	var quotaErr *QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, 0, res.FilesProcessed)
	assert.Equal(t, 0, fx.embedder.calls, "denial must precede any embedding call")
	assert.Empty(t, fx.index.points)
	assert.Empty(t, fx.usage.appended)
}

func TestIngestFilesStopsAtFirstFailure(t *testing.T) {
	extractor := &fakeExtractor{
		texts: map[string]string{
			"good.txt":  "alpha beta gamma delta",
			"later.txt": "untouched words here",
		},
		errs: map[string]error{"bad.pdf": errors.New("corrupt xref")},
	}
	fx := newPipelineFixture(extractor, &fakeUsage{}, 1_000_000)

	res, err := fx.pipeline.IngestFiles(context.Background(), testScope, "u1", []UploadedFile{
		{Filename: "good.txt", Data: []byte("x")},
		{Filename: "bad.pdf", Data: []byte("x")},
		{Filename: "later.txt", Data: []byte("x")},
	})
	require.Error(t, err)
	assert.Equal(t, 1, res.FilesProcessed, "the committed file stays committed")
	assert.Equal(t, 1, res.ChunksIndexed)
	require.Len(t, fx.docs.inserted, 1)
	assert.Equal(t, "good.txt", fx.docs.inserted[0].Filename)
}

func TestIngestFilesNoChunks(t *testing.T) {
	fx := newPipelineFixture(&fakeExtractor{texts: map[string]string{"blank.txt": "   "}}, &fakeUsage{}, 1_000_000)

	_, err := fx.pipeline.IngestFiles(context.Background(), testScope, "u1", []UploadedFile{
		{Filename: "blank.txt", Data: []byte("   ")},
	})
	var noChunks *NoChunksAfterSplitError
	require.ErrorAs(t, err, &noChunks)
	assert.Equal(t, 0, fx.embedder.calls)
}

func TestDeleteDocumentSurvivesVectorFailure(t *testing.T) {
	fx := newPipelineFixture(&fakeExtractor{}, &fakeUsage{}, 1_000_000)
	fx.index.deleteErr = errors.New("index unavailable")

	err := fx.pipeline.DeleteDocument(context.Background(), "t1", "doc-9")
	require.NoError(t, err, "metadata delete proceeds past a vector delete failure")
	assert.Equal(t, []string{"doc-9"}, fx.index.deletes)
	assert.Equal(t, []string{"doc-9"}, fx.docs.deleted)
}

func TestSanitizeSnippetStripsControlChars(t *testing.T) {
	got := sanitizeSnippet("hello\x00world\nnext\tline\x1b[0m")
	assert.Equal(t, "helloworld\nnext\tline[0m", got)
}
