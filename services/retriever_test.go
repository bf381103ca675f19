package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb-retriever/models"
)

type stubCompletion struct {
	text string
	err  error
}

func (s *stubCompletion) Complete(context.Context, string, float32) (string, TokenUsage, error) {
	return s.text, TokenUsage{}, s.err
}

type stubIndex struct {
	hits     []models.ScoredPoint
	searches int
}

func (s *stubIndex) EnsureSchema(context.Context, int) error { return nil }
func (s *stubIndex) Upsert(context.Context, []models.IndexedPoint, int) error {
	return nil
}
func (s *stubIndex) DeleteByDocument(context.Context, string, string) error { return nil }
func (s *stubIndex) Search(context.Context, []float32, int, models.Scope) ([]models.ScoredPoint, error) {
	s.searches++
	out := make([]models.ScoredPoint, len(s.hits))
	copy(out, s.hits)
	return out, nil
}

func scored(id, doc string, chunk, page int, score float64) models.ScoredPoint {
	return models.ScoredPoint{
		ID:    id,
		Score: score,
		Payload: models.PointPayload{
			TenantID:   "t1",
			ProjectID:  "kb",
			DocumentID: doc,
			ChunkIndex: chunk,
			Page:       page,
			Filename:   doc + ".pdf",
			Snippet:    "snippet " + id,
		},
	}
}

func newTestRetriever(completion *stubCompletion, index *stubIndex) *Retriever {
	emb := &scriptedEmbedder{position: map[string]float32{}}
	return NewRetriever(NewQueryExpander(completion), emb, index)
}

func TestRetrieveSearchesEachQueryVariant(t *testing.T) {
	index := &stubIndex{hits: []models.ScoredPoint{scored("a", "doc1", 0, 1, 0.9)}}
	r := newTestRetriever(&stubCompletion{text: "variant one\nvariant two\nvariant three"}, index)

	hits, err := r.Retrieve(context.Background(), models.Scope{TenantID: "t1", ProjectID: "kb"}, "original", 8, 0.7)
	require.NoError(t, err)

	// Original plus three rewrites.
	assert.Equal(t, 4, index.searches)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc1", hits[0].DocumentID)
}

func TestRetrieveFallsBackWhenExpansionFails(t *testing.T) {
	index := &stubIndex{hits: []models.ScoredPoint{scored("a", "doc1", 0, 1, 0.9)}}
	r := newTestRetriever(&stubCompletion{err: errors.New("model unavailable")}, index)

	hits, err := r.Retrieve(context.Background(), models.Scope{TenantID: "t1", ProjectID: "kb"}, "original", 8, 0.7)
	require.NoError(t, err)

	assert.Equal(t, 1, index.searches, "expansion failure must degrade to the original query")
	require.Len(t, hits, 1)
}

func TestDedupeByChunkKeepsHigherScore(t *testing.T) {
	pool := []models.ScoredPoint{
		scored("a", "doc1", 3, 1, 0.80),
		scored("b", "doc2", 0, 1, 0.70),
		scored("c", "doc1", 3, 1, 0.91), // same chunk as "a", better score
	}

	out := dedupeByChunk(pool)
	require.Len(t, out, 2)
	assert.Equal(t, "c", out[0].ID, "higher-scoring variant replaces the earlier hit in place")
	assert.InDelta(t, 0.91, out[0].Score, 1e-9)
	assert.Equal(t, "b", out[1].ID)
}

func TestMMRRerankPrefersDiversePages(t *testing.T) {
	candidates := []models.ScoredPoint{
		scored("a", "doc1", 0, 1, 1.0),
		scored("b", "doc1", 1, 1, 0.9), // same (doc, page) as "a"
		scored("c", "doc2", 0, 1, 0.5),
	}

	out := mmrRerank(candidates, 0.5, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "c", out[1].ID, "redundant same-page candidate loses to a diverse one")
}

func TestMMRRerankPureRelevance(t *testing.T) {
	candidates := []models.ScoredPoint{
		scored("a", "doc1", 0, 1, 1.0),
		scored("b", "doc1", 1, 1, 0.9),
		scored("c", "doc2", 0, 1, 0.5),
	}

	// Lambda 1 ignores redundancy entirely.
	out := mmrRerank(candidates, 1.0, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "b", out[1].ID)
}

func TestMMRRerankEqualScoresStable(t *testing.T) {
	candidates := []models.ScoredPoint{
		scored("a", "doc1", 0, 1, 0.5),
		scored("b", "doc2", 0, 1, 0.5),
		scored("c", "doc3", 0, 1, 0.5),
	}

	out := mmrRerank(candidates, 0.7, 3)
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "b", out[1].ID)
	assert.Equal(t, "c", out[2].ID)
}

func TestMMRRerankEmptyPool(t *testing.T) {
	assert.Nil(t, mmrRerank(nil, 0.7, 8))
}

func TestRetrieveClampsLambdaAndTopK(t *testing.T) {
	index := &stubIndex{hits: []models.ScoredPoint{
		scored("a", "doc1", 0, 1, 0.9),
		scored("b", "doc2", 0, 1, 0.8),
	}}
	r := newTestRetriever(&stubCompletion{text: ""}, index)

	// Out-of-range lambda and non-positive topK fall back to defaults
	// instead of failing.
	hits, err := r.Retrieve(context.Background(), models.Scope{TenantID: "t1", ProjectID: "kb"}, "q", 0, 3.5)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}
