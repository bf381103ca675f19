package services

import (
	"context"
	"fmt"

	"kb-retriever/internal/logger"
	"kb-retriever/models"
)

const (
	// DefaultMMRLambda trades relevance (λ→1) against diversity (λ→0).
	DefaultMMRLambda = 0.7
	// searchFloor keeps the per-variant search limit generous so the
	// deduplicated pool has enough candidates for reranking.
	searchFloor = 12
)

// Retriever orchestrates query expansion, multi-query vector search,
// cross-query deduplication and MMR reranking into a final ranked
// context set.
type Retriever struct {
	expander *QueryExpander
	embedder EmbeddingService
	index    VectorIndex
}

func NewRetriever(expander *QueryExpander, embedder EmbeddingService, index VectorIndex) *Retriever {
	return &Retriever{expander: expander, embedder: embedder, index: index}
}

// Retrieve returns up to topK passages for query within scope, ranked
// by MMR. Query expansion failures degrade gracefully to searching
// with the original query alone.
func (r *Retriever) Retrieve(ctx context.Context, scope models.Scope, query string, topK int, mmrLambda float64) ([]models.Passage, error) {
	if topK <= 0 {
		topK = 8
	}
	if mmrLambda < 0 || mmrLambda > 1 {
		mmrLambda = DefaultMMRLambda
	}

	queries := []string{query}
	rewrites, err := r.expander.Expand(ctx, query, 3)
	if err != nil {
		logger.Warn("query expansion failed, falling back to original query", "error", err)
	} else {
		queries = append(queries, rewrites...)
	}

	limit := topK
	if limit < searchFloor {
		limit = searchFloor
	}

	var pool []models.ScoredPoint
	for _, q := range queries {
		vec, err := r.embedQuery(ctx, q)
		if err != nil {
			return nil, &RetrievalError{Op: "query embedding", Err: err}
		}
		hits, err := r.index.Search(ctx, vec, limit, scope)
		if err != nil {
			return nil, &RetrievalError{Op: "vector search", Err: err}
		}
		pool = append(pool, hits...)
	}

	deduped := dedupeByChunk(pool)
	selected := mmrRerank(deduped, mmrLambda, topK)

	passages := make([]models.Passage, len(selected))
	for i, p := range selected {
		passages[i] = models.Passage{
			Text:       p.Payload.Snippet,
			Filename:   p.Payload.Filename,
			DocumentID: p.Payload.DocumentID,
			ChunkIndex: p.Payload.ChunkIndex,
			Page:       p.Payload.Page,
			Score:      p.Score,
		}
	}
	return passages, nil
}

func (r *Retriever) embedQuery(ctx context.Context, q string) ([]float32, error) {
	vecs, err := r.embedder.Embed(ctx, []string{q})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding invariant violated: %d vectors for 1 query", len(vecs))
	}
	return vecs[0], nil
}

// dedupeByChunk merges variant results keyed by (document, chunk
// index), keeping the higher-scoring entry. Expansion deliberately
// produces overlapping hits, so this collapse is essential. The
// surviving entries keep their first-encountered pool order, which
// makes MMR tie-breaking stable.
func dedupeByChunk(pool []models.ScoredPoint) []models.ScoredPoint {
	type chunkKey struct {
		documentID string
		chunkIndex int
	}
	pos := make(map[chunkKey]int, len(pool))
	out := make([]models.ScoredPoint, 0, len(pool))
	for _, p := range pool {
		k := chunkKey{p.Payload.DocumentID, p.Payload.ChunkIndex}
		if i, ok := pos[k]; ok {
			if p.Score > out[i].Score {
				out[i] = p
			}
			continue
		}
		pos[k] = len(out)
		out = append(out, p)
	}
	return out
}

// mmrRerank greedily selects up to topK candidates balancing
// relevance against redundancy. Relevance is the min-max normalized
// similarity score over the pool (all-equal pools normalize to 1).
// Redundancy uses a coarse proxy: similarity to the selected set is 1
// if any selected item shares the candidate's (document, page), else
// 0. Ties go to the earlier pool entry.
func mmrRerank(candidates []models.ScoredPoint, lambda float64, topK int) []models.ScoredPoint {
	if len(candidates) == 0 {
		return nil
	}

	minScore, maxScore := candidates[0].Score, candidates[0].Score
	for _, c := range candidates[1:] {
		if c.Score < minScore {
			minScore = c.Score
		}
		if c.Score > maxScore {
			maxScore = c.Score
		}
	}
	rel := make([]float64, len(candidates))
	for i, c := range candidates {
		if maxScore == minScore {
			rel[i] = 1
		} else {
			rel[i] = (c.Score - minScore) / (maxScore - minScore)
		}
	}

	if topK > len(candidates) {
		topK = len(candidates)
	}
	selected := make([]models.ScoredPoint, 0, topK)
	taken := make([]bool, len(candidates))

	for len(selected) < topK {
		bestIdx := -1
		bestVal := 0.0
		for i, c := range candidates {
			if taken[i] {
				continue
			}
			simToSel := 0.0
			for _, s := range selected {
				if s.Payload.DocumentID == c.Payload.DocumentID && s.Payload.Page == c.Payload.Page {
					simToSel = 1
					break
				}
			}
			val := lambda*rel[i] - (1-lambda)*simToSel
			if bestIdx == -1 || val > bestVal {
				bestIdx, bestVal = i, val
			}
		}
		if bestIdx == -1 {
			break
		}
		taken[bestIdx] = true
		selected = append(selected, candidates[bestIdx])
	}
	return selected
}
