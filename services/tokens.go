package services

import (
	"github.com/pkoukk/tiktoken-go"

	"kb-retriever/internal/logger"
)

// ingestProjectionCap bounds the projected token estimate for a
// single document, so one huge upload does not claim the whole daily
// budget up front.
const ingestProjectionCap = 20000

// TokenEstimator counts tokens for quota projection. It uses the
// cl100k_base encoding when available and degrades to the character
// proxy otherwise; projections feed quota enforcement, which is
// advisory at the estimate level anyway.
type TokenEstimator struct {
	encoding *tiktoken.Tiktoken
}

func NewTokenEstimator() *TokenEstimator {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Warn("tiktoken encoding unavailable, falling back to character estimate", "error", err)
		return &TokenEstimator{}
	}
	return &TokenEstimator{encoding: encoding}
}

// Count returns the token count of text.
func (te *TokenEstimator) Count(text string) int {
	if te.encoding == nil {
		return ApproxTokens(text)
	}
	return len(te.encoding.Encode(text, nil, nil))
}

// ProjectIngest estimates the tokens an ingestion of text will
// consume, capped so the projection stays a gate rather than a
// blocker for large documents.
func (te *TokenEstimator) ProjectIngest(text string) int {
	projected := len(text) / 3
	if projected > ingestProjectionCap {
		projected = ingestProjectionCap
	}
	return projected
}

// ProjectAsk estimates the tokens a question-answering call will
// consume: the counted question plus a flat response allowance.
func (te *TokenEstimator) ProjectAsk(query string) int {
	return te.Count(query) + 1000
}
