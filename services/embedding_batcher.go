package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// EmbeddingBatcher turns an ordered sequence of chunk texts into an
// equal-length, order-preserving sequence of embeddings while
// respecting two independent upstream limits: a per-item token budget
// and a per-request aggregate budget. Upstream "request too large"
// rejections are recovered by halving the offending batch; any other
// failure propagates immediately.
type EmbeddingBatcher struct {
	embedder        EmbeddingService
	itemTokenCap    int
	requestTokenCap int
}

func NewEmbeddingBatcher(embedder EmbeddingService, itemTokenCap, requestTokenCap int) *EmbeddingBatcher {
	if itemTokenCap <= 0 {
		itemTokenCap = 2000
	}
	if requestTokenCap <= 0 {
		requestTokenCap = 16000
	}
	return &EmbeddingBatcher{
		embedder:        embedder,
		itemTokenCap:    itemTokenCap,
		requestTokenCap: requestTokenCap,
	}
}

// ApproxTokens estimates the token count of text as len/4. It is a
// rough character proxy, but it is monotonic in the text length and
// the same function is used for item-level and request-level checks,
// which is what keeps the bisection from looping.
func ApproxTokens(text string) int {
	return len(text) / 4
}

type embedItem struct {
	idx  int
	text string
}

// EmbedAll normalizes texts (trims, drops empties, truncates each to
// the per-item token cap) and embeds the survivors in token-bounded
// batches. It returns the normalized texts and their vectors,
// pairwise aligned: vectors[i] embeds kept[i]. A count mismatch from
// the upstream service is an invariant violation and fails the call.
func (b *EmbeddingBatcher) EmbedAll(ctx context.Context, texts []string) (kept []string, vectors [][]float32, err error) {
	items := make([]embedItem, 0, len(texts))
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		items = append(items, embedItem{idx: len(items), text: truncateToTokens(t, b.itemTokenCap)})
	}
	if len(items) == 0 {
		return nil, nil, nil
	}

	kept = make([]string, len(items))
	vectors = make([][]float32, len(items))
	for _, it := range items {
		kept[it.idx] = it.text
	}

	// Greedy batch formation: flush when the next item would push the
	// running estimate over the request budget.
	var batch []embedItem
	running := 0
	for _, it := range items {
		t := ApproxTokens(it.text)
		if len(batch) > 0 && running+t > b.requestTokenCap {
			if err := b.flush(ctx, batch, kept, vectors); err != nil {
				return nil, nil, err
			}
			batch = nil
			running = 0
		}
		batch = append(batch, it)
		running += t
	}
	if len(batch) > 0 {
		if err := b.flush(ctx, batch, kept, vectors); err != nil {
			return nil, nil, err
		}
	}

	for i, v := range vectors {
		if v == nil {
			return nil, nil, fmt.Errorf("embedding invariant violated: no vector for chunk %d", i)
		}
	}
	return kept, vectors, nil
}

// flush embeds one batch, recovering from oversize rejections with an
// explicit work-list of sub-batches instead of recursion so the depth
// stays bounded for adversarially large inputs. Sub-batches are
// processed left-to-right, preserving input order.
func (b *EmbeddingBatcher) flush(ctx context.Context, batch []embedItem, kept []string, vectors [][]float32) error {
	pending := [][]embedItem{batch}
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			// Once cancellation is observed, no further batches are
			// dispatched.
			return err
		}

		cur := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		texts := make([]string, len(cur))
		for i, it := range cur {
			texts[i] = it.text
		}

		vecs, err := b.embedder.Embed(ctx, texts)
		if err == nil {
			if len(vecs) != len(cur) {
				return fmt.Errorf("embedding invariant violated: %d vectors for %d inputs", len(vecs), len(cur))
			}
			for i, it := range cur {
				vectors[it.idx] = vecs[i]
			}
			continue
		}
		if !errors.Is(err, ErrRequestTooLarge) {
			return err
		}

		if len(cur) > 1 {
			// Halve and retry: right half goes on the stack first so
			// the left half is flushed next.
			mid := len(cur) / 2
			pending = append(pending, cur[mid:], cur[:mid])
			continue
		}

		// A single item was rejected: shrink its cap to 90% and retry
		// once rather than looping forever.
		it := cur[0]
		shrunk := truncateToTokens(it.text, b.itemTokenCap*9/10)
		vecs, err = b.embedder.Embed(ctx, []string{shrunk})
		if err != nil {
			if errors.Is(err, ErrRequestTooLarge) {
				return &EmbeddingTooLargeError{Index: it.idx, Chars: len(shrunk)}
			}
			return err
		}
		if len(vecs) != 1 {
			return fmt.Errorf("embedding invariant violated: %d vectors for 1 input", len(vecs))
		}
		vectors[it.idx] = vecs[0]
		kept[it.idx] = shrunk
	}
	return nil
}

// truncateToTokens caps text at roughly maxTokens using the same
// character proxy as ApproxTokens, backing up to a rune boundary.
func truncateToTokens(text string, maxTokens int) string {
	maxBytes := maxTokens * 4
	if len(text) <= maxBytes {
		return text
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
