package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// scriptedEmbedder rejects batches above maxBatch with the too-large
// sentinel and can fail the first N calls regardless. Vectors encode
// the input's position so alignment is checkable.
type scriptedEmbedder struct {
	maxBatch  int
	failFirst int
	hardErr   error

	calls      int
	successful int
	position   map[string]float32
}

func (s *scriptedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.hardErr != nil {
		return nil, s.hardErr
	}
	if s.failFirst > 0 {
		s.failFirst--
		return nil, fmt.Errorf("%w: scripted", ErrRequestTooLarge)
	}
	if s.maxBatch > 0 && len(texts) > s.maxBatch {
		return nil, fmt.Errorf("%w: batch of %d", ErrRequestTooLarge, len(texts))
	}
	s.successful++
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		if pos, ok := s.position[t]; ok {
			vecs[i] = []float32{pos}
		} else {
			vecs[i] = []float32{-1}
		}
	}
	return vecs, nil
}

func numberedTexts(n int) ([]string, map[string]float32) {
	texts := make([]string, n)
	position := make(map[string]float32, n)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk number %d content", i)
		position[texts[i]] = float32(i)
	}
	return texts, position
}

func TestEmbedAllPreservesOrderAndLength(t *testing.T) {
	texts, position := numberedTexts(7)
	emb := &scriptedEmbedder{position: position}
	b := NewEmbeddingBatcher(emb, 2000, 16000)

	kept, vectors, err := b.EmbedAll(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	if len(kept) != 7 || len(vectors) != 7 {
		t.Fatalf("got %d kept, %d vectors, want 7 each", len(kept), len(vectors))
	}
	for i := range vectors {
		if vectors[i][0] != float32(i) {
			t.Errorf("vector %d embeds position %v, want %d", i, vectors[i][0], i)
		}
		if kept[i] != texts[i] {
			t.Errorf("kept %d = %q, want %q", i, kept[i], texts[i])
		}
	}
}

func TestEmbedAllDropsEmptyInputs(t *testing.T) {
	texts := []string{"  ", "alpha", "", "\t\n", "beta"}
	position := map[string]float32{"alpha": 0, "beta": 1}
	emb := &scriptedEmbedder{position: position}
	b := NewEmbeddingBatcher(emb, 2000, 16000)

	kept, vectors, err := b.EmbedAll(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	if len(kept) != 2 || kept[0] != "alpha" || kept[1] != "beta" {
		t.Fatalf("kept = %v, want [alpha beta]", kept)
	}
	if vectors[0][0] != 0 || vectors[1][0] != 1 {
		t.Fatalf("vectors misaligned after dropping empties: %v", vectors)
	}
}

func TestEmbedAllBisectsOversizeBatches(t *testing.T) {
	// Nine items in one request-budget batch, upstream rejecting any
	// batch larger than two. Halving gives [0:4][4:9], then [0:2][2:4]
	// and [4:6][6:7][7:9]: five successful calls.
	texts, position := numberedTexts(9)
	emb := &scriptedEmbedder{maxBatch: 2, position: position}
	b := NewEmbeddingBatcher(emb, 2000, 1<<20)

	kept, vectors, err := b.EmbedAll(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	if emb.successful != 5 {
		t.Errorf("successful embed calls = %d, want 5", emb.successful)
	}
	if len(kept) != 9 {
		t.Fatalf("kept %d items, want 9", len(kept))
	}
	for i := range vectors {
		if vectors[i][0] != float32(i) {
			t.Errorf("vector %d embeds position %v, want %d after bisection", i, vectors[i][0], i)
		}
	}
}

func TestEmbedAllShrinksRejectedSingleItem(t *testing.T) {
	// 8000 bytes survives the 2000-token item cap untouched; after one
	// oversize rejection it is cut to 90% of the cap and retried.
	big := strings.Repeat("abcd", 2000)
	emb := &scriptedEmbedder{failFirst: 1, position: map[string]float32{}}
	b := NewEmbeddingBatcher(emb, 2000, 16000)

	kept, vectors, err := b.EmbedAll(context.Background(), []string{big})
	if err != nil {
		t.Fatal(err)
	}
	if len(kept) != 1 || len(vectors) != 1 {
		t.Fatalf("got %d kept, %d vectors", len(kept), len(vectors))
	}
	if len(kept[0]) != 7200 {
		t.Errorf("shrunk text is %d bytes, want 7200 (90%% of cap)", len(kept[0]))
	}
	if emb.calls != 2 {
		t.Errorf("embed calls = %d, want 2 (reject, shrunk retry)", emb.calls)
	}
}

func TestEmbedAllGivesUpAfterShrinkRetry(t *testing.T) {
	big := strings.Repeat("abcd", 2000)
	emb := &scriptedEmbedder{failFirst: 1 << 30}
	b := NewEmbeddingBatcher(emb, 2000, 16000)

	_, _, err := b.EmbedAll(context.Background(), []string{big})
	var tooLarge *EmbeddingTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("err = %v, want EmbeddingTooLargeError", err)
	}
	if emb.calls != 2 {
		t.Errorf("embed calls = %d, want exactly 2 before giving up", emb.calls)
	}
}

func TestEmbedAllPropagatesNonSizeErrors(t *testing.T) {
	hard := errors.New("upstream on fire")
	texts, position := numberedTexts(4)
	emb := &scriptedEmbedder{hardErr: hard, position: position}
	b := NewEmbeddingBatcher(emb, 2000, 16000)

	_, _, err := b.EmbedAll(context.Background(), texts)
	if !errors.Is(err, hard) {
		t.Fatalf("err = %v, want wrapped upstream error", err)
	}
	if emb.calls != 1 {
		t.Errorf("embed calls = %d, want 1 (no bisection for systemic failures)", emb.calls)
	}
}

func TestEmbedAllTruncatesOversizeItemsUpFront(t *testing.T) {
	big := strings.Repeat("x", 20000)
	emb := &scriptedEmbedder{position: map[string]float32{}}
	b := NewEmbeddingBatcher(emb, 2000, 16000)

	kept, _, err := b.EmbedAll(context.Background(), []string{big})
	if err != nil {
		t.Fatal(err)
	}
	if len(kept[0]) != 8000 {
		t.Errorf("kept item is %d bytes, want 8000 (item cap)", len(kept[0]))
	}
}

func TestEmbedAllEmptyInput(t *testing.T) {
	emb := &scriptedEmbedder{}
	b := NewEmbeddingBatcher(emb, 2000, 16000)

	kept, vectors, err := b.EmbedAll(context.Background(), nil)
	if err != nil || kept != nil || vectors != nil {
		t.Fatalf("EmbedAll(nil) = %v, %v, %v; want nil, nil, nil", kept, vectors, err)
	}
	if emb.calls != 0 {
		t.Errorf("embed calls = %d, want 0", emb.calls)
	}
}
