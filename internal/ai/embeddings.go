package ai

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"

	"kb-retriever/internal/config"
	"kb-retriever/services"
)

// EmbeddingClient produces embedding vectors through the Gemini batch
// embedding API. It implements services.EmbeddingService; oversize
// rejections are surfaced wrapped in services.ErrRequestTooLarge so
// the batcher can bisect, everything else passes through untouched.
type EmbeddingClient struct {
	client *genai.Client
	model  string
}

func NewEmbeddingClient(cfg *config.Config) (*EmbeddingClient, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}
	return &EmbeddingClient{client: client, model: cfg.EmbeddingsModel}, nil
}

// Embed returns one vector per input text, in input order.
func (ec *EmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	tracer := otel.Tracer("gemini-client")
	ctx, span := tracer.Start(ctx, "gemini.embed_batch")
	defer span.End()
	span.SetAttributes(
		attribute.String("gemini.model", ec.model),
		attribute.Int("gemini.batch_size", len(texts)),
	)

	em := ec.client.EmbeddingModel(ec.model)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.error", true))
		if isRequestTooLarge(err) {
			return nil, fmt.Errorf("%w: %v", services.ErrRequestTooLarge, err)
		}
		return nil, err
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}
	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("no embedding returned for input %d", i)
		}
		vectors[i] = e.Values
	}
	return vectors, nil
}

func (ec *EmbeddingClient) Close() error {
	if ec.client != nil {
		return ec.client.Close()
	}
	return nil
}

// isRequestTooLarge classifies upstream rejections caused by request
// size, as opposed to systemic failures that must propagate as-is.
func isRequestTooLarge(err error) bool {
	if apiErr, ok := err.(*googleapi.Error); ok {
		if apiErr.Code == 413 {
			return true
		}
		if apiErr.Code == 400 {
			msg := strings.ToLower(apiErr.Message)
			return strings.Contains(msg, "too large") ||
				strings.Contains(msg, "payload size") ||
				strings.Contains(msg, "exceeds the maximum")
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "request payload size exceeds") ||
		strings.Contains(msg, "request entity too large")
}
