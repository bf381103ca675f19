package ai

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"

	"kb-retriever/internal/config"
	"kb-retriever/internal/logger"
	"kb-retriever/services"
)

// GeminiClient wraps the Gemini completion API with a circuit breaker
// and a client-side rate limiter. It implements
// services.CompletionService.
type GeminiClient struct {
	client      *genai.Client
	model       string
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
}

// Message is one turn of a chat conversation. Role is "user" or
// "model".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type RateLimits struct {
	RPM int // Requests per minute
	TPM int // Tokens per minute
	RPD int // Requests per day
}

func NewGeminiClient(cfg *config.Config) (*GeminiClient, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}

	limits := getRateLimits(cfg.GeminiTier)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s: %s -> %s", name, from, to)
			if to == gobreaker.StateOpen {
				logger.Error("Gemini API circuit breaker opened - service degraded")
			}
		},
	})

	// RPM limit with some buffer
	rateLimiter := rate.NewLimiter(rate.Limit(float64(limits.RPM)*0.9/60.0), limits.RPM/10+1)

	return &GeminiClient{
		client:      client,
		model:       cfg.GeminiModel,
		breaker:     breaker,
		rateLimiter: rateLimiter,
	}, nil
}

func getRateLimits(tier string) RateLimits {
	switch tier {
	case "free":
		return RateLimits{RPM: 10, TPM: 250000, RPD: 250}
	case "tier1":
		return RateLimits{RPM: 1000, TPM: 1000000, RPD: 10000}
	case "tier2":
		return RateLimits{RPM: 2000, TPM: 4000000, RPD: 50000}
	default:
		return RateLimits{RPM: 10, TPM: 250000, RPD: 250}
	}
}

// Complete generates text for a prompt and reports the actual token
// usage from the response metadata.
func (gc *GeminiClient) Complete(ctx context.Context, prompt string, temperature float32) (string, services.TokenUsage, error) {
	tracer := otel.Tracer("gemini-client")
	ctx, span := tracer.Start(ctx, "gemini.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("gemini.model", gc.model),
		attribute.Int("gemini.prompt_chars", len(prompt)),
	)

	if err := gc.rateLimiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("gemini.rate_limited", true))
		return "", services.TokenUsage{}, err
	}

	result, err := gc.breaker.Execute(func() (interface{}, error) {
		model := gc.client.GenerativeModel(gc.model)
		model.SetTemperature(temperature)
		return model.GenerateContent(ctx, genai.Text(prompt))
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.error", true))
		return "", services.TokenUsage{}, err
	}

	resp := result.(*genai.GenerateContentResponse)
	text := responseText(resp)
	usage := extractTokenUsage(resp, prompt, text)
	span.SetAttributes(
		attribute.Int("gemini.tokens_in", usage.TokensIn),
		attribute.Int("gemini.tokens_out", usage.TokensOut),
	)
	return text, usage, nil
}

// StreamChat streams a chat completion, invoking fn for every text
// delta. The stream is lazy, finite and non-restartable; fn returning
// an error stops consumption and propagates. Token usage is reported
// from the final response chunk carrying usage metadata.
func (gc *GeminiClient) StreamChat(ctx context.Context, messages []Message, fn func(delta string) error) (services.TokenUsage, error) {
	var usage services.TokenUsage
	if len(messages) == 0 {
		return usage, fmt.Errorf("no messages")
	}

	if err := gc.rateLimiter.Wait(ctx); err != nil {
		return usage, err
	}

	model := gc.client.GenerativeModel(gc.model)
	cs := model.StartChat()
	for _, m := range messages[:len(messages)-1] {
		role := m.Role
		if role != "user" {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}

	iter := cs.SendMessageStream(ctx, genai.Text(messages[len(messages)-1].Content))
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return usage, err
		}
		if resp.UsageMetadata != nil {
			usage.TokensIn = int(resp.UsageMetadata.PromptTokenCount)
			usage.TokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		if delta := responseText(resp); delta != "" {
			if err := fn(delta); err != nil {
				return usage, err
			}
		}
	}
	return usage, nil
}

func (gc *GeminiClient) Close() error {
	if gc.client != nil {
		return gc.client.Close()
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	text := ""
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text += string(t)
			}
		}
	}
	return text
}

// extractTokenUsage prefers the response metadata and falls back to
// the 4-characters-per-token estimate when it is absent.
func extractTokenUsage(resp *genai.GenerateContentResponse, prompt, text string) services.TokenUsage {
	if resp.UsageMetadata != nil {
		return services.TokenUsage{
			TokensIn:  int(resp.UsageMetadata.PromptTokenCount),
			TokensOut: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	out := len(text) / 4
	if out < 1 {
		out = 1
	}
	return services.TokenUsage{TokensIn: len(prompt) / 4, TokensOut: out}
}
