package routes

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"kb-retriever/internal/ai"
	"kb-retriever/middleware"
	"kb-retriever/services"
	"kb-retriever/utils"
)

const heartbeatInterval = 15 * time.Second

type chatRequest struct {
	Messages []ai.Message `json:"messages"`
}

func SetupChatRoutes(
	router *gin.Engine,
	client *ai.GeminiClient,
	ledger *services.QuotaLedger,
	authMiddleware *middleware.AuthMiddleware,
	tenantLimiter gin.HandlerFunc,
) {
	chat := router.Group("/chat")
	chat.Use(authMiddleware.RequireAuth(), tenantLimiter)

	// POST /chat/stream streams a completion over SSE for clients that
	// can POST and read a streaming body.
	chat.POST("/stream", func(c *gin.Context) {
		var req chatRequest
		if err := c.ShouldBindJSON(&req); err != nil || len(req.Messages) == 0 {
			utils.RespondWithBadRequest(c, "No messages", nil)
			return
		}
		streamChat(c, client, ledger, req.Messages)
	})

	// GET /chat/sse serves EventSource clients, which cannot POST: the
	// request rides in a base64 JSON payload query parameter and the
	// token in the access_token parameter.
	chat.GET("/sse", func(c *gin.Context) {
		b64 := c.Query("payload")
		if b64 == "" {
			utils.RespondWithBadRequest(c, "missing payload", nil)
			return
		}
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			utils.RespondWithBadRequest(c, "payload is not valid base64", nil)
			return
		}
		var req chatRequest
		if err := json.Unmarshal(raw, &req); err != nil || len(req.Messages) == 0 {
			utils.RespondWithBadRequest(c, "no messages", nil)
			return
		}
		streamChat(c, client, ledger, req.Messages)
	})
}

// chatStreamer is the streaming completion capability streamChat
// consumes; satisfied by *ai.GeminiClient.
type chatStreamer interface {
	StreamChat(ctx context.Context, messages []ai.Message, fn func(delta string) error) (services.TokenUsage, error)
}

type streamEvent struct {
	payload gin.H
	err     error
	usage   services.TokenUsage
	final   bool
}

// pumpStream drives the completion stream into events. Every send
// backs off on ctx so a consumer that stopped reading (client
// disconnect) never strands this goroutine on a full channel.
func pumpStream(ctx context.Context, client chatStreamer, messages []ai.Message, events chan<- streamEvent) {
	usage, err := client.StreamChat(ctx, messages, func(delta string) error {
		select {
		case events <- streamEvent{payload: gin.H{"delta": delta}}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	select {
	case events <- streamEvent{final: true, err: err, usage: usage}:
	case <-ctx.Done():
	}
}

// streamChat writes the SSE event sequence: {ready}, {delta}... then
// {done} or {error}. A comment heartbeat keeps intermediaries from
// closing the connection during long generations. Actual token usage
// is recorded when the stream completes.
func streamChat(c *gin.Context, client chatStreamer, ledger *services.QuotaLedger, messages []ai.Message) {
	c.Header("Content-Type", "text/event-stream; charset=utf-8")
	c.Header("Cache-Control", "no-cache, no-transform")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.Flush()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events := make(chan streamEvent, 16)
	go pumpStream(ctx, client, messages, events)

	writeSSE(c, gin.H{"ready": true})

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ":keep-alive\n\n")
			c.Writer.Flush()
		case ev := <-events:
			if !ev.final {
				writeSSE(c, ev.payload)
				continue
			}
			if ev.err != nil {
				writeSSE(c, gin.H{"error": ev.err.Error()})
				return
			}
			ledger.Record(ctx, middleware.GetTenantID(c), middleware.GetUserID(c), ev.usage.TokensIn, ev.usage.TokensOut)
			writeSSE(c, gin.H{"done": true})
			return
		}
	}
}

func writeSSE(c *gin.Context, v gin.H) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	c.Writer.Flush()
}
