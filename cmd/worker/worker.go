package main

import (
	"context"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"kb-retriever/internal/ai"
	"kb-retriever/internal/config"
	"kb-retriever/internal/logger"
	"kb-retriever/internal/queue"
	"kb-retriever/internal/store"
	"kb-retriever/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.Init(cfg.GinMode == "debug")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	pool, err := store.NewPool(ctx, cfg.PostgresURL)
	cancel()
	if err != nil {
		log.Fatal("Failed to connect to Postgres:", err)
	}
	defer pool.Close()

	vectorIndex := store.NewPgVectorIndex(pool, cfg.VectorDimensions)
	if err := vectorIndex.EnsureSchema(context.Background(), cfg.VectorDimensions); err != nil {
		log.Fatal("Failed to ensure vector schema:", err)
	}

	embeddingClient, err := ai.NewEmbeddingClient(cfg)
	if err != nil {
		log.Fatal("Failed to init embedding client:", err)
	}
	defer embeddingClient.Close()

	usageStore := store.NewUsageStore(pool)
	ledger := services.NewQuotaLedger(usageStore, cfg.TenantDailyTokenCap, cfg.UserDailyTokenCap)
	batcher := services.NewEmbeddingBatcher(embeddingClient, cfg.ItemTokenCap, cfg.RequestTokenCap)
	pipeline := services.NewIngestionPipeline(
		services.NewFileExtractor(), batcher, vectorIndex,
		store.NewDocumentStore(pool), ledger, services.NewTokenEstimator(),
		cfg.ChunkSize, cfg.ChunkOverlap, cfg.UpsertBatchSize,
	)

	// Periodic quota alert sweep.
	alerts := services.NewQuotaAlertService(usageStore, cfg.TenantDailyTokenCap, cfg.TokenWarnPercent, cfg.TokenCriticalPercent)
	scheduler := queue.NewScheduler()
	err = scheduler.ScheduleInterval("quota-alerts", time.Duration(cfg.QuotaAlertInterval)*time.Minute, func() error {
		sweepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return alerts.ScanTenants(sweepCtx)
	})
	if err != nil {
		log.Fatal("Failed to schedule quota alerts:", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := asynq.NewServer(
		config.AsynqRedisOpt(cfg),
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"ingest":  7,
				"default": 3,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	processor := queue.NewTaskProcessor(pipeline, cfg.FileStorageDir)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskIngestDocument, processor.HandleIngestDocument)

	logger.Info("worker starting", "concurrency", 10, "redis", cfg.RedisURL)
	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
