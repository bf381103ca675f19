package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"kb-retriever/internal/ai"
	"kb-retriever/internal/config"
	"kb-retriever/internal/logger"
	"kb-retriever/internal/store"
	"kb-retriever/internal/telemetry"
	"kb-retriever/middleware"
	"kb-retriever/routes"
	"kb-retriever/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.Init(cfg.GinMode == "debug")

	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracer("kb-retriever", cfg.OTLPEndpoint)
		if err != nil {
			log.Fatal("Failed to init tracer:", err)
		}
		defer shutdown()
	}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to init metrics:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	pool, err := store.NewPool(ctx, cfg.PostgresURL)
	cancel()
	if err != nil {
		log.Fatal("Failed to connect to Postgres:", err)
	}
	defer pool.Close()

	if err := store.InitSchema(context.Background(), pool); err != nil {
		log.Fatal("Failed to init schema:", err)
	}

	vectorIndex := store.NewPgVectorIndex(pool, cfg.VectorDimensions)
	if err := vectorIndex.EnsureSchema(context.Background(), cfg.VectorDimensions); err != nil {
		log.Fatal("Failed to ensure vector schema:", err)
	}

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	queueClient := asynq.NewClient(config.AsynqRedisOpt(cfg))
	defer queueClient.Close()

	geminiClient, err := ai.NewGeminiClient(cfg)
	if err != nil {
		log.Fatal("Failed to init Gemini client:", err)
	}
	defer geminiClient.Close()

	embeddingClient, err := ai.NewEmbeddingClient(cfg)
	if err != nil {
		log.Fatal("Failed to init embedding client:", err)
	}
	defer embeddingClient.Close()

	// Services
	usageStore := store.NewUsageStore(pool)
	docStore := store.NewDocumentStore(pool)
	ledger := services.NewQuotaLedger(usageStore, cfg.TenantDailyTokenCap, cfg.UserDailyTokenCap)
	estimator := services.NewTokenEstimator()
	batcher := services.NewEmbeddingBatcher(embeddingClient, cfg.ItemTokenCap, cfg.RequestTokenCap)
	pipeline := services.NewIngestionPipeline(
		services.NewFileExtractor(), batcher, vectorIndex, docStore, ledger, estimator,
		cfg.ChunkSize, cfg.ChunkOverlap, cfg.UpsertBatchSize,
	)
	retriever := services.NewRetriever(services.NewQueryExpander(geminiClient), embeddingClient, vectorIndex)

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	if cfg.TracingEnabled {
		router.Use(middleware.TracingMiddleware())
		router.Use(middleware.EnrichTrace())
	}
	router.Use(middleware.MetricsMiddleware(metrics))
	router.Use(middleware.RateLimitMiddleware(rdb, cfg))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "timestamp": time.Now()})
	})

	authMiddleware := middleware.NewAuthMiddleware(cfg)

	tenantLimiter := middleware.TenantRateLimit(rdb, cfg)

	routes.SetupIngestRoutes(router, cfg, pipeline, queueClient, metrics, authMiddleware)
	routes.SetupRetrieveRoutes(router, retriever, geminiClient, ledger, estimator, metrics, authMiddleware, tenantLimiter)
	routes.SetupChatRoutes(router, geminiClient, ledger, authMiddleware, tenantLimiter)
	routes.SetupFileRoutes(router, docStore, pipeline, authMiddleware)
	routes.SetupQuotaRoutes(router, ledger, authMiddleware)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("server exited")
}
