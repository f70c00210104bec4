package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/draftsmith/backend/internal/api/handlers"
	"github.com/draftsmith/backend/internal/cache/redis"
	"github.com/draftsmith/backend/internal/chat"
	"github.com/draftsmith/backend/internal/confidence"
	"github.com/draftsmith/backend/internal/coverage"
	"github.com/draftsmith/backend/internal/generation"
	"github.com/draftsmith/backend/internal/ingestion"
	"github.com/draftsmith/backend/internal/intent"
	"github.com/draftsmith/backend/internal/llm"
	"github.com/draftsmith/backend/internal/metrics"
	"github.com/draftsmith/backend/internal/middleware/ratelimit"
	"github.com/draftsmith/backend/internal/middleware/security"
	"github.com/draftsmith/backend/internal/middleware/validation"
	"github.com/draftsmith/backend/internal/rerank"
	"github.com/draftsmith/backend/internal/retrieval"
	"github.com/draftsmith/backend/internal/storage/sqlite"
	"github.com/draftsmith/backend/internal/vector/milvus"
	"github.com/draftsmith/backend/pkg/config"
	appLogger "github.com/draftsmith/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting DraftSmith API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	err = milvusClient.CreateCollection(context.Background())
	if err != nil {
		appLogger.Fatal("Failed to create collection", zap.Error(err))
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.BaseURL,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
	)

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, caching disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	var embedder retrieval.Embedder = llmClient
	if redisClient != nil {
		embedder = retrieval.NewCachingEmbedder(llmClient, redisClient)
	}

	var reranker retrieval.Reranker
	if cfg.Reranker.Enabled {
		reranker = rerank.NewClient(cfg.Reranker.Endpoint, cfg.Reranker.TimeoutSec)
	}

	engine := retrieval.NewEngine(embedder, milvusClient, reranker, retrieval.Config{
		TopK:   cfg.Retrieval.TopK,
		QATopK: cfg.Retrieval.QATopK,
		Thresholds: retrieval.Thresholds{
			Default:  cfg.Retrieval.DefaultThreshold,
			QA:       cfg.Retrieval.QAThreshold,
			Analysis: cfg.Retrieval.AnalysisThreshold,
			Writing:  cfg.Retrieval.WritingThreshold,
		},
		RerankerEnabled:  cfg.Reranker.Enabled,
		RerankerInitialK: cfg.Reranker.InitialK,
		ExcerptMaxLength: cfg.Coverage.ExcerptMaxLength,
	})

	computer := coverage.NewComputer()
	tracker := coverage.NewTracker()
	sampler := retrieval.NewSampler(computer, retrieval.SamplerConfig{
		TargetFragments:  cfg.Coverage.TargetFragments,
		MaxFragments:     cfg.Coverage.MaxFragments,
		ExcerptMaxLength: cfg.Coverage.ExcerptMaxLength,
	})

	classifier := intent.NewClassifier()
	router := confidence.NewRouter(confidence.ModelTiers{
		Fast:     cfg.LLM.FastModel,
		Standard: cfg.LLM.StandardModel,
		Quality:  cfg.LLM.QualityModel,
	})

	orchestrator := generation.NewOrchestrator(
		classifier, engine, sampler, computer, router, llmClient, sqliteClient,
		generation.Config{TargetFragments: cfg.Coverage.TargetFragments},
	)

	var suggestionCache chat.SuggestionCache
	if redisClient != nil {
		suggestionCache = redisClient
	}
	chatService := chat.NewService(
		classifier, engine, computer, router, tracker, llmClient, sqliteClient, sqliteClient,
		suggestionCache,
		chat.Config{HistoryTurns: cfg.Chat.HistoryTurns, AuxModel: cfg.LLM.FastModel},
	)

	processor := ingestion.NewProcessor(sqliteClient, milvusClient, llmClient, cfg.LLM.FastModel)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	rateLimiter := ratelimit.New(ratelimit.Config{})
	defer rateLimiter.Stop()

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	app.Use(validation.Middleware(validation.Config{
		MaxDocumentSize: cfg.Server.BodyLimit,
	}))

	generationHandler := handlers.NewGenerationHandler(orchestrator, sqliteClient)
	chatHandler := handlers.NewChatHandler(chatService)
	documentHandler := handlers.NewDocumentHandler(processor, sqliteClient)
	wsHandler := handlers.NewWebSocketHandler(chatService)

	api := app.Group("/api")

	api.Post("/generate", rateLimiter.Middleware(), generationHandler.HandleGenerate)
	api.Post("/generate/regenerate", rateLimiter.Middleware(), generationHandler.HandleRegenerateSection)

	api.Post("/chat", rateLimiter.Middleware(), chatHandler.HandleMessage)
	api.Get("/conversations", chatHandler.ListConversations)
	api.Get("/conversations/:id", chatHandler.GetConversation)
	api.Put("/conversations/:id", chatHandler.RenameConversation)
	api.Delete("/conversations/:id", chatHandler.DeleteConversation)
	api.Get("/conversations/:id/suggestions", chatHandler.GetSuggestions)

	api.Post("/documents", documentHandler.UploadDocument)
	api.Get("/documents", documentHandler.ListDocuments)
	api.Get("/documents/:id", documentHandler.GetDocument)
	api.Delete("/documents/:id", documentHandler.DeleteDocument)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat", websocket.New(wsHandler.HandleConnection))

	app.Get("/metrics", metrics.MetricsHandler())

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
