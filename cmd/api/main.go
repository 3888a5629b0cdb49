package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/dilshanka/Rag-Pipeline/internal/api/handlers"
	"github.com/dilshanka/Rag-Pipeline/internal/app"
	"github.com/dilshanka/Rag-Pipeline/internal/ingestion"
	"github.com/dilshanka/Rag-Pipeline/internal/metrics"
	"github.com/dilshanka/Rag-Pipeline/internal/middleware/ratelimit"
	"github.com/dilshanka/Rag-Pipeline/internal/middleware/security"
	"github.com/dilshanka/Rag-Pipeline/internal/middleware/validation"
	"github.com/dilshanka/Rag-Pipeline/pkg/config"
	appLogger "github.com/dilshanka/Rag-Pipeline/pkg/logger"
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

	appLogger.Info("Starting RAG pipeline API server")

	metrics.Init()

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		appLogger.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer a.Close()

	server := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.RateLimitPerMinute,
		Logger:               appLogger.Named("ratelimit"),
	})
	defer limiter.Stop()

	server.Use(recover.New())
	server.Use(logger.New())
	server.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ", "),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	server.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))

	queryHandler := handlers.NewQueryHandler(a.Engine, a.Catalogue)
	documentHandler := handlers.NewDocumentHandler(a.Ingestion, ingestion.IngestRequest{
		SourceDir:  cfg.Ingestion.SourceDir,
		Collection: cfg.Vector.CollectionName,
	})
	wsHandler := handlers.NewWebSocketHandler(a.Engine, cfg.Retrieval.Timeout+time.Duration(cfg.LLM.TimeoutSec)*time.Second)

	api := server.Group("/api/v1")
	api.Use(limiter.Middleware())
	api.Use(validation.Middleware(validation.Config{
		Logger: appLogger.Named("validation"),
	}))

	api.Post("/chat", queryHandler.HandleChat)
	api.Post("/query", queryHandler.HandleQuery)
	api.Get("/query/history", queryHandler.GetQueryHistory)
	api.Post("/feedback", queryHandler.SubmitFeedback)

	api.Get("/documents", documentHandler.ListDocuments)
	api.Post("/documents/ingest", documentHandler.Ingest)
	api.Delete("/documents/:id", documentHandler.DeleteDocument)
	api.Get("/stats", documentHandler.Stats)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		checks := a.Ready(c.UserContext())
		status := fiber.StatusOK
		for name, state := range checks {
			if state != "ok" && name != "sparse" {
				status = fiber.StatusServiceUnavailable
			}
		}
		return c.Status(status).JSON(fiber.Map{
			"checks":   checks,
			"disabled": a.Disabled,
		})
	})

	server.Get("/metrics", metrics.MetricsHandler())

	server.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	server.Get("/ws", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := server.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := server.ShutdownWithTimeout(30 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
