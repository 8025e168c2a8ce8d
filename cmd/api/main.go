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

	"github.com/billing-agent/backend/internal/api/handlers"
	"github.com/billing-agent/backend/internal/app"
	"github.com/billing-agent/backend/internal/metrics"
	"github.com/billing-agent/backend/internal/middleware/ratelimit"
	"github.com/billing-agent/backend/internal/middleware/security"
	"github.com/billing-agent/backend/internal/middleware/validation"
	"github.com/billing-agent/backend/pkg/config"
	appLogger "github.com/billing-agent/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(appLogger.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Output:  cfg.Logging.OutputPath,
		Service: "billing-agent-api",
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	if err := cfg.Validate(); err != nil {
		appLogger.Fatal("Invalid configuration", zap.Error(err))
	}

	appLogger.Info("Starting Telecom Billing Agent API Server")
	metrics.Init()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	agent, err := app.Build(ctx, cfg)
	cancel()
	if err != nil {
		appLogger.Fatal("Failed to initialize billing agent", zap.Error(err))
	}
	defer agent.Close()

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()

	fiberApp := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	fiberApp.Use(recover.New())
	fiberApp.Use(logger.New())
	fiberApp.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ", "),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Session-ID",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	fiberApp.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))

	checks := make(map[string]handlers.Checker)
	for name, c := range agent.Checks() {
		checks[name] = c
	}

	queryHandler := handlers.NewQueryHandler(agent.Orchestrator, agent.DB)
	sessionHandler := handlers.NewSessionHandler(agent.Orchestrator.Sessions())
	documentHandler := handlers.NewDocumentHandler(agent.Processor, cfg.Zilliz.CustomerNamespace)
	wsHandler := handlers.NewWebSocketHandler(agent.Orchestrator)
	healthHandler := handlers.NewHealthHandler(checks)

	fiberApp.Get("/metrics", metrics.MetricsHandler())

	api := fiberApp.Group("/api/v1")

	api.Get("/health", healthHandler.Health)
	api.Get("/ready", healthHandler.Ready)

	guarded := api.Group("", limiter.Middleware(), validation.Middleware(validation.Config{
		MaxQueryLength:  cfg.Server.MaxQueryLength,
		MaxDocumentSize: cfg.Server.BodyLimit,
		Logger:          appLogger.GetLogger(),
	}))

	guarded.Post("/query", queryHandler.HandleQuery)
	guarded.Get("/query/history", queryHandler.GetQueryHistory)

	guarded.Get("/sessions", sessionHandler.ListSessions)
	guarded.Get("/sessions/:id", sessionHandler.GetSession)
	guarded.Delete("/sessions/:id", sessionHandler.DeleteSession)

	guarded.Post("/documents", documentHandler.UploadDocument)

	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := fiberApp.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := fiberApp.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
