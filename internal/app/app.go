// Package app assembles the billing agent from configuration. Both the HTTP
// server and the CLI start from Build.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/billing-agent/backend/internal/agents"
	"github.com/billing-agent/backend/internal/cache/redis"
	"github.com/billing-agent/backend/internal/guardrails"
	"github.com/billing-agent/backend/internal/ingestion"
	"github.com/billing-agent/backend/internal/llm"
	"github.com/billing-agent/backend/internal/memory"
	"github.com/billing-agent/backend/internal/retrieval"
	"github.com/billing-agent/backend/internal/storage/sqlite"
	"github.com/billing-agent/backend/internal/vector"
	vectormem "github.com/billing-agent/backend/internal/vector/memory"
	"github.com/billing-agent/backend/internal/vector/zilliz"
	"github.com/billing-agent/backend/internal/workflow"
	"github.com/billing-agent/backend/pkg/config"
	"github.com/billing-agent/backend/pkg/logger"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	Config       *config.Config
	DB           *sqlite.Client
	Index        vector.Index
	Lifecycle    vector.Lifecycle
	Embedder     llm.Embedder
	Memory       *memory.Manager
	Orchestrator *workflow.Orchestrator
	Processor    *ingestion.Processor

	checks  map[string]Pinger
	closers []func() error
}

// Build opens every backing service and compiles the workflow. The caller
// owns the returned App and must Close it.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, checks: map[string]Pinger{}}

	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openIndex(ctx); err != nil {
		a.Close()
		return nil, err
	}

	llmClient := llm.NewClient(llm.Options{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		BatchSize:      cfg.LLM.EmbeddingBatchSize,
		MaxRetries:     cfg.LLM.MaxRetries,
		Timeout:        time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})
	a.Embedder = llmClient

	if cfg.Redis.Enabled {
		cache, err := redis.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			// The embedding cache is an optimisation; run without it.
			logger.Warn("Embedding cache disabled", zap.Error(err))
		} else {
			a.closers = append(a.closers, cache.Close)
			a.checks["redis"] = cache
			a.Embedder = redis.NewCachedEmbedder(llmClient, cache, cfg.LLM.EmbeddingModel, cfg.Redis.EmbeddingTTL)
		}
	}

	retriever := retrieval.NewRetriever(a.Embedder, a.Index, cfg.Zilliz.CustomerNamespace,
		retrieval.WithTopK(cfg.Retrieval.TopK),
		retrieval.WithQuoteWords(cfg.Guardrails.MaxQuoteWords),
	)
	validator := guardrails.NewValidator(guardrails.Config{
		ConfidenceThreshold:      cfg.Guardrails.ConfidenceThreshold,
		StrictAmountVerification: cfg.Guardrails.StrictAmountVerification,
	})

	a.Memory = memory.NewManager(a.DB, nil)

	orch, err := workflow.New(ctx, workflow.Deps{
		Memory:  a.Memory,
		Router:  agents.NewRouter(llmClient),
		Sales:   agents.NewSalesResponder(llmClient),
		Billing: agents.NewBillingResponder(llmClient, retriever),
		Manager: agents.NewManager(validator),
		Audit:   a.DB,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build workflow: %w", err)
	}
	a.Orchestrator = orch

	a.Processor = ingestion.NewProcessor(a.Embedder, a.Index,
		ingestion.NewChunker(cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap))

	logger.Info("Billing agent assembled",
		zap.String("vector_backend", cfg.Vector.Backend),
		zap.Bool("embedding_cache", cfg.Redis.Enabled),
		zap.Float64("confidence_threshold", validator.Threshold()),
		zap.Bool("strict_amounts", validator.Strict()),
	)
	return a, nil
}

func (a *App) openStorage(ctx context.Context) error {
	if dir := filepath.Dir(a.Config.SQLite.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sqlite.NewClient(a.Config.SQLite.Path, a.Config.Memory.MaxHistory)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)
	a.checks["sqlite"] = db

	if err := db.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (a *App) openIndex(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Vector.Backend {
	case config.VectorBackendMemory:
		store := vectormem.NewStore(cfg.Zilliz.VectorDim)
		a.Index, a.Lifecycle = store, store
		logger.Warn("Using in-process vector index; documents do not survive restarts")
		return nil

	case config.VectorBackendMilvus:
		zc, err := zilliz.NewClient(ctx, cfg.Zilliz.Endpoint, cfg.Zilliz.APIKey, cfg.Zilliz.CollectionName,
			cfg.Zilliz.VectorDim, cfg.Zilliz.CustomerNamespace, cfg.Zilliz.BackgroundNamespace)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, zc.Close)
		a.checks["milvus"] = zc
		if err := zc.EnsureIndex(ctx); err != nil {
			return fmt.Errorf("failed to prepare vector index: %w", err)
		}
		a.Index, a.Lifecycle = zc, zc
		return nil
	}
	return fmt.Errorf("unknown vector backend %q", cfg.Vector.Backend)
}

// Checks lists the services a readiness probe should ping.
func (a *App) Checks() map[string]Pinger {
	return a.checks
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
