// Package app wires configuration into the ingestion and retrieval contexts
// shared by the API server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/dilshanka/Rag-Pipeline/internal/cache/redis"
	"github.com/dilshanka/Rag-Pipeline/internal/chunker"
	"github.com/dilshanka/Rag-Pipeline/internal/domain"
	"github.com/dilshanka/Rag-Pipeline/internal/embedding"
	"github.com/dilshanka/Rag-Pipeline/internal/extract"
	"github.com/dilshanka/Rag-Pipeline/internal/ingestion"
	"github.com/dilshanka/Rag-Pipeline/internal/llm"
	"github.com/dilshanka/Rag-Pipeline/internal/query"
	"github.com/dilshanka/Rag-Pipeline/internal/rerank"
	"github.com/dilshanka/Rag-Pipeline/internal/retrieval"
	"github.com/dilshanka/Rag-Pipeline/internal/sparse"
	"github.com/dilshanka/Rag-Pipeline/internal/storage/sqlite"
	"github.com/dilshanka/Rag-Pipeline/internal/vector"
	"github.com/dilshanka/Rag-Pipeline/internal/vector/memory"
	"github.com/dilshanka/Rag-Pipeline/internal/vector/milvus"
	"github.com/dilshanka/Rag-Pipeline/pkg/config"
	"github.com/dilshanka/Rag-Pipeline/pkg/logger"
	"github.com/dilshanka/Rag-Pipeline/pkg/retry"
)

type App struct {
	Config    *config.Config
	Catalogue *sqlite.Client
	Store     vector.Store
	Cache     *redis.Client
	LLM       *llm.Client
	Sparse    *sparse.Index
	Ingestion *ingestion.Context
	Retrieval *retrieval.Context
	Engine    *query.Engine
	// Disabled lists the stages switched off for lack of credentials.
	Disabled []string
}

// New validates cfg and builds every component. Callers must Close the
// returned App.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	disabled, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	if len(disabled) > 0 {
		logger.Warn("No LLM API key configured, stages disabled", zap.Strings("stages", disabled))
	}

	a := &App{Config: cfg, Disabled: disabled, Sparse: sparse.New()}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	a.Catalogue, err = sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, err
	}
	if err := a.Catalogue.InitSchema(); err != nil {
		return nil, err
	}

	if a.Store, err = newStore(ctx, cfg); err != nil {
		return nil, err
	}

	if cfg.Redis.Enabled {
		a.Cache, err = redis.NewClient(ctx, redis.Options{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			Collection:   cfg.Vector.CollectionName,
			AnswerTTL:    cfg.Redis.QueryTTL,
			EmbeddingTTL: cfg.Redis.EmbeddingTTL,
		})
		if err != nil {
			logger.Warn("Redis unavailable, caching disabled", zap.Error(err))
			a.Cache = nil
		}
	}

	a.LLM = llm.NewClient(llm.Config{
		APIKey:             cfg.LLM.APIKey,
		BaseURL:            cfg.LLM.BaseURL,
		Model:              cfg.LLM.Model,
		VisionModel:        cfg.OCR.Model,
		EmbeddingModel:     cfg.LLM.EmbeddingModel,
		EmbeddingDim:       cfg.LLM.EmbeddingDim,
		EmbeddingBatchSize: cfg.LLM.EmbeddingBatchSize,
		Temperature:        cfg.LLM.Temperature,
		MaxTokens:          cfg.LLM.MaxTokens,
		Timeout:            time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		RequestsPerSecond:  cfg.LLM.RequestsPerSecond,
	})

	embedder := a.newEmbedder()
	a.Ingestion = a.newIngestion(embedder)
	a.Retrieval = a.newRetrieval(embedder)

	var cache query.AnswerCache
	if a.Cache != nil {
		cache = a.Cache
	}
	a.Engine = query.NewEngine(a.Retrieval, a.LLM, cache, a.Catalogue)

	if err := a.Ingestion.LoadSparse(ctx); err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

func newStore(ctx context.Context, cfg *config.Config) (vector.Store, error) {
	switch cfg.Vector.Backend {
	case "memory":
		snapshot := filepath.Join(cfg.Ingestion.PersistPath, cfg.Vector.CollectionName+".json")
		if _, err := os.Stat(snapshot); errors.Is(err, os.ErrNotExist) {
			return memory.New(snapshot), nil
		}
		return memory.Open(snapshot)
	default:
		store, err := milvus.NewClient(ctx, cfg.Vector.Endpoint, cfg.Vector.APIKey, cfg.Vector.CollectionName)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureCollection(ctx, cfg.Vector.VectorDim); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	}
}

// newEmbedder defers client checks to the first embedding call, so a
// server without credentials still serves sparse-only retrieval.
func (a *App) newEmbedder() embedding.Provider {
	cfg := a.Config
	lazy := embedding.NewLazy(func() (embedding.Provider, error) {
		if cfg.LLM.APIKey == "" {
			return nil, fmt.Errorf("%w: llm.apiKey is empty", domain.ErrMisconfiguredCredentials)
		}
		return a.LLM, nil
	})
	if a.Cache == nil {
		return lazy
	}
	return embedding.NewCached(lazy, a.Cache, cfg.LLM.EmbeddingModel)
}

func (a *App) newIngestion(embedder embedding.Provider) *ingestion.Context {
	cfg := a.Config

	renderer := extract.NewRenderer(cfg.OCR.RendererBinary, cfg.OCR.DPI)
	ocrEnabled := cfg.OCR.Enabled
	if ocrEnabled {
		if err := renderer.CheckAvailable(); err != nil {
			logger.Warn("OCR disabled", zap.Error(err))
			ocrEnabled = false
		}
	}

	policy := retry.Policy{
		MaxAttempts:    cfg.OCR.MaxAttempts,
		InitialDelay:   cfg.OCR.BackoffBase,
		MaxDelay:       cfg.OCR.BackoffMax,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	var cache ingestion.AnswerCache
	if a.Cache != nil {
		cache = a.Cache
	}

	return &ingestion.Context{
		Collection: cfg.Vector.CollectionName,
		Extractor: extract.NewExtractor(extract.NewFileOpener(renderer), a.LLM, extract.Config{
			MinNativeChars: cfg.OCR.MinNativeChars,
			OCREnabled:     ocrEnabled,
			Retry:          policy,
		}),
		Chunker: chunker.New(
			chunker.WithSize(cfg.Chunking.Size),
			chunker.WithOverlap(cfg.Chunking.Overlap),
			chunker.WithMinChars(cfg.Chunking.MinChars),
		),
		Embedder:           embedder,
		Store:              a.Store,
		Catalogue:          a.Catalogue,
		Sparse:             a.Sparse,
		Cache:              cache,
		Workers:            cfg.Ingestion.Workers,
		EmbeddingBatchSize: cfg.LLM.EmbeddingBatchSize,
	}
}

func (a *App) newRetrieval(embedder embedding.Provider) *retrieval.Context {
	cfg := a.Config.Retrieval

	fusion := retrieval.NewFusionRetriever(a.Sparse, a.Store, embedder, retrieval.FusionConfig{
		SparseWeight: cfg.SparseWeight,
		DenseWeight:  cfg.DenseWeight,
		RRFK:         cfg.RRFK,
	})

	rc := &retrieval.Context{
		Fusion: fusion,
		Config: retrieval.Config{
			K:           cfg.K,
			RerankTopN:  cfg.RerankTopN,
			Expansion:   cfg.Expansion,
			Compression: cfg.Compression,
			Rerank:      cfg.Rerank,
			Timeout:     cfg.Timeout,
		},
	}
	if cfg.Expansion {
		rc.Expander = retrieval.NewExpander(a.LLM, fusion, cfg.Paraphrases, cfg.Parallelism)
	}
	if cfg.Compression {
		rc.Compressor = retrieval.NewCompressor(a.LLM, cfg.Parallelism)
	}
	if cfg.Rerank {
		var scorer retrieval.Scorer = retrieval.LexicalScorer{}
		if url := a.Config.Reranker.URL; url != "" {
			scorer = rerank.NewClient(url, a.Config.Reranker.APIKey, time.Duration(a.Config.Reranker.TimeoutSec)*time.Second)
		} else {
			logger.Info("No reranker service configured, using lexical scorer")
		}
		rc.Reranker = retrieval.NewReranker(scorer)
	}
	return rc
}

// Ready checks the stores a request depends on.
func (a *App) Ready(ctx context.Context) map[string]string {
	status := map[string]string{"catalogue": "ok", "vector": "ok", "sparse": "ok"}
	if err := a.Catalogue.Ping(ctx); err != nil {
		status["catalogue"] = err.Error()
	}
	if _, err := a.Store.Count(ctx); err != nil {
		status["vector"] = err.Error()
	}
	if a.Sparse.Len() == 0 {
		status["sparse"] = "empty"
	}
	if a.Cache != nil {
		status["cache"] = "ok"
		if err := a.Cache.Ping(ctx); err != nil {
			status["cache"] = err.Error()
		}
	}
	return status
}

func (a *App) Close() error {
	var errs []error
	if a.Sparse != nil {
		a.Sparse.Close()
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	if a.Catalogue != nil {
		errs = append(errs, a.Catalogue.Close())
	}
	return errors.Join(errs...)
}
