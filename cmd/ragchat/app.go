package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragchat/internal/chunker"
	"github.com/kailas-cloud/ragchat/internal/config"
	dbRedis "github.com/kailas-cloud/ragchat/internal/db/redis"
	"github.com/kailas-cloud/ragchat/internal/domain"
	"github.com/kailas-cloud/ragchat/internal/metrics"
	"github.com/kailas-cloud/ragchat/internal/repository/chunk"
	"github.com/kailas-cloud/ragchat/internal/repository/embcache"
	"github.com/kailas-cloud/ragchat/internal/repository/files"
	"github.com/kailas-cloud/ragchat/internal/repository/milvus"
	"github.com/kailas-cloud/ragchat/internal/repository/sqlite"
	hfEmb "github.com/kailas-cloud/ragchat/internal/transport/huggingface"
	openaiTransport "github.com/kailas-cloud/ragchat/internal/transport/openai"
	"github.com/kailas-cloud/ragchat/internal/usecase/chat"
	embeddinguc "github.com/kailas-cloud/ragchat/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/ragchat/internal/usecase/health"
	"github.com/kailas-cloud/ragchat/internal/usecase/rag"
	"github.com/kailas-cloud/ragchat/internal/usecase/router"
	"github.com/kailas-cloud/ragchat/internal/vectorindex"
)

// app is the composition root shared by all commands.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	files  *files.Store
	index  *vectorindex.Index
	rag    *rag.Service
	router *router.Router
	chat   *chat.Service
	health *healthuc.Service

	closers []func()
}

// kvStore backs the embedding cache.
type kvStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

func newApp(cfg config.Config, logger *zap.Logger) (*app, error) {
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterRAGMetrics()

	a := &app{cfg: cfg, logger: logger}

	uploads, err := files.New(cfg.Storage.UploadDir)
	if err != nil {
		return nil, err
	}
	a.files = uploads

	backend, cache, err := a.buildVectorBackend()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.index = vectorindex.New(backend, logger,
		vectorindex.WithInitRetry(time.Duration(cfg.VectorStore.InitRetrySec)*time.Second),
		vectorindex.WithInitTimeout(time.Duration(cfg.VectorStore.ReadinessTimeout)*time.Second),
	)

	docEmbedder, queryEmbedder, checker := a.buildEmbedders(cache)

	a.rag = rag.New(
		a.index,
		docEmbedder,
		chunker.NewExtractor(chunker.WithMaxBytes(cfg.Chunking.MaxFileBytes)),
		chunker.New(chunker.WithSize(cfg.Chunking.Size), chunker.WithOverlap(cfg.Chunking.Overlap)),
		logger,
		rag.WithTopK(cfg.RAG.TopK),
		rag.WithEnabled(cfg.RAG.Enabled),
		rag.WithQueryEmbedder(queryEmbedder),
	)

	a.router = a.buildRouter()
	a.chat = chat.New(a.router, a.rag, logger)

	a.health = healthuc.New(a.index, checker)
	return a, nil
}

// Close releases store connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// buildVectorBackend opens the configured vector store. The returned KV store,
// when non-nil, also holds the embedding cache.
func (a *app) buildVectorBackend() (vectorindex.Backend, kvStore, error) {
	vs := a.cfg.VectorStore
	switch vs.Driver {
	case config.DriverRedis, config.DriverValkey:
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    vs.Addrs,
			Username: vs.Username,
			Password: vs.Password,
			DB:       vs.DB,
			Valkey:   vs.Driver == config.DriverValkey,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect %s: %w", vs.Driver, err)
		}
		a.closers = append(a.closers, store.Close)
		repo := chunk.New(store, chunk.Config{
			Name:       vs.Driver,
			KeyPrefix:  vs.KeyPrefix,
			Collection: vs.Collection,
			Dimensions: vs.Dimensions,
			HNSWM:      vs.HNSWM,
			HNSWEF:     vs.HNSWEFConstruct,
		})
		return repo, store, nil

	case config.DriverMilvus:
		store := milvus.New(milvus.Config{
			Address:    vs.Address,
			Username:   vs.Username,
			Password:   vs.Password,
			Collection: vs.Collection,
			Dimensions: vs.Dimensions,
		})
		a.closers = append(a.closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.Close(ctx); err != nil {
				a.logger.Warn("close milvus", zap.Error(err))
			}
		})
		return store, nil, nil

	case config.DriverSQLite:
		store, err := sqlite.Open(vs.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", vs.Path, err)
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		return store, store, nil
	}
	return nil, nil, fmt.Errorf("unknown vector store driver %q", vs.Driver)
}

// buildEmbedders assembles the decorator chain:
// provider -> cache -> instrumented -> instruction prefix.
// The returned checker probes the provider itself and is nil for the local hash embedder.
func (a *app) buildEmbedders(cache kvStore) (doc, query domain.Embedder, checker healthuc.EmbeddingChecker) {
	ec := a.cfg.Embedding
	dims := a.cfg.VectorStore.Dimensions

	var (
		base  domain.Embedder
		model string
	)
	switch ec.Provider {
	case config.EmbeddingOpenAI:
		p := openaiTransport.NewEmbedder(&openaiTransport.Config{
			APIKey:      ec.OpenAI.APIKey,
			BaseURL:     ec.OpenAI.BaseURL,
			Model:       ec.OpenAI.Model,
			Provider:    ec.Provider,
			Dimensions:  ec.OpenAI.Dimensions,
			NativeBatch: true,
			Timeout:     time.Duration(ec.OpenAI.TimeoutSec) * time.Second,
			Logger:      a.logger,
		})
		base, model, checker = p, ec.OpenAI.Model, p
	case config.EmbeddingGemini:
		p := openaiTransport.NewEmbedder(&openaiTransport.Config{
			APIKey:   ec.Gemini.APIKey,
			BaseURL:  ec.Gemini.BaseURL,
			Model:    ec.Gemini.Model,
			Provider: ec.Provider,
			Timeout:  time.Duration(ec.Gemini.TimeoutSec) * time.Second,
			Logger:   a.logger,
		})
		base, model, checker = p, ec.Gemini.Model, p
	case config.EmbeddingHuggingFace:
		hf := ec.HuggingFace
		p := hfEmb.NewEmbedder(&hfEmb.Config{
			APIKey:            hf.APIKey,
			BaseURL:           hf.BaseURL,
			Model:             hf.Model,
			Timeout:           time.Duration(hf.TimeoutSec) * time.Second,
			LoadingRetry:      time.Duration(hf.LoadingRetrySec) * time.Second,
			RequestsPerSecond: hf.RequestsPerSecond,
			Logger:            a.logger,
		}, hfEmb.WithFallback(embeddinguc.NewHashEmbedder(dims)))
		base, model, checker = p, hf.Model, p
	default:
		base, model = embeddinguc.NewHashEmbedder(dims), "hash"
	}

	var embedder domain.Embedder = base
	if cache != nil {
		embedder = embcache.New(base, cache, model, metrics.EmbeddingCacheTotal, a.logger,
			embcache.WithTTL(time.Duration(ec.CacheTTLSec)*time.Second))
	}
	embedder = embeddinguc.NewInstrumentedEmbedder(embedder, ec.Provider, model, a.logger,
		embeddinguc.WithDimensions(dims))

	doc, query = embedder, embedder
	// Instruction prefix is outermost: the cache key includes it.
	if ec.DocumentInstruction != "" {
		doc = domain.NewInstructionEmbedder(embedder, ec.DocumentInstruction)
	}
	if ec.QueryInstruction != "" {
		query = domain.NewInstructionEmbedder(embedder, ec.QueryInstruction)
	}
	return doc, query, checker
}

func (a *app) buildRouter() *router.Router {
	llm := a.cfg.LLM
	routes := make([]router.Route, 0, len(llm.Providers))
	for name, p := range llm.Providers {
		backend := openaiTransport.NewChatBackend(&openaiTransport.ChatConfig{
			Provider:     name,
			APIKey:       p.APIKey,
			BaseURL:      p.BaseURL,
			Model:        p.Model,
			HistoryLimit: llm.HistoryLimit,
			Timeout:      time.Duration(llm.TimeoutSec) * time.Second,
			Logger:       a.logger,
		})
		routes = append(routes, router.Route{
			Backend:       backend,
			Fallback:      p.Fallback,
			DefaultModels: p.DefaultModels,
			Models:        p.Models,
		})
	}
	return router.New(llm.DefaultProvider, a.logger, routes...)
}
