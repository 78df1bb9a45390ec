package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragchat/internal/domain"
	"github.com/kailas-cloud/ragchat/internal/metrics"
)

// Embedder is an embedding provider over the OpenAI-compatible API.
// It serves both OpenAI and Gemini (through Google's OpenAI-compatible endpoint).
type Embedder struct {
	client      *openai.Client
	apiKey      string
	model       openai.EmbeddingModel
	dimensions  int
	provider    string
	nativeBatch bool
	logger      *zap.Logger
}

// Config holds the embedding provider settings.
type Config struct {
	APIKey   string
	BaseURL  string
	Model    string
	Provider string
	// Dimensions is sent as the `dimensions` request field when positive.
	// Only text-embedding-3 models accept it.
	Dimensions int
	// NativeBatch sends all texts of a batch in one request. When false,
	// BatchEmbed embeds texts one by one.
	NativeBatch bool
	Timeout     time.Duration
	Logger      *zap.Logger
}

// NewEmbedder creates an OpenAI-compatible embedding provider. A missing API
// key is not an error here; the first Embed call reports it.
func NewEmbedder(cfg *Config) *Embedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Embedder{
		client:      openai.NewClientWithConfig(clientCfg),
		apiKey:      cfg.APIKey,
		model:       openai.EmbeddingModel(cfg.Model),
		dimensions:  cfg.Dimensions,
		provider:    cfg.Provider,
		nativeBatch: cfg.NativeBatch,
		logger:      logger,
	}
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := e.create(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{
		Embedding:    res.Embeddings[0],
		PromptTokens: res.PromptTokens,
		TotalTokens:  res.TotalTokens,
	}, nil
}

// BatchEmbed implements domain.BatchEmbedder. Output order follows input order
// regardless of the order the API lists vectors in.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}
	if !e.nativeBatch {
		return domain.BatchFallback(ctx, singleEmbedder{e}, texts)
	}
	return e.create(ctx, texts)
}

// singleEmbedder hides BatchEmbed so BatchFallback cannot recurse into it.
type singleEmbedder struct{ e *Embedder }

func (s singleEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	return s.e.Embed(ctx, text)
}

func (e *Embedder) create(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	model := string(e.model)
	if e.apiKey == "" {
		metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, model, "missing_credentials").Inc()
		return domain.BatchEmbeddingResult{}, fmt.Errorf("%s: %w", e.provider, domain.ErrMissingCredentials)
	}

	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, model, "api_error").Inc()
		return domain.BatchEmbeddingResult{}, parseEmbeddingError(err)
	}

	embeddings, err := orderEmbeddings(resp.Data, len(texts))
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, model, "malformed_response").Inc()
		return domain.BatchEmbeddingResult{}, err
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(e.provider, model).Observe(duration.Seconds())

	totalTokens := resp.Usage.TotalTokens
	promptTokens := resp.Usage.PromptTokens
	if totalTokens > 0 {
		metrics.EmbeddingTokensTotal.WithLabelValues(e.provider, model, "prompt").Add(float64(promptTokens))
		metrics.EmbeddingTokensTotal.WithLabelValues(e.provider, model, "total").Add(float64(totalTokens))
	}

	return domain.BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: promptTokens,
		TotalTokens:  totalTokens,
	}, nil
}

// orderEmbeddings places each vector at its reported index and rejects
// responses with missing, duplicate or empty entries.
func orderEmbeddings(data []openai.Embedding, n int) ([][]float32, error) {
	if len(data) != n {
		return nil, fmt.Errorf("expected %d embeddings, got %d: %w", n, len(data), domain.ErrEmbeddingProviderError)
	}
	out := make([][]float32, n)
	for _, d := range data {
		if d.Index < 0 || d.Index >= n || out[d.Index] != nil {
			return nil, fmt.Errorf("invalid embedding index %d: %w", d.Index, domain.ErrEmbeddingProviderError)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d: %w", d.Index, domain.ErrEmbeddingProviderError)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if e.apiKey == "" {
		return fmt.Errorf("%s: %w", e.provider, domain.ErrMissingCredentials)
	}
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}
