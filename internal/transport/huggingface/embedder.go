package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/ragchat/internal/domain"
	"github.com/kailas-cloud/ragchat/internal/metrics"
)

const (
	provider = "huggingface"

	defaultBaseURL      = "https://api-inference.huggingface.co"
	defaultModel        = "sentence-transformers/all-MiniLM-L6-v2"
	defaultLoadingRetry = 10 * time.Second
	maxErrorBody        = 4 << 10
)

// fallbackEmbedder computes vectors locally when the Inference API is unreachable.
type fallbackEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error)
}

// Embedder calls the HuggingFace Inference API feature-extraction pipeline.
type Embedder struct {
	client       *http.Client
	baseURL      string
	apiKey       string
	model        string
	loadingRetry time.Duration
	limiter      *rate.Limiter
	fallback     fallbackEmbedder
	logger       *zap.Logger
}

// Config holds the HuggingFace settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// LoadingRetry is the pause before the single retry of a "model loading" response.
	LoadingRetry      time.Duration
	RequestsPerSecond float64
	Logger            *zap.Logger
}

// Option configures an Embedder.
type Option func(*Embedder)

// WithFallback sets the embedder used when the API cannot be reached.
func WithFallback(fb fallbackEmbedder) Option {
	return func(e *Embedder) { e.fallback = fb }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Embedder) { e.client = c }
}

// NewEmbedder creates a HuggingFace embedder.
func NewEmbedder(cfg *Config, opts ...Option) *Embedder {
	e := &Embedder{
		client:       &http.Client{Timeout: cfg.Timeout},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		loadingRetry: cfg.LoadingRetry,
		logger:       cfg.Logger,
	}
	if e.baseURL == "" {
		e.baseURL = defaultBaseURL
	}
	if e.model == "" {
		e.model = defaultModel
	}
	if e.loadingRetry <= 0 {
		e.loadingRetry = defaultLoadingRetry
	}
	if cfg.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{Embedding: res.Embeddings[0], Fallback: res.Fallback}, nil
}

// BatchEmbed implements domain.BatchEmbedder. The feature-extraction pipeline
// accepts a list of inputs and answers with one vector per input.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}
	if e.apiKey == "" {
		metrics.EmbeddingErrorsTotal.WithLabelValues(provider, e.model, "missing_credentials").Inc()
		return domain.BatchEmbeddingResult{}, fmt.Errorf("%s: %w", provider, domain.ErrMissingCredentials)
	}

	start := time.Now()
	body, err := e.post(ctx, texts)
	if errors.Is(err, domain.ErrModelLoading) {
		e.logger.Info("HuggingFace model is loading, retrying once",
			zap.String("model", e.model),
			zap.Duration("delay", e.loadingRetry),
		)
		select {
		case <-ctx.Done():
			return domain.BatchEmbeddingResult{}, fmt.Errorf("wait for model: %w", ctx.Err())
		case <-time.After(e.loadingRetry):
		}
		body, err = e.post(ctx, texts)
	}

	var unreachable *unreachableError
	if errors.As(err, &unreachable) {
		metrics.EmbeddingRequestsTotal.WithLabelValues(provider, e.model, "error").Inc()
		return e.useFallback(ctx, texts, unreachable)
	}
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(provider, e.model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(provider, e.model, "api_error").Inc()
		return domain.BatchEmbeddingResult{}, err
	}

	embeddings, err := parseEmbeddings(body, len(texts))
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(provider, e.model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(provider, e.model, "malformed_response").Inc()
		return domain.BatchEmbeddingResult{}, err
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(provider, e.model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(provider, e.model).Observe(time.Since(start).Seconds())
	return domain.BatchEmbeddingResult{Embeddings: embeddings}, nil
}

func (e *Embedder) useFallback(
	ctx context.Context, texts []string, cause *unreachableError,
) (domain.BatchEmbeddingResult, error) {
	if e.fallback == nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("%w: %w", domain.ErrEmbeddingProviderError, cause)
	}
	e.logger.Warn("HuggingFace unreachable, using hash embeddings",
		zap.String("model", e.model),
		zap.String("reason", cause.reason),
		zap.Int("texts", len(texts)),
		zap.Error(cause.err),
	)
	metrics.EmbeddingFallbackTotal.WithLabelValues(provider, cause.reason).Add(float64(len(texts)))

	res, err := e.fallback.BatchEmbed(ctx, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("fallback embed: %w", err)
	}
	res.Fallback = true
	return res, nil
}

type request struct {
	Inputs  []string       `json:"inputs"`
	Options requestOptions `json:"options"`
}

type requestOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

// unreachableError marks failures the hash fallback may absorb.
type unreachableError struct {
	reason string
	err    error
}

func (u *unreachableError) Error() string { return u.reason + ": " + u.err.Error() }
func (u *unreachableError) Unwrap() error { return u.err }

func (e *Embedder) post(ctx context.Context, texts []string) ([]byte, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	payload, err := json.Marshal(request{Inputs: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	url := e.baseURL + "/pipeline/feature-extraction/" + e.model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("embedding request: %w", ctx.Err())
		}
		return nil, &unreachableError{reason: "network", err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &unreachableError{reason: "network", err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode == http.StatusOK {
		return body, nil
	}
	return nil, classifyStatus(resp.StatusCode, body)
}

// classifyStatus maps a non-200 answer. Model loading is retried by the caller;
// throttling and server errors are treated as the API being unreachable;
// anything else (bad token, unknown model) is surfaced.
func classifyStatus(status int, body []byte) error {
	detail := errorDetail(body)
	switch {
	case status == http.StatusServiceUnavailable && isLoading(body):
		return fmt.Errorf("%s: %w: %w", detail, domain.ErrModelLoading, domain.ErrEmbeddingProviderError)
	case status == http.StatusTooManyRequests:
		return &unreachableError{reason: "rate_limited", err: fmt.Errorf("HTTP %d: %s: %w", status, detail, domain.ErrRateLimited)}
	case status >= 500:
		return &unreachableError{reason: "server_error", err: fmt.Errorf("HTTP %d: %s", status, detail)}
	default:
		return fmt.Errorf("embedding API error %d: %s: %w", status, detail, domain.ErrEmbeddingProviderError)
	}
}

type errorBody struct {
	Error         json.RawMessage `json:"error"`
	EstimatedTime float64         `json:"estimated_time"`
}

func isLoading(body []byte) bool {
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && eb.EstimatedTime > 0 {
		return true
	}
	return strings.Contains(strings.ToLower(string(body)), "loading")
}

func errorDetail(body []byte) string {
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && len(eb.Error) > 0 {
		var s string
		if json.Unmarshal(eb.Error, &s) == nil {
			return s
		}
		return string(eb.Error)
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return strings.TrimSpace(string(body))
}

// parseEmbeddings accepts one pooled vector per input. Token-level output
// (one vector per token) is mean-pooled.
func parseEmbeddings(body []byte, n int) ([][]float32, error) {
	var pooled [][]float32
	if err := json.Unmarshal(body, &pooled); err != nil {
		var tokens [][][]float32
		if err2 := json.Unmarshal(body, &tokens); err2 != nil {
			return nil, fmt.Errorf("decode embeddings: %w: %w", err, domain.ErrEmbeddingProviderError)
		}
		pooled = make([][]float32, len(tokens))
		for i, t := range tokens {
			pooled[i] = meanPool(t)
		}
	}

	if len(pooled) != n {
		return nil, fmt.Errorf("expected %d embeddings, got %d: %w", n, len(pooled), domain.ErrEmbeddingProviderError)
	}
	for i, v := range pooled {
		if len(v) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d: %w", i, domain.ErrEmbeddingProviderError)
		}
	}
	return pooled, nil
}

func meanPool(tokens [][]float32) []float32 {
	if len(tokens) == 0 || len(tokens[0]) == 0 {
		return nil
	}
	out := make([]float32, len(tokens[0]))
	for _, t := range tokens {
		for j := 0; j < len(out) && j < len(t); j++ {
			out[j] += t[j]
		}
	}
	for j := range out {
		out[j] /= float32(len(tokens))
	}
	return out
}

// HealthCheck verifies that the model answers a one-word request.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if e.apiKey == "" {
		return fmt.Errorf("%s: %w", provider, domain.ErrMissingCredentials)
	}
	body, err := e.post(ctx, []string{"ping"})
	if err != nil {
		return fmt.Errorf("huggingface health: %w", err)
	}
	if _, err := parseEmbeddings(body, 1); err != nil {
		return fmt.Errorf("huggingface health: %w", err)
	}
	return nil
}
