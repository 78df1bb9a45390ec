package huggingface

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragchat/internal/domain"
	"github.com/kailas-cloud/ragchat/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterEmbeddingMetrics()
	os.Exit(m.Run())
}

type stubFallback struct {
	calls int
}

func (s *stubFallback) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	s.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return domain.BatchEmbeddingResult{Embeddings: out, Fallback: true}, nil
}

func newTestEmbedder(url string, fb *stubFallback) *Embedder {
	cfg := &Config{
		APIKey:       "hf-test",
		BaseURL:      url,
		Model:        "sentence-transformers/test",
		LoadingRetry: 10 * time.Millisecond,
		Logger:       zap.NewNop(),
	}
	if fb == nil {
		return NewEmbedder(cfg)
	}
	return NewEmbedder(cfg, WithFallback(fb))
}

func TestEmbedder_BatchEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pipeline/feature-extraction/sentence-transformers/test" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer hf-test" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Inputs) != 2 {
			t.Errorf("expected 2 inputs, got %v", req.Inputs)
		}
		_ = json.NewEncoder(w).Encode([][]float32{{0.1, 0.2}, {0.3, 0.4}})
	}))
	defer srv.Close()

	res, err := newTestEmbedder(srv.URL, nil).BatchEmbed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("BatchEmbed failed: %v", err)
	}
	if len(res.Embeddings) != 2 || res.Embeddings[1][0] != 0.3 {
		t.Errorf("unexpected embeddings %v", res.Embeddings)
	}
	if res.Fallback {
		t.Error("API vectors must not be flagged as fallback")
	}
}

func TestEmbedder_TokenLevelOutputIsPooled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([][][]float32{{{1, 2}, {3, 4}}})
	}))
	defer srv.Close()

	res, err := newTestEmbedder(srv.URL, nil).Embed(context.Background(), "a")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if res.Embedding[0] != 2 || res.Embedding[1] != 3 {
		t.Errorf("expected mean pooled [2 3], got %v", res.Embedding)
	}
}

func TestEmbedder_ModelLoadingRetriedOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"Model sentence-transformers/test is currently loading","estimated_time":20.0}`))
			return
		}
		_ = json.NewEncoder(w).Encode([][]float32{{0.5}})
	}))
	defer srv.Close()

	res, err := newTestEmbedder(srv.URL, nil).Embed(context.Background(), "a")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 requests, got %d", calls.Load())
	}
	if res.Embedding[0] != 0.5 {
		t.Errorf("unexpected embedding %v", res.Embedding)
	}
}

func TestEmbedder_ModelStillLoadingSurfaces(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"Model is currently loading","estimated_time":20.0}`))
	}))
	defer srv.Close()

	fb := &stubFallback{}
	_, err := newTestEmbedder(srv.URL, fb).Embed(context.Background(), "a")
	if !errors.Is(err, domain.ErrModelLoading) {
		t.Fatalf("expected ErrModelLoading, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected exactly one retry, got %d requests", calls.Load())
	}
	if fb.calls != 0 {
		t.Error("loading model must not use the fallback")
	}
}

func TestEmbedder_FallbackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	fb := &stubFallback{}
	res, err := newTestEmbedder(srv.URL, fb).BatchEmbed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("expected fallback, got %v", err)
	}
	if fb.calls != 1 || !res.Fallback || len(res.Embeddings) != 2 {
		t.Errorf("unexpected fallback result %+v (calls=%d)", res, fb.calls)
	}
}

func TestEmbedder_FallbackOnNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	fb := &stubFallback{}
	res, err := newTestEmbedder(url, fb).Embed(context.Background(), "a")
	if err != nil {
		t.Fatalf("expected fallback, got %v", err)
	}
	if !res.Fallback {
		t.Error("expected fallback flag")
	}
}

func TestEmbedder_NetworkErrorWithoutFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestEmbedder(url, nil).Embed(context.Background(), "a")
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected ErrEmbeddingProviderError, got %v", err)
	}
}

func TestEmbedder_AuthRejectedIsSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Invalid credentials in Authorization header"}`))
	}))
	defer srv.Close()

	fb := &stubFallback{}
	_, err := newTestEmbedder(srv.URL, fb).Embed(context.Background(), "a")
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected ErrEmbeddingProviderError, got %v", err)
	}
	if fb.calls != 0 {
		t.Error("auth errors must not use the fallback")
	}
}

func TestEmbedder_MalformedResponse(t *testing.T) {
	cases := map[string]string{
		"not json":       `oops`,
		"count mismatch": `[[0.1],[0.2]]`,
		"empty vector":   `[[]]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			fb := &stubFallback{}
			_, err := newTestEmbedder(srv.URL, fb).Embed(context.Background(), "a")
			if !errors.Is(err, domain.ErrEmbeddingProviderError) {
				t.Fatalf("expected ErrEmbeddingProviderError, got %v", err)
			}
			if fb.calls != 0 {
				t.Error("malformed responses must not use the fallback")
			}
		})
	}
}

func TestEmbedder_MissingAPIKey(t *testing.T) {
	e := NewEmbedder(&Config{BaseURL: "http://unused"})
	if _, err := e.Embed(context.Background(), "a"); !errors.Is(err, domain.ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}
