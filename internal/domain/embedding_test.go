package domain

import (
	"context"
	"errors"
	"testing"
)

type stubEmbedder struct {
	result EmbeddingResult
	err    error
	got    []string
}

func (s *stubEmbedder) Embed(_ context.Context, text string) (EmbeddingResult, error) {
	s.got = append(s.got, text)
	return s.result, s.err
}

type stubBatchEmbedder struct {
	stubEmbedder
	batchResult BatchEmbeddingResult
	batchErr    error
	batchTexts  []string
}

func (s *stubBatchEmbedder) BatchEmbed(_ context.Context, texts []string) (BatchEmbeddingResult, error) {
	s.batchTexts = texts
	return s.batchResult, s.batchErr
}

func TestBatchFallback_PreservesOrderAndSumsTokens(t *testing.T) {
	inner := &stubEmbedder{result: EmbeddingResult{
		Embedding:    []float32{0.1, 0.2},
		PromptTokens: 5,
		TotalTokens:  5,
	}}
	res, err := BatchFallback(context.Background(), inner, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 3 {
		t.Fatalf("expected 3 embeddings, got %d", len(res.Embeddings))
	}
	if res.TotalTokens != 15 || res.PromptTokens != 15 {
		t.Errorf("expected 15/15 tokens, got %d/%d", res.PromptTokens, res.TotalTokens)
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if inner.got[i] != want[i] {
			t.Errorf("call %d: expected %q, got %q", i, want[i], inner.got[i])
		}
	}
}

func TestBatchFallback_Error(t *testing.T) {
	innerErr := errors.New("fail")
	inner := &stubEmbedder{err: innerErr}
	_, err := BatchFallback(context.Background(), inner, []string{"a"})
	if !errors.Is(err, innerErr) {
		t.Errorf("expected wrapped inner error, got %v", err)
	}
}

func TestBatchFallback_PropagatesFallbackFlag(t *testing.T) {
	inner := &stubEmbedder{result: EmbeddingResult{Embedding: []float32{1}, Fallback: true}}
	res, err := BatchFallback(context.Background(), inner, []string{"a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Fallback {
		t.Error("expected Fallback to be set")
	}
}

func TestEmbedAll_UsesNativeBatch(t *testing.T) {
	inner := &stubBatchEmbedder{batchResult: BatchEmbeddingResult{Embeddings: [][]float32{{1}, {2}}}}
	res, err := EmbedAll(context.Background(), inner, []string{"x", "y"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(res.Embeddings))
	}
	if len(inner.got) != 0 {
		t.Errorf("single Embed should not be called, got %v", inner.got)
	}
}

func TestEmbedAll_Empty(t *testing.T) {
	inner := &stubBatchEmbedder{batchErr: errors.New("must not be called")}
	res, err := EmbedAll(context.Background(), inner, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 0 {
		t.Errorf("expected no embeddings, got %d", len(res.Embeddings))
	}
}

func TestInstructionEmbedder_PrependsInstruction(t *testing.T) {
	inner := &stubEmbedder{result: EmbeddingResult{Embedding: []float32{0.1, 0.2, 0.3}}}
	emb := NewInstructionEmbedder(inner, "query: ")

	if _, err := emb.Embed(context.Background(), "hello world"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.got[0] != "query: hello world" {
		t.Errorf("expected prepended text, got %q", inner.got[0])
	}
}

func TestInstructionEmbedder_EmptyInstructionIsIdentity(t *testing.T) {
	inner := &stubEmbedder{}
	if got := NewInstructionEmbedder(inner, ""); got != Embedder(inner) {
		t.Error("expected inner embedder to be returned as is")
	}
}

func TestInstructionEmbedder_BatchEmbed(t *testing.T) {
	inner := &stubBatchEmbedder{batchResult: BatchEmbeddingResult{Embeddings: [][]float32{{0.1}, {0.2}}}}
	emb := NewInstructionEmbedder(inner, "passage: ").(BatchEmbedder)

	if _, err := emb.BatchEmbed(context.Background(), []string{"hello", "world"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.batchTexts[0] != "passage: hello" || inner.batchTexts[1] != "passage: world" {
		t.Errorf("expected prefixed texts, got %v", inner.batchTexts)
	}
}

func TestInstructionEmbedder_BatchEmbed_Error(t *testing.T) {
	innerErr := errors.New("batch fail")
	inner := &stubBatchEmbedder{batchErr: innerErr}
	emb := NewInstructionEmbedder(inner, "x: ").(BatchEmbedder)

	_, err := emb.BatchEmbed(context.Background(), []string{"a"})
	if !errors.Is(err, innerErr) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

func TestProviderError_UnwrapsAndFormats(t *testing.T) {
	err := &ProviderError{Provider: "gemini", Model: "flash", StatusCode: 429, Err: ErrRateLimited}
	if !errors.Is(err, ErrRateLimited) {
		t.Error("expected ErrRateLimited in chain")
	}
	if got := err.Error(); got != "gemini/flash: HTTP 429: rate limited" {
		t.Errorf("unexpected message %q", got)
	}
}
