package embedding

import (
	"context"
	"math"
	"testing"
)

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (norm(a) * norm(b))
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	h := NewHashEmbedder(0)
	if h.Dimensions() != DefaultHashDimensions {
		t.Fatalf("expected %d dims, got %d", DefaultHashDimensions, h.Dimensions())
	}

	a, _ := h.Embed(context.Background(), "The quick brown fox")
	b, _ := h.Embed(context.Background(), "the QUICK  brown\tfox")
	if len(a.Embedding) != DefaultHashDimensions {
		t.Fatalf("unexpected length %d", len(a.Embedding))
	}
	for i := range a.Embedding {
		if a.Embedding[i] != b.Embedding[i] {
			t.Fatalf("case and spacing must not change the vector (dim %d)", i)
		}
	}
	if !a.Fallback {
		t.Error("hash vectors must be flagged as fallback")
	}
	if n := norm(a.Embedding); math.Abs(n-1) > 1e-5 {
		t.Errorf("expected unit norm, got %f", n)
	}
}

func TestHashEmbedder_EmptyIsZero(t *testing.T) {
	res, err := NewHashEmbedder(16).Embed(context.Background(), " \t\n ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embedding) != 16 {
		t.Fatalf("expected 16 dims, got %d", len(res.Embedding))
	}
	if norm(res.Embedding) != 0 {
		t.Errorf("expected zero vector, got %v", res.Embedding)
	}
}

func TestHashEmbedder_SplitsOnWhitespaceOnly(t *testing.T) {
	h := NewHashEmbedder(0)
	ctx := context.Background()

	tests := []struct {
		a, b string
	}{
		{"e-mail", "e mail"},
		{"fox", "fox!"},
		{"state-of-the-art", "state of the art"},
	}
	for _, tt := range tests {
		a, _ := h.Embed(ctx, tt.a)
		b, _ := h.Embed(ctx, tt.b)
		if cosine(a.Embedding, b.Embedding) > 0.999 {
			t.Errorf("%q and %q must embed differently", tt.a, tt.b)
		}
	}
}

func TestHashEmbedder_SimilarTextsCloser(t *testing.T) {
	h := NewHashEmbedder(256)
	ctx := context.Background()
	res, err := h.BatchEmbed(ctx, []string{
		"vector databases store embeddings",
		"embeddings are stored in vector databases",
		"the recipe needs two eggs and flour",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 3 || !res.Fallback {
		t.Fatalf("unexpected batch result %+v", res)
	}
	related := cosine(res.Embeddings[0], res.Embeddings[1])
	unrelated := cosine(res.Embeddings[0], res.Embeddings[2])
	if related <= unrelated {
		t.Errorf("expected related texts closer: %f <= %f", related, unrelated)
	}
}
