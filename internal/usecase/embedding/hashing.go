package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

// DefaultHashDimensions matches all-MiniLM-L6-v2 so fallback vectors fit the
// same index as HuggingFace vectors.
const DefaultHashDimensions = 384

// HashEmbedder produces deterministic bag-of-words vectors without any network
// call. Text is split on whitespace and each lowercased token is hashed into a bucket with FNV-1a, weighted by
// its frequency and the vector is L2-normalized. Quality is poor but the
// result is stable, so it keeps indexing and retrieval alive offline.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hash embedder. Non-positive dims fall back to DefaultHashDimensions.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Dimensions returns the vector length.
func (h *HashEmbedder) Dimensions() int { return h.dims }

// Embed implements domain.Embedder. Empty input yields a zero vector.
func (h *HashEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{Embedding: h.vector(text), Fallback: true}, nil
}

// BatchEmbed implements domain.BatchEmbedder.
func (h *HashEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.vector(t)
	}
	return domain.BatchEmbeddingResult{Embeddings: out, Fallback: true}, nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	vec := make([]float32, h.dims)
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return vec
	}

	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	total := float64(len(tokens))
	for tok, n := range counts {
		f := fnv.New32a()
		_, _ = f.Write([]byte(tok))
		vec[f.Sum32()%uint32(h.dims)] += float32(float64(n) / total)
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
