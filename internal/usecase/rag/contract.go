package rag

import (
	"context"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

// VectorIndex is the store contract the engine needs. Reads degrade
// instead of failing.
type VectorIndex interface {
	Upsert(ctx context.Context, records []domain.Record) error
	Query(ctx context.Context, vector []float32, topK int, filter domain.Filter) []domain.QueryHit
	DeleteByFile(ctx context.Context, fileID string) error
	Count(ctx context.Context) int
}

// Embedder vectorizes text. Implementations may also satisfy domain.BatchEmbedder.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// TextExtractor turns a stored file into plain text.
type TextExtractor interface {
	ExtractText(ctx context.Context, path, mimeHint string) (string, error)
}

// Chunker splits text into overlapping chunks.
type Chunker interface {
	Chunk(text string, metadata map[string]string) []domain.Chunk
}
