package rag

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragchat/internal/domain"
	"github.com/kailas-cloud/ragchat/internal/logger"
	"github.com/kailas-cloud/ragchat/internal/metrics"
)

// DefaultTopK is the number of chunks retrieved per query.
const DefaultTopK = 5

// Stats summarizes the index.
type Stats struct {
	Enabled        bool `json:"enabled"`
	TotalDocuments int  `json:"total_documents"`
}

// Service is the retrieval-augmented generation engine: it indexes files
// into the vector store and retrieves chunks for prompts.
type Service struct {
	enabled   bool
	topK      int
	index     VectorIndex
	embed     Embedder
	queryEmb  Embedder
	extractor TextExtractor
	chunker   Chunker
	logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTopK sets the default number of retrieved chunks.
func WithTopK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithEnabled toggles the engine. A disabled engine is a no-op.
func WithEnabled(enabled bool) Option {
	return func(s *Service) { s.enabled = enabled }
}

// WithQueryEmbedder embeds search queries with a different embedder than
// documents, e.g. one with a query instruction prefix.
func WithQueryEmbedder(e Embedder) Option {
	return func(s *Service) {
		if e != nil {
			s.queryEmb = e
		}
	}
}

// New creates a RAG service. The engine is enabled by default.
func New(
	index VectorIndex, embed Embedder, extractor TextExtractor, chunker Chunker,
	log *zap.Logger, opts ...Option,
) *Service {
	s := &Service{
		enabled:   true,
		topK:      DefaultTopK,
		index:     index,
		embed:     embed,
		queryEmb:  embed,
		extractor: extractor,
		chunker:   chunker,
		logger:    log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// IsEnabled reports whether RAG is turned on.
func (s *Service) IsEnabled() bool { return s.enabled }

// GetStats returns the number of chunk records in the store.
func (s *Service) GetStats(ctx context.Context) Stats {
	if !s.enabled {
		return Stats{}
	}
	return Stats{Enabled: true, TotalDocuments: s.index.Count(ctx)}
}

// IndexFile extracts, chunks, embeds and stores one file. Previous records
// of the file are replaced. Returns the number of chunks written.
func (s *Service) IndexFile(ctx context.Context, fileID, path, mimeType, originalName string) (int, error) {
	if !s.enabled {
		return 0, nil
	}
	if fileID == "" {
		return 0, fmt.Errorf("index file: empty file id: %w", domain.ErrInvalidRequest)
	}
	start := time.Now()
	log := logger.OrDefault(ctx, s.logger).With(zap.String("file_id", fileID))

	text, err := s.extractor.ExtractText(ctx, path, mimeType)
	if err != nil {
		return 0, fmt.Errorf("extract %s: %w", originalName, err)
	}

	chunks := s.chunker.Chunk(text, map[string]string{
		"file_id":       fileID,
		"original_name": originalName,
	})

	var vectors [][]float32
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		res, err := domain.EmbedAll(ctx, s.embed, texts)
		if err != nil {
			return 0, fmt.Errorf("embed %d chunks: %w", len(chunks), err)
		}
		if len(res.Embeddings) != len(chunks) {
			return 0, fmt.Errorf("got %d vectors for %d chunks: %w",
				len(res.Embeddings), len(chunks), domain.ErrChunkCountMismatch)
		}
		if res.Fallback {
			log.Warn("indexed with fallback embeddings", zap.Int("chunks", len(chunks)))
		}
		vectors = res.Embeddings
	}

	// Re-index: старые записи файла удаляются до записи новых.
	if err := s.index.DeleteByFile(ctx, fileID); err != nil {
		return 0, fmt.Errorf("delete previous records: %w", err)
	}
	if len(chunks) == 0 {
		log.Info("no text to index", zap.String("original_name", originalName))
		return 0, nil
	}

	records := make([]domain.Record, len(chunks))
	for i, c := range chunks {
		records[i] = domain.Record{
			ID:     domain.RecordID(fileID, c.Index),
			Vector: vectors[i],
			Text:   c.Content,
			Metadata: domain.RecordMetadata{
				FileID:       fileID,
				ChunkIndex:   c.Index,
				OriginalName: originalName,
				StartChar:    c.StartChar,
				EndChar:      c.EndChar,
			},
		}
	}
	if err := s.index.Upsert(ctx, records); err != nil {
		return 0, fmt.Errorf("store %d chunks: %w", len(records), err)
	}

	metrics.IndexedChunksTotal.Add(float64(len(records)))
	metrics.IndexDuration.Observe(time.Since(start).Seconds())
	log.Info("file indexed",
		zap.String("original_name", originalName),
		zap.Int("chunks", len(records)),
		zap.Duration("duration", time.Since(start)),
	)
	return len(records), nil
}

// DeleteFileIndex removes a file's records. Failures are logged, never returned.
func (s *Service) DeleteFileIndex(ctx context.Context, fileID string) {
	if !s.enabled || fileID == "" {
		return
	}
	if err := s.index.DeleteByFile(ctx, fileID); err != nil {
		logger.OrDefault(ctx, s.logger).Warn("delete file index failed",
			zap.String("file_id", fileID), zap.Error(err))
	}
}

// SearchDocuments retrieves the default number of chunks for query.
func (s *Service) SearchDocuments(ctx context.Context, query string, filter domain.Filter) []domain.SearchResult {
	return s.Search(ctx, query, filter, s.topK)
}

// Search retrieves up to topK chunks ordered by descending similarity.
// Errors are logged and yield an empty result.
func (s *Service) Search(ctx context.Context, query string, filter domain.Filter, topK int) []domain.SearchResult {
	if !s.enabled || query == "" {
		return nil
	}
	if topK <= 0 {
		topK = s.topK
	}

	res, err := s.queryEmb.Embed(ctx, query)
	if err != nil {
		metrics.RetrievalErrorsTotal.WithLabelValues("embed").Inc()
		logger.OrDefault(ctx, s.logger).Warn("embed query failed", zap.Error(err))
		return nil
	}

	hits := s.index.Query(ctx, res.Embedding, topK, filter)
	results := domain.ToSearchResults(hits)
	metrics.RetrievalResults.Observe(float64(len(results)))
	return results
}
