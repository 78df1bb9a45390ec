package chi

import (
	"context"
	"io"

	"github.com/kailas-cloud/ragchat/internal/domain"
	"github.com/kailas-cloud/ragchat/internal/repository/files"
	"github.com/kailas-cloud/ragchat/internal/usecase/chat"
	"github.com/kailas-cloud/ragchat/internal/usecase/health"
	"github.com/kailas-cloud/ragchat/internal/usecase/rag"
)

// FileStore keeps uploaded files on disk.
type FileStore interface {
	Save(ctx context.Context, originalName, mimeType string, r io.Reader, maxBytes int64) (files.StoredFile, error)
	Lookup(id string) (files.StoredFile, error)
	Delete(id string) error
}

// Retriever indexes files and searches indexed chunks.
type Retriever interface {
	IsEnabled() bool
	GetStats(ctx context.Context) rag.Stats
	IndexFile(ctx context.Context, fileID, path, mimeType, originalName string) (int, error)
	DeleteFileIndex(ctx context.Context, fileID string)
	Search(ctx context.Context, query string, filter domain.Filter, topK int) []domain.SearchResult
}

// IndexQueue accepts background indexing jobs.
type IndexQueue interface {
	Enqueue(job rag.IndexJob) bool
}

// Chatter answers chat turns.
type Chatter interface {
	Chat(ctx context.Context, req chat.Request) (chat.Response, error)
}

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

// StoreStatus describes the vector store backing the retriever.
type StoreStatus interface {
	Name() string
	Available() bool
}
