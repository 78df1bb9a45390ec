package chat

import (
	"context"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

// Completer generates an answer for a normalized chat request.
type Completer interface {
	Complete(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error)
}

// Retriever finds document chunks relevant to a query.
type Retriever interface {
	IsEnabled() bool
	SearchDocuments(ctx context.Context, query string, filter domain.Filter) []domain.SearchResult
}
