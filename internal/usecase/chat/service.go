package chat

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragchat/internal/domain"
	"github.com/kailas-cloud/ragchat/internal/logger"
	"github.com/kailas-cloud/ragchat/internal/usecase/rag"
)

// Request is a chat turn as received from a client.
type Request struct {
	Provider     string
	Model        string
	Messages     []domain.Message
	SystemPrompt string
	UseRAG       bool
	// FileID narrows retrieval to one document.
	FileID string
}

// Response is the answer plus the document chunks it was grounded on.
type Response struct {
	domain.ChatResponse
	Sources []domain.SearchResult `json:"sources,omitempty"`
}

// Service answers chat turns, optionally grounded in indexed documents.
type Service struct {
	llm       Completer
	retriever Retriever
	logger    *zap.Logger
}

// New creates a chat service. retriever can be nil.
func New(llm Completer, retriever Retriever, logger *zap.Logger) *Service {
	return &Service{llm: llm, retriever: retriever, logger: logger}
}

// Chat answers the conversation. Retrieval problems never fail the request.
func (s *Service) Chat(ctx context.Context, req Request) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, fmt.Errorf("messages are required: %w", domain.ErrInvalidRequest)
	}

	systemPrompt := req.SystemPrompt
	var sources []domain.SearchResult
	if req.UseRAG && s.retriever != nil && s.retriever.IsEnabled() {
		if query, ok := domain.LastUserMessage(req.Messages); ok && strings.TrimSpace(query) != "" {
			sources = s.retriever.SearchDocuments(ctx, query, domain.Filter{FileID: req.FileID})
			systemPrompt = joinPrompt(systemPrompt, rag.FormatDocumentsForPrompt(sources))
			logger.OrDefault(ctx, s.logger).Debug("retrieval done",
				zap.Int("sources", len(sources)),
				zap.String("file_id", req.FileID),
			)
		}
	}

	resp, err := s.llm.Complete(ctx, domain.ChatRequest{
		Provider:     req.Provider,
		Model:        req.Model,
		Messages:     req.Messages,
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		provider := req.Provider
		if provider == "" {
			provider = "default"
		}
		return Response{}, fmt.Errorf("chat via %s: %w", provider, err)
	}
	return Response{ChatResponse: resp, Sources: sources}, nil
}

func joinPrompt(base, docs string) string {
	switch {
	case docs == "":
		return base
	case base == "":
		return docs
	default:
		return base + "\n\n" + docs
	}
}
