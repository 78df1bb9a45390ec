package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragchat/internal/domain"
	"github.com/kailas-cloud/ragchat/internal/logger"
	"github.com/kailas-cloud/ragchat/internal/usecase/chat"
	"github.com/kailas-cloud/ragchat/internal/usecase/health"
	"github.com/kailas-cloud/ragchat/internal/usecase/rag"
)

const (
	// DefaultMaxUploadBytes caps a single uploaded file.
	DefaultMaxUploadBytes int64 = 20 << 20
	maxSearchLimit              = 50
	maxChatBodyBytes            = 1 << 20
	// multipartOverhead covers boundaries and part headers around the file.
	multipartOverhead = 64 << 10
)

// Indexing states reported by UploadFile.
const (
	IndexingQueued   = "queued"
	IndexingDisabled = "disabled"
	IndexingDropped  = "dropped"
)

// Server implements ServerInterface.
type Server struct {
	files          FileStore
	rag            Retriever
	queue          IndexQueue
	chat           Chatter
	health         HealthChecker
	store          StoreStatus
	logger         *zap.Logger
	maxUploadBytes int64
	errorHandlers  []errorHandler
}

var _ ServerInterface = (*Server)(nil)

// Option configures a Server.
type Option func(*Server)

// WithMaxUploadBytes caps uploaded file size.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// WithStoreStatus adds vector store details to /v1/rag/stats.
func WithStoreStatus(st StoreStatus) Option {
	return func(s *Server) { s.store = st }
}

// NewServer creates an HTTP API server.
func NewServer(
	files FileStore,
	retriever Retriever,
	queue IndexQueue,
	chatter Chatter,
	checker HealthChecker,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		files:          files,
		rag:            retriever,
		queue:          queue,
		chat:           chatter,
		health:         checker,
		logger:         logger,
		maxUploadBytes: DefaultMaxUploadBytes,
		errorHandlers:  defaultErrorHandlers(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// UploadFile handles POST /v1/files.
func (s *Server) UploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "multipart/form-data body required")
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, ErrorCodeValidationFailed, `form field "file" is required`)
			return
		}
		if err != nil {
			s.writeBodyError(w, r, err)
			return
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}

		stored, err := s.files.Save(r.Context(), part.FileName(), part.Header.Get("Content-Type"), part, s.maxUploadBytes)
		_ = part.Close()
		if err != nil {
			s.writeBodyError(w, r, err)
			return
		}

		job := rag.IndexJob{
			FileID:       stored.ID,
			Path:         stored.Path,
			MimeType:     stored.MimeType,
			OriginalName: stored.OriginalName,
		}
		resp := UploadResponse{
			FileID:       stored.ID,
			OriginalName: stored.OriginalName,
			MimeType:     stored.MimeType,
			Size:         stored.Size,
			Indexing:     s.enqueue(r.Context(), job),
		}
		writeJSON(w, http.StatusAccepted, resp)
		return
	}
}

func (s *Server) enqueue(ctx context.Context, job rag.IndexJob) string {
	if !s.rag.IsEnabled() || s.queue == nil {
		return IndexingDisabled
	}
	if !s.queue.Enqueue(job) {
		s.log(ctx).Warn("index queue full, file stored without indexing", zap.String("file_id", job.FileID))
		return IndexingDropped
	}
	return IndexingQueued
}

func (s *Server) writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		writeError(w, http.StatusRequestEntityTooLarge, ErrorCodeFileTooLarge,
			fmt.Sprintf("upload exceeds %d bytes", s.maxUploadBytes))
		return
	}
	s.handleDomainError(w, r, err)
}

// DeleteFile handles DELETE /v1/files/{fileID}.
func (s *Server) DeleteFile(w http.ResponseWriter, r *http.Request, fileID string) {
	if _, err := s.files.Lookup(fileID); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	s.rag.DeleteFileIndex(r.Context(), fileID)
	if err := s.files.Delete(fileID); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// IndexFile handles POST /v1/files/{fileID}/index: a synchronous re-index.
func (s *Server) IndexFile(w http.ResponseWriter, r *http.Request, fileID string) {
	if !s.rag.IsEnabled() {
		writeError(w, http.StatusConflict, ErrorCodeBadRequest, "rag is disabled")
		return
	}
	stored, err := s.files.Lookup(fileID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	ctx, usage := domain.NewContextWithUsage(r.Context())
	n, err := s.rag.IndexFile(ctx, fileID, stored.Path, stored.MimeType, stored.OriginalName)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, IndexResponse{FileID: fileID, Chunks: n})
}

// SearchDocuments handles GET /v1/search.
func (s *Server) SearchDocuments(w http.ResponseWriter, r *http.Request, params SearchParams) {
	query := strings.TrimSpace(params.Q)
	if query == "" {
		writeError(w, http.StatusBadRequest, ErrorCodeValidationFailed, "q must not be empty")
		return
	}
	limit := 0
	if params.Limit != nil {
		limit = *params.Limit
		if limit < 1 || limit > maxSearchLimit {
			writeError(w, http.StatusBadRequest, ErrorCodeValidationFailed,
				fmt.Sprintf("limit must be between 1 and %d", maxSearchLimit))
			return
		}
	}
	var filter domain.Filter
	if params.FileID != nil {
		filter.FileID = strings.TrimSpace(*params.FileID)
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	results := s.rag.Search(ctx, query, filter, limit)
	setEmbeddingHeaders(w, usage)
	if results == nil {
		results = []domain.SearchResult{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Query: query, Results: results})
}

// Chat handles POST /v1/chat.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	var body ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	resp, err := s.chat.Chat(ctx, chat.Request{
		Provider:     body.Provider,
		Model:        body.Model,
		Messages:     body.Messages,
		SystemPrompt: body.SystemPrompt,
		UseRAG:       body.UseRAG,
		FileID:       body.FileID,
	})
	setEmbeddingHeaders(w, usage)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{
		Content:  resp.Content,
		Provider: resp.Provider,
		Model:    resp.Model,
		Usage:    resp.Usage,
		Sources:  resp.Sources,
	})
}

// GetRAGStats handles GET /v1/rag/stats.
func (s *Server) GetRAGStats(w http.ResponseWriter, r *http.Request) {
	stats := s.rag.GetStats(r.Context())
	resp := StatsResponse{Enabled: stats.Enabled, TotalDocuments: stats.TotalDocuments}
	if s.store != nil {
		resp.VectorStore = s.store.Name()
		resp.Available = s.store.Available()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	status := http.StatusOK
	if report.Status == health.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, HealthResponse{Status: string(report.Status), Checks: checks})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) log(ctx context.Context) *zap.Logger {
	return logger.OrDefault(ctx, s.logger)
}

func setEmbeddingHeaders(w http.ResponseWriter, usage *domain.EmbeddingUsage) {
	if usage == nil || !usage.Used {
		return
	}
	w.Header().Set("X-Embedding-Tokens", strconv.Itoa(usage.TotalTokens))
	if usage.Fallback {
		w.Header().Set("X-Embedding-Fallback", "true")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
