package chi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

// ErrorCode is a machine-readable error identifier.
type ErrorCode string

// Error codes returned in ErrorResponse.
const (
	ErrorCodeBadRequest        ErrorCode = "bad_request"
	ErrorCodeUnauthorized      ErrorCode = "unauthorized"
	ErrorCodeNotFound          ErrorCode = "not_found"
	ErrorCodeValidationFailed  ErrorCode = "validation_failed"
	ErrorCodeUnsupportedFile   ErrorCode = "unsupported_file_type"
	ErrorCodeFileTooLarge      ErrorCode = "file_too_large"
	ErrorCodeExtractionFailed  ErrorCode = "extraction_failed"
	ErrorCodeUnknownProvider   ErrorCode = "unknown_provider"
	ErrorCodeMissingCredential ErrorCode = "missing_credentials"
	ErrorCodeRateLimited       ErrorCode = "rate_limited"
	ErrorCodeEmbeddingProvider ErrorCode = "embedding_provider_error"
	ErrorCodeGenerationFailed  ErrorCode = "generation_failed"
	ErrorCodeStoreUnavailable  ErrorCode = "vector_store_unavailable"
	ErrorCodeInternalError     ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// UploadResponse is returned by POST /v1/files.
type UploadResponse struct {
	FileID       string `json:"file_id"`
	OriginalName string `json:"original_name"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
	// Indexing is "queued", "disabled" or "dropped".
	Indexing string `json:"indexing"`
}

// IndexResponse is returned by POST /v1/files/{fileID}/index.
type IndexResponse struct {
	FileID string `json:"file_id"`
	Chunks int    `json:"chunks"`
}

// SearchParams are the query parameters of GET /v1/search.
type SearchParams struct {
	Q      string  `form:"q" json:"q"`
	FileID *string `form:"file_id,omitempty" json:"file_id,omitempty"`
	Limit  *int    `form:"limit,omitempty" json:"limit,omitempty"`
}

// SearchResponse is returned by GET /v1/search.
type SearchResponse struct {
	Query   string                `json:"query"`
	Results []domain.SearchResult `json:"results"`
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Provider     string           `json:"provider,omitempty"`
	Model        string           `json:"model,omitempty"`
	Messages     []domain.Message `json:"messages"`
	SystemPrompt string           `json:"system_prompt,omitempty"`
	UseRAG       bool             `json:"use_rag,omitempty"`
	FileID       string           `json:"file_id,omitempty"`
}

// ChatResponse is returned by POST /v1/chat.
type ChatResponse struct {
	Content  string                `json:"content"`
	Provider string                `json:"provider"`
	Model    string                `json:"model"`
	Usage    domain.Usage          `json:"usage"`
	Sources  []domain.SearchResult `json:"sources,omitempty"`
}

// StatsResponse is returned by GET /v1/rag/stats.
type StatsResponse struct {
	Enabled        bool   `json:"enabled"`
	TotalDocuments int    `json:"total_documents"`
	VectorStore    string `json:"vector_store,omitempty"`
	Available      bool   `json:"available"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (POST /v1/files)
	UploadFile(w http.ResponseWriter, r *http.Request)
	// (DELETE /v1/files/{fileID})
	DeleteFile(w http.ResponseWriter, r *http.Request, fileID string)
	// (POST /v1/files/{fileID}/index)
	IndexFile(w http.ResponseWriter, r *http.Request, fileID string)
	// (GET /v1/search)
	SearchDocuments(w http.ResponseWriter, r *http.Request, params SearchParams)
	// (POST /v1/chat)
	Chat(w http.ResponseWriter, r *http.Request)
	// (GET /v1/rag/stats)
	GetRAGStats(w http.ResponseWriter, r *http.Request)
	// (GET /health)
	HealthCheck(w http.ResponseWriter, r *http.Request)
	// (GET /metrics)
	Metrics(w http.ResponseWriter, r *http.Request)
}

// InvalidParamFormatError reports a parameter that could not be bound.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error { return e.Err }

// ChiServerOptions configures HandlerWithOptions.
type ChiServerOptions struct {
	BaseRouter       chi.Router
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// serverInterfaceWrapper binds path and query parameters before calling the handler.
type serverInterfaceWrapper struct {
	handler          ServerInterface
	errorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

func (siw *serverInterfaceWrapper) DeleteFile(w http.ResponseWriter, r *http.Request) {
	var fileID string
	err := runtime.BindStyledParameterWithOptions("simple", "fileID", chi.URLParam(r, "fileID"), &fileID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.errorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "fileID", Err: err})
		return
	}
	siw.handler.DeleteFile(w, r, fileID)
}

func (siw *serverInterfaceWrapper) IndexFile(w http.ResponseWriter, r *http.Request) {
	var fileID string
	err := runtime.BindStyledParameterWithOptions("simple", "fileID", chi.URLParam(r, "fileID"), &fileID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.errorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "fileID", Err: err})
		return
	}
	siw.handler.IndexFile(w, r, fileID)
}

func (siw *serverInterfaceWrapper) SearchDocuments(w http.ResponseWriter, r *http.Request) {
	var params SearchParams
	query := r.URL.Query()

	if err := runtime.BindQueryParameter("form", true, true, "q", query, &params.Q); err != nil {
		siw.errorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "q", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "file_id", query, &params.FileID); err != nil {
		siw.errorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "file_id", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &params.Limit); err != nil {
		siw.errorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "limit", Err: err})
		return
	}
	siw.handler.SearchDocuments(w, r, params)
}

// HandlerWithOptions mounts every route of si on options.BaseRouter.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, _ *http.Request, err error) {
			writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, err.Error())
		}
	}
	wrapper := &serverInterfaceWrapper{handler: si, errorHandlerFunc: options.ErrorHandlerFunc}

	r.Post("/v1/files", si.UploadFile)
	r.Delete("/v1/files/{fileID}", wrapper.DeleteFile)
	r.Post("/v1/files/{fileID}/index", wrapper.IndexFile)
	r.Get("/v1/search", wrapper.SearchDocuments)
	r.Post("/v1/chat", si.Chat)
	r.Get("/v1/rag/stats", si.GetRAGStats)
	r.Get("/health", si.HealthCheck)
	r.Get("/metrics", si.Metrics)
	return r
}
