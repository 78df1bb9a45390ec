package chi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

// errorHandler writes the response for err if it recognizes it.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// errorMapping is consulted in order; the first sentinel that matches wins.
// ErrRateLimited sits above ErrAllModelsFailed so an exhausted chain caused by
// quota still reads as 429.
var errorMapping = []struct {
	sentinel error
	status   int
	code     ErrorCode
}{
	{domain.ErrNotFound, http.StatusNotFound, ErrorCodeNotFound},
	{domain.ErrInvalidRequest, http.StatusBadRequest, ErrorCodeValidationFailed},
	{domain.ErrUnknownProvider, http.StatusBadRequest, ErrorCodeUnknownProvider},
	{domain.ErrUnsupportedFileType, http.StatusUnsupportedMediaType, ErrorCodeUnsupportedFile},
	{domain.ErrFileTooLarge, http.StatusRequestEntityTooLarge, ErrorCodeFileTooLarge},
	{domain.ErrExtractionFailed, http.StatusUnprocessableEntity, ErrorCodeExtractionFailed},
	{domain.ErrMissingCredentials, http.StatusServiceUnavailable, ErrorCodeMissingCredential},
	{domain.ErrRateLimited, http.StatusTooManyRequests, ErrorCodeRateLimited},
	{domain.ErrModelLoading, http.StatusServiceUnavailable, ErrorCodeEmbeddingProvider},
	{domain.ErrEmbeddingProviderError, http.StatusBadGateway, ErrorCodeEmbeddingProvider},
	{domain.ErrChunkCountMismatch, http.StatusBadGateway, ErrorCodeEmbeddingProvider},
	{domain.ErrVectorDimMismatch, http.StatusBadGateway, ErrorCodeEmbeddingProvider},
	{domain.ErrStoreUnavailable, http.StatusServiceUnavailable, ErrorCodeStoreUnavailable},
	{domain.ErrAllModelsFailed, http.StatusBadGateway, ErrorCodeGenerationFailed},
	{domain.ErrGenerationFailed, http.StatusBadGateway, ErrorCodeGenerationFailed},
}

func defaultErrorHandlers() []errorHandler {
	handlers := make([]errorHandler, 0, len(errorMapping)+1)
	handlers = append(handlers, providerErrorHandler)
	for _, m := range errorMapping {
		handlers = append(handlers, sentinelHandler(m.sentinel, m.status, m.code))
	}
	return handlers
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// providerErrorHandler reports a failed model call together with the provider
// and model that produced it.
func providerErrorHandler(w http.ResponseWriter, err error, msg string) bool {
	var pe *domain.ProviderError
	if !errors.As(err, &pe) || errors.Is(err, domain.ErrAllModelsFailed) {
		return false
	}
	status, code := http.StatusBadGateway, ErrorCodeGenerationFailed
	switch {
	case errors.Is(err, domain.ErrMissingCredentials):
		status, code = http.StatusServiceUnavailable, ErrorCodeMissingCredential
	case pe.StatusCode == http.StatusTooManyRequests || errors.Is(err, domain.ErrRateLimited):
		status, code = http.StatusTooManyRequests, ErrorCodeRateLimited
	}
	writeJSON(w, status, map[string]any{
		"code":     code,
		"message":  msg,
		"provider": pe.Provider,
		"model":    pe.Model,
	})
	return true
}

// safeDomainMessage returns the sentinel message so internals (URLs, keys,
// raw provider bodies) never reach the client.
func safeDomainMessage(err error) string {
	for _, m := range errorMapping {
		if errors.Is(err, m.sentinel) {
			return m.sentinel.Error()
		}
	}
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return domain.ErrGenerationFailed.Error()
	}
	return "internal error"
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := s.log(r.Context())
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			log.Warn("request failed", zap.Error(err))
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal error")
}

// paramErrorHandler is the ChiServerOptions.ErrorHandlerFunc for binding failures.
func paramErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, err.Error())
}
