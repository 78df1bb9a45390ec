package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

// parseEmbeddingError extracts a human-readable error from the API response.
// All errors are wrapped with domain.ErrEmbeddingProviderError for correct 502 mapping.
func parseEmbeddingError(err error) error {
	wrap := domain.ErrEmbeddingProviderError
	status, detail := statusAndDetail(err)
	if status == http.StatusTooManyRequests {
		return fmt.Errorf("embedding API error %d: %s: %w: %w", status, detail, domain.ErrRateLimited, wrap)
	}
	if status > 0 {
		return fmt.Errorf("embedding API error %d: %s: %w", status, detail, wrap)
	}
	return fmt.Errorf("embedding request failed: %w: %w", err, wrap)
}

// parseChatError tags a completion failure with backend, model and HTTP status
// so the router can decide whether the next candidate model is worth trying.
func parseChatError(provider, model string, err error) error {
	status, detail := statusAndDetail(err)
	if status == 0 {
		return &domain.ProviderError{Provider: provider, Model: model, Err: err}
	}
	inner := errors.New(detail)
	if status == http.StatusTooManyRequests {
		inner = fmt.Errorf("%s: %w", detail, domain.ErrRateLimited)
	}
	return &domain.ProviderError{Provider: provider, Model: model, StatusCode: status, Err: inner}
}

func statusAndDetail(err error) (int, string) {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if detail := extractDetail(reqErr.Body); detail != "" {
			return reqErr.HTTPStatusCode, detail
		}
		return reqErr.HTTPStatusCode, string(reqErr.Body)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, apiErr.Message
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return 0, "timeout"
	}
	return 0, err.Error()
}

// extractDetail reads {"detail": ...} and {"error": {"message": ...}} error bodies.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
		Error  struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) != nil {
		return ""
	}
	if parsed.Detail != "" {
		return parsed.Detail
	}
	return parsed.Error.Message
}
