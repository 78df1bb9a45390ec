package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest signals a malformed caller request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnsupportedFileType signals a file format the extractor cannot read.
	ErrUnsupportedFileType = errors.New("unsupported file type")
	// ErrExtractionFailed signals a parser failure for a supported format.
	ErrExtractionFailed = errors.New("text extraction failed")
	// ErrFileTooLarge signals a document above the configured size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrUnknownProvider signals a provider name outside the supported set.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrMissingCredentials signals that the selected provider has no API key configured.
	ErrMissingCredentials = errors.New("missing provider credentials")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrModelLoading signals that a hosted model is still warming up.
	ErrModelLoading = errors.New("model is loading")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")

	// ErrChunkCountMismatch signals that a provider returned a different number of vectors than chunks.
	ErrChunkCountMismatch = errors.New("chunk and embedding count mismatch")
	// ErrStoreUnavailable signals that the vector store could not be initialized.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrGenerationFailed signals a failed chat completion.
	ErrGenerationFailed = errors.New("generation failed")
	// ErrAllModelsFailed signals an exhausted model fallback chain.
	ErrAllModelsFailed = errors.New("all candidate models failed")
)

// ProviderError tags a generation failure with the backend and model that produced it.
type ProviderError struct {
	Provider   string
	Model      string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s/%s: HTTP %d: %v", e.Provider, e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s/%s: %v", e.Provider, e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
