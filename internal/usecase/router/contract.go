package router

import (
	"context"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

// Backend is one chat provider. Complete uses DefaultModel when model is empty.
type Backend interface {
	Name() string
	DefaultModel() string
	Complete(ctx context.Context, model string, req domain.ChatRequest) (domain.ChatResponse, error)
}
