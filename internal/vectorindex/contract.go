package vectorindex

import (
	"context"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

// Backend is a concrete vector store. Implementations live under
// internal/repository and are chosen once in the composition root.
type Backend interface {
	Name() string
	// Init creates the collection/index if missing. Called again after a failure.
	Init(ctx context.Context) error
	Upsert(ctx context.Context, records []domain.Record) error
	// Query returns up to topK hits, nearest first.
	Query(ctx context.Context, vector []float32, topK int, filter domain.Filter) ([]domain.QueryHit, error)
	DeleteByFile(ctx context.Context, fileID string) (int, error)
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}
