package chunk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/ragchat/internal/db"
	"github.com/kailas-cloud/ragchat/internal/domain"
)

const (
	defaultKeyPrefix  = "ragchat:"
	defaultCollection = "documents"
	defaultHNSWM      = 16
	defaultHNSWEF     = 200
	// maxUpsertBatch caps a single MULTI/EXEC transaction.
	maxUpsertBatch = 500
	// defaultReadyTimeout applies when Init gets a context without deadline.
	defaultReadyTimeout = 30 * time.Second
)

// store is the consumer interface for chunk records (ISP).
type store interface {
	Ping(ctx context.Context) error
	WaitForReady(ctx context.Context, timeout time.Duration) error
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	Del(ctx context.Context, keys ...string) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchKeys(ctx context.Context, q *db.KeyQuery) ([]string, error)
	SearchCount(ctx context.Context, q *db.KeyQuery) (int, error)
}

// Config describes the collection a Repo writes to.
type Config struct {
	// Name is reported by Name(), "redis" or "valkey".
	Name       string
	KeyPrefix  string
	Collection string
	Dimensions int
	HNSWM      int
	HNSWEF     int
}

// Repo stores chunk records as Redis hashes under a RediSearch HNSW index.
type Repo struct {
	store store
	cfg   Config
}

// New creates a chunk repository.
func New(s store, cfg Config) *Repo {
	if cfg.Name == "" {
		cfg.Name = "redis"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if cfg.Collection == "" {
		cfg.Collection = defaultCollection
	}
	if cfg.HNSWM <= 0 {
		cfg.HNSWM = defaultHNSWM
	}
	if cfg.HNSWEF <= 0 {
		cfg.HNSWEF = defaultHNSWEF
	}
	return &Repo{store: s, cfg: cfg}
}

// Name identifies the backend in logs and metrics.
func (r *Repo) Name() string { return r.cfg.Name }

// Ping checks connectivity.
func (r *Repo) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// Init waits for the server to answer, then creates the vector index if it
// does not exist yet. The wait is bounded by ctx's deadline.
func (r *Repo) Init(ctx context.Context) error {
	if r.cfg.Dimensions <= 0 {
		return fmt.Errorf("init %s index: dimensions must be positive, got %d", r.cfg.Name, r.cfg.Dimensions)
	}

	timeout := defaultReadyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := r.store.WaitForReady(ctx, timeout); err != nil {
		return fmt.Errorf("wait for %s: %w", r.cfg.Name, err)
	}

	name := r.indexName()
	exists, err := r.store.IndexExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check index %s: %w", name, err)
	}
	if exists {
		return nil
	}

	def, err := db.NewIndex(name).
		Prefix(r.keyPrefix()).
		Tag(fieldFileID).
		Numeric(fieldChunkIndex).
		VectorHNSW(fieldVector, r.cfg.Dimensions, db.DistanceCosine, r.cfg.HNSWM, r.cfg.HNSWEF).
		Build()
	if err != nil {
		return fmt.Errorf("build index %s: %w", name, err)
	}

	// Another replica may have created it between the check and now.
	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	return nil
}

// Upsert writes records in MULTI/EXEC batches. Existing ids are overwritten.
func (r *Repo) Upsert(ctx context.Context, records []domain.Record) error {
	for start := 0; start < len(records); start += maxUpsertBatch {
		end := min(start+maxUpsertBatch, len(records))
		items := make([]db.HashSetItem, 0, end-start)
		for _, rec := range records[start:end] {
			if rec.ID == "" {
				return fmt.Errorf("upsert chunk: empty id: %w", domain.ErrInvalidRequest)
			}
			if len(rec.Vector) != r.cfg.Dimensions {
				return fmt.Errorf("upsert chunk %s: got %d, want %d: %w",
					rec.ID, len(rec.Vector), r.cfg.Dimensions, domain.ErrVectorDimMismatch)
			}
			items = append(items, db.HashSetItem{Key: r.recordKey(rec.ID), Fields: buildHashFields(rec)})
		}
		if err := r.store.HSetMulti(ctx, items); err != nil {
			return fmt.Errorf("upsert chunks: %w", err)
		}
	}
	return nil
}

// Query runs a KNN search, optionally prefiltered by file id.
func (r *Repo) Query(
	ctx context.Context, vector []float32, topK int, filter domain.Filter,
) ([]domain.QueryHit, error) {
	if topK <= 0 || len(vector) == 0 {
		return nil, nil
	}

	res, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.indexName(),
		VectorField:  fieldVector,
		Tags:         r.tags(filter),
		Vector:       vector,
		K:            topK,
		ReturnFields: returnFields,
	})
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}

	hits := make([]domain.QueryHit, 0, len(res.Entries))
	for _, e := range res.Entries {
		hit, err := parseHit(r.recordID(e.Key), e.Distance, e.Fields)
		if err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// DeleteByFile removes every chunk of fileID and returns how many were deleted.
func (r *Repo) DeleteByFile(ctx context.Context, fileID string) (int, error) {
	if fileID == "" {
		return 0, fmt.Errorf("delete by file: empty file id: %w", domain.ErrInvalidRequest)
	}

	keys, err := r.store.SearchKeys(ctx, r.keyQuery(domain.Filter{FileID: fileID}))
	if err != nil {
		return 0, fmt.Errorf("find chunks of %s: %w", fileID, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := r.store.Del(ctx, keys...); err != nil {
		return 0, fmt.Errorf("delete chunks of %s: %w", fileID, err)
	}
	return len(keys), nil
}

// Count returns the number of chunk records in the collection.
func (r *Repo) Count(ctx context.Context) (int, error) {
	n, err := r.store.SearchCount(ctx, r.keyQuery(domain.Filter{}))
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

func (r *Repo) keyQuery(filter domain.Filter) *db.KeyQuery {
	return &db.KeyQuery{
		IndexName: r.indexName(),
		Prefix:    r.keyPrefix(),
		Tags:      r.tags(filter),
	}
}

func (r *Repo) tags(filter domain.Filter) []db.TagFilter {
	if filter.IsEmpty() {
		return nil
	}
	return []db.TagFilter{{Field: fieldFileID, Value: filter.FileID}}
}

// keyPrefix = "ragchat:documents:"
func (r *Repo) keyPrefix() string {
	return r.cfg.KeyPrefix + r.cfg.Collection + ":"
}

func (r *Repo) recordKey(id string) string {
	return r.keyPrefix() + id
}

func (r *Repo) recordID(key string) string {
	return strings.TrimPrefix(key, r.keyPrefix())
}

// indexName = "ragchat:documents:idx"
func (r *Repo) indexName() string {
	return r.cfg.KeyPrefix + r.cfg.Collection + ":idx"
}
