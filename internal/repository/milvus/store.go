package milvus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

// Field names of the chunk collection.
const (
	fieldID           = "id"
	fieldFileID       = "file_id"
	fieldChunkIndex   = "chunk_index"
	fieldOriginalName = "original_name"
	fieldStartChar    = "start_char"
	fieldEndChar      = "end_char"
	fieldContent      = "content"
	fieldVector       = "vector"

	countField = "count(*)"
)

const (
	defaultCollection = "ragchat_documents"
	idMaxLength       = "512"
	nameMaxLength     = "1024"
	contentMaxLength  = "65535"
	hnswM             = 16
	hnswEF            = 200
)

var outputFields = []string{
	fieldFileID, fieldChunkIndex, fieldOriginalName, fieldStartChar, fieldEndChar, fieldContent,
}

// Config holds the Milvus connection and collection settings.
type Config struct {
	Address    string
	Username   string
	Password   string
	Collection string
	Dimensions int
}

// Store keeps chunk records in a Milvus collection with a COSINE HNSW index.
// The client connects lazily in Init.
type Store struct {
	cfg    Config
	client *milvusclient.Client
}

// New creates a Milvus-backed store. No network calls are made until Init.
func New(cfg Config) *Store {
	if cfg.Collection == "" {
		cfg.Collection = defaultCollection
	}
	return &Store{cfg: cfg}
}

// Name identifies the backend in logs and metrics.
func (s *Store) Name() string { return "milvus" }

// Init connects and makes sure the collection exists, is indexed and loaded.
func (s *Store) Init(ctx context.Context) error {
	if s.cfg.Dimensions <= 0 {
		return fmt.Errorf("init milvus: dimensions must be positive, got %d", s.cfg.Dimensions)
	}
	if s.client == nil {
		c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
			Address:  s.cfg.Address,
			Username: s.cfg.Username,
			Password: s.cfg.Password,
		})
		if err != nil {
			return fmt.Errorf("connect to milvus at %s: %w", s.cfg.Address, err)
		}
		s.client = c
	}

	coll := s.cfg.Collection
	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(coll))
	if err != nil {
		return fmt.Errorf("check collection %s: %w", coll, err)
	}
	if !exists {
		if err := s.createCollection(ctx); err != nil {
			return err
		}
	}

	task, err := s.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(coll))
	if err != nil {
		return fmt.Errorf("load collection %s: %w", coll, err)
	}
	if err := task.Await(ctx); err != nil {
		return fmt.Errorf("await load of %s: %w", coll, err)
	}
	return nil
}

func (s *Store) createCollection(ctx context.Context) error {
	coll := s.cfg.Collection
	createOpt := milvusclient.NewCreateCollectionOption(coll, chunkSchema(coll, s.cfg.Dimensions))
	if err := s.client.CreateCollection(ctx, createOpt); err != nil {
		return fmt.Errorf("create collection %s: %w", coll, err)
	}

	idx := index.NewHNSWIndex(entity.COSINE, hnswM, hnswEF)
	task, err := s.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(coll, fieldVector, idx))
	if err != nil {
		return fmt.Errorf("create index on %s.%s: %w", coll, fieldVector, err)
	}
	if err := task.Await(ctx); err != nil {
		return fmt.Errorf("await index on %s.%s: %w", coll, fieldVector, err)
	}
	return nil
}

func chunkSchema(coll string, dim int) *entity.Schema {
	varchar := func(name, maxLen string) *entity.Field {
		return &entity.Field{
			Name:       name,
			DataType:   entity.FieldTypeVarChar,
			TypeParams: map[string]string{"max_length": maxLen},
		}
	}
	id := varchar(fieldID, idMaxLength)
	id.PrimaryKey = true

	return &entity.Schema{
		CollectionName: coll,
		Description:    "Document chunks for retrieval",
		Fields: []*entity.Field{
			id,
			varchar(fieldFileID, idMaxLength),
			{Name: fieldChunkIndex, DataType: entity.FieldTypeInt64},
			varchar(fieldOriginalName, nameMaxLength),
			{Name: fieldStartChar, DataType: entity.FieldTypeInt64},
			{Name: fieldEndChar, DataType: entity.FieldTypeInt64},
			varchar(fieldContent, contentMaxLength),
			{
				Name:       fieldVector,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(dim)},
			},
		},
	}
}

// Upsert writes records by primary key; existing ids are replaced.
func (s *Store) Upsert(ctx context.Context, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	if s.client == nil {
		return errNotInitialized
	}
	cols, err := newColumns(records, s.cfg.Dimensions)
	if err != nil {
		return err
	}

	opt := milvusclient.NewColumnBasedInsertOption(s.cfg.Collection).
		WithVarcharColumn(fieldID, cols.ids).
		WithVarcharColumn(fieldFileID, cols.fileIDs).
		WithInt64Column(fieldChunkIndex, cols.chunkIndexes).
		WithVarcharColumn(fieldOriginalName, cols.names).
		WithInt64Column(fieldStartChar, cols.starts).
		WithInt64Column(fieldEndChar, cols.ends).
		WithVarcharColumn(fieldContent, cols.contents).
		WithFloatVectorColumn(fieldVector, s.cfg.Dimensions, cols.vectors)

	if _, err := s.client.Upsert(ctx, opt); err != nil {
		return fmt.Errorf("upsert %d chunks: %w", len(records), err)
	}
	return nil
}

// Query runs an ANN search, optionally filtered by file id.
func (s *Store) Query(
	ctx context.Context, vector []float32, topK int, filter domain.Filter,
) ([]domain.QueryHit, error) {
	if topK <= 0 || len(vector) == 0 {
		return nil, nil
	}
	if s.client == nil {
		return nil, errNotInitialized
	}

	opt := milvusclient.NewSearchOption(s.cfg.Collection, topK, []entity.Vector{entity.FloatVector(vector)}).
		WithANNSField(fieldVector).
		WithOutputFields(outputFields...)
	if expr := filterExpr(filter); expr != "" {
		opt = opt.WithFilter(expr)
	}

	results, err := s.client.Search(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.cfg.Collection, err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return hitsFromResult(results[0])
}

// DeleteByFile removes every chunk of fileID.
func (s *Store) DeleteByFile(ctx context.Context, fileID string) (int, error) {
	if fileID == "" {
		return 0, fmt.Errorf("delete by file: empty file id: %w", domain.ErrInvalidRequest)
	}
	if s.client == nil {
		return 0, errNotInitialized
	}

	res, err := s.client.Delete(ctx, milvusclient.NewDeleteOption(s.cfg.Collection).
		WithExpr(filterExpr(domain.Filter{FileID: fileID})))
	if err != nil {
		return 0, fmt.Errorf("delete chunks of %s: %w", fileID, err)
	}
	return int(res.DeleteCount), nil
}

// Count returns the number of chunk records via a count(*) query.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s.client == nil {
		return 0, errNotInitialized
	}

	rs, err := s.client.Query(ctx, milvusclient.NewQueryOption(s.cfg.Collection).
		WithOutputFields(countField))
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", s.cfg.Collection, err)
	}
	col := rs.GetColumn(countField)
	if col == nil || col.Len() == 0 {
		return 0, nil
	}
	n, err := col.GetAsInt64(0)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", countField, err)
	}
	return int(n), nil
}

// Ping checks that the server answers for the configured collection.
func (s *Store) Ping(ctx context.Context) error {
	if s.client == nil {
		return errNotInitialized
	}
	if _, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(s.cfg.Collection)); err != nil {
		return fmt.Errorf("milvus ping: %w", err)
	}
	return nil
}

// Close releases the client connection.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Close(ctx)
}

var errNotInitialized = errors.New("milvus store is not initialized")

// filterExpr renders a boolean expression for the filter, "" for no filter.
func filterExpr(filter domain.Filter) string {
	if filter.IsEmpty() {
		return ""
	}
	return fieldFileID + ` == "` + escapeString(filter.FileID) + `"`
}

var exprEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func escapeString(s string) string {
	return exprEscaper.Replace(s)
}
