package chunk

import (
	"context"
	"testing"
	"time"

	"github.com/kailas-cloud/ragchat/internal/db"
	"github.com/kailas-cloud/ragchat/internal/domain"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	pingFn        func(ctx context.Context) error
	waitFn        func(ctx context.Context, timeout time.Duration) error
	hsetMultiFn   func(ctx context.Context, items []db.HashSetItem) error
	delFn         func(ctx context.Context, keys ...string) error
	createIndexFn func(ctx context.Context, def *db.IndexDefinition) error
	indexExistsFn func(ctx context.Context, name string) (bool, error)
	searchKNNFn   func(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	searchKeysFn  func(ctx context.Context, q *db.KeyQuery) ([]string, error)
	searchCountFn func(ctx context.Context, q *db.KeyQuery) (int, error)
}

func (m *mockStore) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func (m *mockStore) WaitForReady(ctx context.Context, timeout time.Duration) error {
	if m.waitFn != nil {
		return m.waitFn(ctx, timeout)
	}
	return nil
}

func (m *mockStore) HSetMulti(ctx context.Context, items []db.HashSetItem) error {
	if m.hsetMultiFn != nil {
		return m.hsetMultiFn(ctx, items)
	}
	return nil
}

func (m *mockStore) Del(ctx context.Context, keys ...string) error {
	if m.delFn != nil {
		return m.delFn(ctx, keys...)
	}
	return nil
}

func (m *mockStore) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	if m.createIndexFn != nil {
		return m.createIndexFn(ctx, def)
	}
	return nil
}

func (m *mockStore) IndexExists(ctx context.Context, name string) (bool, error) {
	if m.indexExistsFn != nil {
		return m.indexExistsFn(ctx, name)
	}
	return false, nil
}

func (m *mockStore) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if m.searchKNNFn != nil {
		return m.searchKNNFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func (m *mockStore) SearchKeys(ctx context.Context, q *db.KeyQuery) ([]string, error) {
	if m.searchKeysFn != nil {
		return m.searchKeysFn(ctx, q)
	}
	return nil, nil
}

func (m *mockStore) SearchCount(ctx context.Context, q *db.KeyQuery) (int, error) {
	if m.searchCountFn != nil {
		return m.searchCountFn(ctx, q)
	}
	return 0, nil
}

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	return New(ms, Config{Dimensions: 3}), ms
}

func testRecord(fileID string, idx int) domain.Record {
	return domain.Record{
		ID:     domain.RecordID(fileID, idx),
		Vector: []float32{0.1, 0.2, 0.3},
		Text:   "chunk text",
		Metadata: domain.RecordMetadata{
			FileID:       fileID,
			ChunkIndex:   idx,
			OriginalName: "notes.txt",
			StartChar:    idx * 10,
			EndChar:      idx*10 + 10,
		},
	}
}
