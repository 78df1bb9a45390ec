package chunk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/ragchat/internal/db"
	"github.com/kailas-cloud/ragchat/internal/domain"
)

// --- Init ---

func TestInit_CreatesIndex(t *testing.T) {
	repo, ms := newTestRepo(t)

	var created *db.IndexDefinition
	ms.createIndexFn = func(_ context.Context, def *db.IndexDefinition) error {
		created = def
		return nil
	}

	if err := repo.Init(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created == nil {
		t.Fatal("expected CreateIndex to be called")
	}
	if created.Name != "ragchat:documents:idx" {
		t.Errorf("index name = %q", created.Name)
	}
	if len(created.Prefixes) != 1 || created.Prefixes[0] != "ragchat:documents:" {
		t.Errorf("prefixes = %v", created.Prefixes)
	}
	want := "FT.CREATE ragchat:documents:idx ON HASH PREFIX ragchat:documents: " +
		"SCHEMA file_id TAG chunk_index NUMERIC vector VECTOR HNSW"
	if got := created.String(); got != want {
		t.Errorf("definition = %q, want %q", got, want)
	}
}

func TestInit_ExistingIndex(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.indexExistsFn = func(_ context.Context, _ string) (bool, error) { return true, nil }
	ms.createIndexFn = func(_ context.Context, _ *db.IndexDefinition) error {
		t.Error("CreateIndex must not be called for an existing index")
		return nil
	}

	if err := repo.Init(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestInit_CreateRace(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.createIndexFn = func(_ context.Context, _ *db.IndexDefinition) error {
		return &db.Error{Op: db.OpCreateIndex, Err: db.ErrIndexExists}
	}

	if err := repo.Init(context.Background()); err != nil {
		t.Fatalf("concurrent create should be tolerated, got %v", err)
	}
}

func TestInit_WaitsForServerWithinDeadline(t *testing.T) {
	repo, ms := newTestRepo(t)

	var order []string
	var gotTimeout time.Duration
	ms.waitFn = func(_ context.Context, timeout time.Duration) error {
		order = append(order, "wait")
		gotTimeout = timeout
		return nil
	}
	ms.indexExistsFn = func(_ context.Context, _ string) (bool, error) {
		order = append(order, "exists")
		return false, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := repo.Init(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "wait" {
		t.Errorf("expected wait before FT.INFO, got %v", order)
	}
	if gotTimeout <= 0 || gotTimeout > 5*time.Second {
		t.Errorf("timeout = %v, want within the context deadline", gotTimeout)
	}
}

func TestInit_ServerNotReady(t *testing.T) {
	repo, ms := newTestRepo(t)
	notReady := errors.New("timeout waiting for database")
	ms.waitFn = func(_ context.Context, _ time.Duration) error { return notReady }
	ms.indexExistsFn = func(_ context.Context, _ string) (bool, error) {
		t.Error("FT.INFO must not run before the server is ready")
		return false, nil
	}

	if err := repo.Init(context.Background()); !errors.Is(err, notReady) {
		t.Errorf("expected wrapped wait error, got %v", err)
	}
}

func TestInit_Errors(t *testing.T) {
	down := errors.New("connection refused")

	repo, ms := newTestRepo(t)
	ms.indexExistsFn = func(_ context.Context, _ string) (bool, error) { return false, down }
	if err := repo.Init(context.Background()); !errors.Is(err, down) {
		t.Errorf("expected wrapped store error, got %v", err)
	}

	noDims := New(&mockStore{}, Config{})
	if err := noDims.Init(context.Background()); err == nil {
		t.Error("expected error for zero dimensions")
	}
}

// --- Upsert ---

func TestUpsert_SingleTransaction(t *testing.T) {
	repo, ms := newTestRepo(t)

	calls := 0
	ms.hsetMultiFn = func(_ context.Context, items []db.HashSetItem) error {
		calls++
		if len(items) != 2 {
			t.Fatalf("expected 2 items, got %d", len(items))
		}
		if items[0].Key != "ragchat:documents:f1_0" || items[1].Key != "ragchat:documents:f1_1" {
			t.Errorf("unexpected keys: %s, %s", items[0].Key, items[1].Key)
		}
		f := items[1].Fields
		if f[fieldFileID] != "f1" || f[fieldChunkIndex] != "1" || f[fieldStartChar] != "10" || f[fieldEndChar] != "20" {
			t.Errorf("unexpected fields: %v", f)
		}
		if len(f[fieldVector]) != 12 {
			t.Errorf("vector blob length = %d, want 12", len(f[fieldVector]))
		}
		return nil
	}

	err := repo.Upsert(context.Background(), []domain.Record{testRecord("f1", 0), testRecord("f1", 1)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 HSetMulti call, got %d", calls)
	}
}

func TestUpsert_Batches(t *testing.T) {
	repo, ms := newTestRepo(t)

	var sizes []int
	ms.hsetMultiFn = func(_ context.Context, items []db.HashSetItem) error {
		sizes = append(sizes, len(items))
		return nil
	}

	records := make([]domain.Record, maxUpsertBatch+3)
	for i := range records {
		records[i] = testRecord("big", i)
	}
	if err := repo.Upsert(context.Background(), records); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sizes) != 2 || sizes[0] != maxUpsertBatch || sizes[1] != 3 {
		t.Errorf("batch sizes = %v", sizes)
	}
}

func TestUpsert_DimensionMismatch(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.hsetMultiFn = func(_ context.Context, _ []db.HashSetItem) error {
		t.Error("nothing should be written")
		return nil
	}

	rec := testRecord("f1", 0)
	rec.Vector = []float32{1}
	err := repo.Upsert(context.Background(), []domain.Record{rec})
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Errorf("expected ErrVectorDimMismatch, got %v", err)
	}
}

func TestUpsert_StoreError(t *testing.T) {
	repo, ms := newTestRepo(t)
	execErr := &db.Error{Op: db.OpExec, Err: errors.New("EXECABORT")}
	ms.hsetMultiFn = func(_ context.Context, _ []db.HashSetItem) error { return execErr }

	err := repo.Upsert(context.Background(), []domain.Record{testRecord("f1", 0)})
	var dbErr *db.Error
	if !errors.As(err, &dbErr) || dbErr.Op != db.OpExec {
		t.Errorf("expected db.Error EXEC, got %v", err)
	}
}

// --- Query ---

func TestQuery_FilterAndParse(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.searchKNNFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		if q.IndexName != "ragchat:documents:idx" || q.K != 2 {
			t.Errorf("unexpected query: %+v", q)
		}
		if len(q.Tags) != 1 || q.Tags[0].Field != fieldFileID || q.Tags[0].Value != "f1" {
			t.Errorf("unexpected tags: %v", q.Tags)
		}
		return &db.SearchResult{
			Total: 1,
			Entries: []db.SearchEntry{{
				Key:      "ragchat:documents:f1_3",
				Distance: 0.25,
				Fields: map[string]string{
					fieldContent:      "hello",
					fieldFileID:       "f1",
					fieldChunkIndex:   "3",
					fieldOriginalName: "a.txt",
					fieldStartChar:    "30",
					fieldEndChar:      "35",
				},
			}},
		}, nil
	}

	hits, err := repo.Query(context.Background(), []float32{1, 0, 0}, 2, domain.Filter{FileID: "f1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	h := hits[0]
	if h.ID != "f1_3" || h.Text != "hello" || h.Distance != 0.25 {
		t.Errorf("unexpected hit: %+v", h)
	}
	if h.Metadata.ChunkIndex != 3 || h.Metadata.StartChar != 30 || h.Metadata.EndChar != 35 || h.Metadata.OriginalName != "a.txt" {
		t.Errorf("unexpected metadata: %+v", h.Metadata)
	}
}

func TestQuery_NoFilter(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchKNNFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		if len(q.Tags) != 0 {
			t.Errorf("expected no tags, got %v", q.Tags)
		}
		return &db.SearchResult{}, nil
	}

	hits, err := repo.Query(context.Background(), []float32{1, 0, 0}, 5, domain.Filter{})
	if err != nil || len(hits) != 0 {
		t.Errorf("expected empty result, got %v, %v", hits, err)
	}
}

func TestQuery_BadField(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchKNNFn = func(_ context.Context, _ *db.KNNQuery) (*db.SearchResult, error) {
		return &db.SearchResult{Entries: []db.SearchEntry{{
			Key:    "ragchat:documents:x_0",
			Fields: map[string]string{fieldChunkIndex: "zero"},
		}}}, nil
	}

	if _, err := repo.Query(context.Background(), []float32{1, 0, 0}, 1, domain.Filter{}); err == nil {
		t.Error("expected parse error")
	}
}

func TestQuery_ZeroTopK(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchKNNFn = func(_ context.Context, _ *db.KNNQuery) (*db.SearchResult, error) {
		t.Error("store must not be queried")
		return nil, nil
	}

	hits, err := repo.Query(context.Background(), []float32{1}, 0, domain.Filter{})
	if err != nil || hits != nil {
		t.Errorf("expected nil, nil; got %v, %v", hits, err)
	}
}

// --- DeleteByFile ---

func TestDeleteByFile(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchKeysFn = func(_ context.Context, q *db.KeyQuery) ([]string, error) {
		if q.Prefix != "ragchat:documents:" || len(q.Tags) != 1 || q.Tags[0].Value != "f1" {
			t.Errorf("unexpected key query: %+v", q)
		}
		return []string{"ragchat:documents:f1_0", "ragchat:documents:f1_1"}, nil
	}
	var deleted []string
	ms.delFn = func(_ context.Context, keys ...string) error {
		deleted = keys
		return nil
	}

	n, err := repo.DeleteByFile(context.Background(), "f1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 || len(deleted) != 2 {
		t.Errorf("deleted %d (%v), want 2", n, deleted)
	}
}

func TestDeleteByFile_NothingToDelete(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.delFn = func(_ context.Context, _ ...string) error {
		t.Error("Del must not be called")
		return nil
	}

	n, err := repo.DeleteByFile(context.Background(), "missing")
	if err != nil || n != 0 {
		t.Errorf("expected 0, nil; got %d, %v", n, err)
	}
}

func TestDeleteByFile_EmptyID(t *testing.T) {
	repo, _ := newTestRepo(t)
	if _, err := repo.DeleteByFile(context.Background(), ""); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

// --- Count ---

func TestCount(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchCountFn = func(_ context.Context, q *db.KeyQuery) (int, error) {
		if len(q.Tags) != 0 {
			t.Errorf("count must not be filtered: %v", q.Tags)
		}
		return 42, nil
	}

	n, err := repo.Count(context.Background())
	if err != nil || n != 42 {
		t.Errorf("expected 42, nil; got %d, %v", n, err)
	}
}

func TestNew_Defaults(t *testing.T) {
	repo := New(&mockStore{}, Config{Name: "valkey", KeyPrefix: "app:", Collection: "kb", Dimensions: 8})
	if repo.Name() != "valkey" {
		t.Errorf("name = %q", repo.Name())
	}
	if repo.indexName() != "app:kb:idx" || repo.recordKey("f_0") != "app:kb:f_0" {
		t.Errorf("unexpected naming: %s, %s", repo.indexName(), repo.recordKey("f_0"))
	}
}
