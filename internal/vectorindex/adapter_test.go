package vectorindex

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

type fakeBackend struct {
	initCalls atomic.Int32
	initDelay time.Duration
	initErr   error

	mu       sync.Mutex
	records  map[string]domain.Record
	queryErr error
	countErr error
	pingErr  error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{records: make(map[string]domain.Record)}
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Init(_ context.Context) error {
	f.initCalls.Add(1)
	if f.initDelay > 0 {
		time.Sleep(f.initDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initErr
}

func (f *fakeBackend) setInitErr(err error) {
	f.mu.Lock()
	f.initErr = err
	f.mu.Unlock()
}

func (f *fakeBackend) Upsert(_ context.Context, records []domain.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range records {
		f.records[r.ID] = r
	}
	return nil
}

func (f *fakeBackend) Query(_ context.Context, _ []float32, topK int, filter domain.Filter) ([]domain.QueryHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var hits []domain.QueryHit
	for _, r := range f.records {
		if !filter.IsEmpty() && r.Metadata.FileID != filter.FileID {
			continue
		}
		hits = append(hits, domain.QueryHit{ID: r.ID, Text: r.Text, Metadata: r.Metadata})
		if len(hits) == topK {
			break
		}
	}
	return hits, nil
}

func (f *fakeBackend) DeleteByFile(_ context.Context, fileID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, r := range f.records {
		if r.Metadata.FileID == fileID {
			delete(f.records, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeBackend) Count(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	return len(f.records), nil
}

func (f *fakeBackend) Ping(_ context.Context) error { return f.pingErr }

func record(fileID string, idx int) domain.Record {
	return domain.Record{
		ID:       domain.RecordID(fileID, idx),
		Vector:   []float32{1, 0},
		Text:     "text",
		Metadata: domain.RecordMetadata{FileID: fileID, ChunkIndex: idx},
	}
}

func TestIndex_LazyInit(t *testing.T) {
	fb := newFakeBackend()
	ix := New(fb, zap.NewNop())

	if fb.initCalls.Load() != 0 {
		t.Fatal("New must not call Init")
	}
	if ix.Available() {
		t.Fatal("expected not available before first use")
	}

	ctx := context.Background()
	if err := ix.Upsert(ctx, []domain.Record{record("a", 0), record("a", 1)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ix.Count(ctx); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}
	if fb.initCalls.Load() != 1 {
		t.Errorf("Init called %d times, want 1", fb.initCalls.Load())
	}
	if !ix.Available() {
		t.Error("expected available after successful init")
	}
}

func TestIndex_SingleFlightInit(t *testing.T) {
	fb := newFakeBackend()
	fb.initDelay = 50 * time.Millisecond
	ix := New(fb, zap.NewNop())

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ix.Count(context.Background())
		}()
	}
	wg.Wait()

	if got := fb.initCalls.Load(); got != 1 {
		t.Errorf("Init called %d times, want 1", got)
	}
}

func TestIndex_Degraded(t *testing.T) {
	fb := newFakeBackend()
	fb.initErr = errors.New("connection refused")
	ix := New(fb, zap.NewNop())
	ctx := context.Background()

	if hits := ix.Query(ctx, []float32{1, 0}, 5, domain.Filter{}); len(hits) != 0 {
		t.Errorf("expected empty query, got %v", hits)
	}
	if got := ix.Count(ctx); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
	if err := ix.Upsert(ctx, []domain.Record{record("a", 0)}); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("Upsert: expected ErrStoreUnavailable, got %v", err)
	}
	if err := ix.DeleteByFile(ctx, "a"); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("DeleteByFile: expected ErrStoreUnavailable, got %v", err)
	}
	if err := ix.Ping(ctx); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("Ping: expected ErrStoreUnavailable, got %v", err)
	}
	// Cooldown: one attempt only.
	if got := fb.initCalls.Load(); got != 1 {
		t.Errorf("Init called %d times within cooldown, want 1", got)
	}
}

func TestIndex_RetryAfterCooldown(t *testing.T) {
	fb := newFakeBackend()
	fb.initErr = errors.New("not ready")
	ix := New(fb, zap.NewNop(), WithInitRetry(time.Minute))

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ix.now = func() time.Time { return now }
	ctx := context.Background()

	ix.Count(ctx)
	fb.setInitErr(nil)

	now = now.Add(30 * time.Second)
	ix.Count(ctx)
	if got := fb.initCalls.Load(); got != 1 {
		t.Fatalf("Init called %d times before cooldown elapsed, want 1", got)
	}

	now = now.Add(31 * time.Second)
	if err := ix.Upsert(ctx, []domain.Record{record("a", 0)}); err != nil {
		t.Fatalf("expected recovery after cooldown, got %v", err)
	}
	if got := fb.initCalls.Load(); got != 2 {
		t.Errorf("Init called %d times, want 2", got)
	}
	if !ix.Available() {
		t.Error("expected available after recovery")
	}
}

func TestIndex_QueryErrorDegrades(t *testing.T) {
	fb := newFakeBackend()
	fb.queryErr = errors.New("timeout")
	fb.countErr = errors.New("timeout")
	ix := New(fb, zap.NewNop())

	if hits := ix.Query(context.Background(), []float32{1}, 3, domain.Filter{}); hits != nil {
		t.Errorf("expected nil hits, got %v", hits)
	}
	if got := ix.Count(context.Background()); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
}

func TestIndex_DeleteByFile(t *testing.T) {
	fb := newFakeBackend()
	ix := New(fb, zap.NewNop())
	ctx := context.Background()

	_ = ix.Upsert(ctx, []domain.Record{record("a", 0), record("a", 1), record("b", 0)})
	if err := ix.DeleteByFile(ctx, "a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ix.Count(ctx); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
	hits := ix.Query(ctx, []float32{1, 0}, 5, domain.Filter{FileID: "b"})
	if len(hits) != 1 || hits[0].Metadata.FileID != "b" {
		t.Errorf("unexpected hits: %v", hits)
	}
}

func TestIndex_UpsertEmpty(t *testing.T) {
	fb := newFakeBackend()
	ix := New(fb, zap.NewNop())
	if err := ix.Upsert(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fb.initCalls.Load() != 0 {
		t.Error("empty upsert must not trigger init")
	}
}

func TestIndex_PingBackendError(t *testing.T) {
	fb := newFakeBackend()
	fb.pingErr = errors.New("i/o timeout")
	ix := New(fb, zap.NewNop())

	err := ix.Ping(context.Background())
	if !errors.Is(err, domain.ErrStoreUnavailable) || !errors.Is(err, fb.pingErr) {
		t.Errorf("expected ErrStoreUnavailable joined with ping error, got %v", err)
	}
}
