package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/ragchat/internal/domain"
	"github.com/kailas-cloud/ragchat/internal/metrics"
)

const (
	// DefaultInitRetry is the cooldown before a failed init is attempted again.
	DefaultInitRetry   = 30 * time.Second
	defaultInitTimeout = 30 * time.Second
)

// Index wraps a Backend with lazy, single-flight initialization and graceful
// degradation. Reads never fail: an unavailable store answers empty.
type Index struct {
	backend     Backend
	logger      *zap.Logger
	retryAfter  time.Duration
	initTimeout time.Duration
	now         func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	ready    bool
	lastErr  error
	failedAt time.Time
}

// Option configures an Index.
type Option func(*Index)

// WithInitRetry sets the cooldown after a failed init. Zero retries on every call.
func WithInitRetry(d time.Duration) Option {
	return func(ix *Index) { ix.retryAfter = d }
}

// WithInitTimeout bounds a single init attempt.
func WithInitTimeout(d time.Duration) Option {
	return func(ix *Index) {
		if d > 0 {
			ix.initTimeout = d
		}
	}
}

// New creates an Index. No backend call is made until first use.
func New(backend Backend, logger *zap.Logger, opts ...Option) *Index {
	ix := &Index{
		backend:     backend,
		logger:      logger,
		retryAfter:  DefaultInitRetry,
		initTimeout: defaultInitTimeout,
		now:         time.Now,
	}
	for _, o := range opts {
		o(ix)
	}
	return ix
}

// Name returns the backend name.
func (ix *Index) Name() string { return ix.backend.Name() }

// Available reports whether the backend has been initialized successfully.
func (ix *Index) Available() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.ready
}

// ensure initializes the backend once. Concurrent callers share one attempt.
func (ix *Index) ensure(ctx context.Context) error {
	ix.mu.RLock()
	ready, lastErr, failedAt := ix.ready, ix.lastErr, ix.failedAt
	ix.mu.RUnlock()

	if ready {
		return nil
	}
	if lastErr != nil && ix.now().Sub(failedAt) < ix.retryAfter {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, lastErr)
	}

	_, err, _ := ix.group.Do("init", func() (any, error) {
		ix.mu.RLock()
		done := ix.ready
		ix.mu.RUnlock()
		if done {
			return nil, nil
		}

		// A caller's cancellation must not fail the attempt for everyone sharing it.
		initCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ix.initTimeout)
		defer cancel()
		err := ix.backend.Init(initCtx)

		ix.mu.Lock()
		if err != nil {
			ix.lastErr = err
			ix.failedAt = ix.now()
		} else {
			ix.ready = true
			ix.lastErr = nil
		}
		ix.mu.Unlock()

		if err != nil {
			metrics.VectorStoreAvailable.Set(0)
			ix.logger.Error("vector store init failed",
				zap.String("backend", ix.backend.Name()),
				zap.Duration("retry_after", ix.retryAfter),
				zap.Error(err),
			)
			return nil, err
		}
		metrics.VectorStoreAvailable.Set(1)
		ix.logger.Info("vector store ready", zap.String("backend", ix.backend.Name()))
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Upsert writes records. Fails with domain.ErrStoreUnavailable when the store
// cannot be initialized.
func (ix *Index) Upsert(ctx context.Context, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := ix.ensure(ctx); err != nil {
		return err
	}
	if err := ix.backend.Upsert(ctx, records); err != nil {
		return fmt.Errorf("%s upsert: %w", ix.backend.Name(), err)
	}
	return nil
}

// Query returns nearest hits, or nothing when the store is unavailable or errors.
func (ix *Index) Query(ctx context.Context, vector []float32, topK int, filter domain.Filter) []domain.QueryHit {
	if err := ix.ensure(ctx); err != nil {
		ix.logger.Debug("vector query skipped", zap.Error(err))
		return nil
	}
	hits, err := ix.backend.Query(ctx, vector, topK, filter)
	if err != nil {
		ix.logger.Warn("vector query failed",
			zap.String("backend", ix.backend.Name()),
			zap.String("file_id", filter.FileID),
			zap.Error(err),
		)
		return nil
	}
	return hits
}

// DeleteByFile removes every record of fileID.
func (ix *Index) DeleteByFile(ctx context.Context, fileID string) error {
	if err := ix.ensure(ctx); err != nil {
		return err
	}
	n, err := ix.backend.DeleteByFile(ctx, fileID)
	if err != nil {
		return fmt.Errorf("%s delete %s: %w", ix.backend.Name(), fileID, err)
	}
	ix.logger.Debug("deleted file records", zap.String("file_id", fileID), zap.Int("records", n))
	return nil
}

// Count returns the number of stored records, 0 when unavailable.
func (ix *Index) Count(ctx context.Context) int {
	if err := ix.ensure(ctx); err != nil {
		return 0
	}
	n, err := ix.backend.Count(ctx)
	if err != nil {
		ix.logger.Warn("vector count failed", zap.String("backend", ix.backend.Name()), zap.Error(err))
		return 0
	}
	return n
}

// Ping is the health probe. It triggers init if needed.
func (ix *Index) Ping(ctx context.Context) error {
	if err := ix.ensure(ctx); err != nil {
		return err
	}
	if err := ix.backend.Ping(ctx); err != nil {
		return errors.Join(domain.ErrStoreUnavailable, err)
	}
	return nil
}
