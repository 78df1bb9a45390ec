package rag

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragchat/internal/metrics"
)

// Queue defaults.
const (
	DefaultIndexWorkers = 2
	DefaultQueueSize    = 64
	DefaultJobTimeout   = 5 * time.Minute
)

// IndexJob is one file waiting to be indexed.
type IndexJob struct {
	FileID       string
	Path         string
	MimeType     string
	OriginalName string
}

// Indexer indexes a single file.
type Indexer interface {
	IndexFile(ctx context.Context, fileID, path, mimeType, originalName string) (int, error)
}

// IndexQueue runs indexing in the background: Enqueue → buffered channel →
// N workers → Indexer. Uploads return before embedding completes.
type IndexQueue struct {
	indexer Indexer
	logger  *zap.Logger
	timeout time.Duration
	onDone  func(IndexJob, int, error)

	mu     sync.RWMutex
	closed bool
	jobs   chan IndexJob
	wg     sync.WaitGroup
}

// QueueOption configures an IndexQueue.
type QueueOption func(*queueConfig)

type queueConfig struct {
	workers int
	size    int
	timeout time.Duration
	onDone  func(IndexJob, int, error)
}

// WithWorkers sets the number of concurrent indexing workers.
func WithWorkers(n int) QueueOption {
	return func(c *queueConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithQueueSize sets the channel buffer. A full queue drops new jobs.
func WithQueueSize(n int) QueueOption {
	return func(c *queueConfig) {
		if n > 0 {
			c.size = n
		}
	}
}

// WithJobTimeout bounds a single indexing job.
func WithJobTimeout(d time.Duration) QueueOption {
	return func(c *queueConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithOnDone registers a callback invoked after every job.
func WithOnDone(fn func(job IndexJob, chunks int, err error)) QueueOption {
	return func(c *queueConfig) { c.onDone = fn }
}

// NewIndexQueue starts the workers.
func NewIndexQueue(indexer Indexer, logger *zap.Logger, opts ...QueueOption) *IndexQueue {
	cfg := queueConfig{
		workers: DefaultIndexWorkers,
		size:    DefaultQueueSize,
		timeout: DefaultJobTimeout,
	}
	for _, o := range opts {
		o(&cfg)
	}

	q := &IndexQueue{
		indexer: indexer,
		logger:  logger,
		timeout: cfg.timeout,
		onDone:  cfg.onDone,
		jobs:    make(chan IndexJob, cfg.size),
	}
	for i := 0; i < cfg.workers; i++ {
		q.wg.Add(1)
		go func(workerID int) {
			defer q.wg.Done()
			q.worker(workerID)
		}(i)
	}
	return q
}

// Enqueue schedules a job without blocking. Returns false when the queue is
// full or closed; the job is dropped.
func (q *IndexQueue) Enqueue(job IndexJob) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		metrics.IndexJobsTotal.WithLabelValues("dropped").Inc()
		return false
	}
	select {
	case q.jobs <- job:
		metrics.IndexQueueDepth.Inc()
		return true
	default:
		metrics.IndexJobsTotal.WithLabelValues("dropped").Inc()
		q.logger.Warn("index queue full, job dropped",
			zap.String("file_id", job.FileID),
			zap.Int("capacity", cap(q.jobs)),
		)
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to finish or ctx to end.
func (q *IndexQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// worker обрабатывает задачи из канала до его закрытия.
func (q *IndexQueue) worker(id int) {
	for job := range q.jobs {
		metrics.IndexQueueDepth.Dec()
		q.process(id, job)
	}
}

func (q *IndexQueue) process(id int, job IndexJob) {
	// Фоновый контекст: отмена upload-запроса не прерывает индексацию.
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	n, err := q.indexer.IndexFile(ctx, job.FileID, job.Path, job.MimeType, job.OriginalName)
	switch {
	case err != nil:
		metrics.IndexJobsTotal.WithLabelValues("failed").Inc()
		level := q.logger.Error
		if errors.Is(err, context.DeadlineExceeded) {
			level = q.logger.Warn
		}
		level("indexing failed",
			zap.Int("worker", id),
			zap.String("file_id", job.FileID),
			zap.String("original_name", job.OriginalName),
			zap.Error(err),
		)
	case n == 0:
		metrics.IndexJobsTotal.WithLabelValues("skipped").Inc()
	default:
		metrics.IndexJobsTotal.WithLabelValues("indexed").Inc()
	}

	if q.onDone != nil {
		q.onDone(job, n, err)
	}
}
