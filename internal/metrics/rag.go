package metrics

import "github.com/prometheus/client_golang/prometheus"

// RAG pipeline and chat metrics.
var (
	IndexJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_jobs_total",
			Help:      "Background indexing jobs by outcome",
		},
		[]string{"outcome"}, // indexed, failed, dropped, skipped
	)

	IndexedChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexed_chunks_total",
			Help:      "Chunks written to the vector store",
		},
	)

	IndexDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_duration_seconds",
			Help:      "Time to extract, chunk, embed and store one document",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	IndexQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_queue_depth",
			Help:      "Documents waiting for an indexing worker",
		},
	)

	RetrievalResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_results",
			Help:      "Number of chunks returned per retrieval",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	RetrievalErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_errors_total",
			Help:      "Retrieval failures degraded to empty results",
		},
		[]string{"stage"}, // embed, query
	)

	VectorStoreAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vector_store_available",
			Help:      "1 when the vector store is initialized, 0 when degraded",
		},
	)

	ChatRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat completions by backend and status",
		},
		[]string{"provider", "status"},
	)

	ChatModelFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_model_fallbacks_total",
			Help:      "Times the router moved to the next candidate model",
		},
		[]string{"provider", "from_model"},
	)

	ChatTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_tokens_total",
			Help:      "Chat tokens consumed",
		},
		[]string{"provider", "type"},
	)
)

var ragMetricsRegistered bool

// RegisterRAGMetrics registers indexing, retrieval and chat metrics. Must be called once from main.
func RegisterRAGMetrics() {
	if ragMetricsRegistered {
		return
	}
	prometheus.MustRegister(
		IndexJobsTotal,
		IndexedChunksTotal,
		IndexDuration,
		IndexQueueDepth,
		RetrievalResults,
		RetrievalErrorsTotal,
		VectorStoreAvailable,
		ChatRequestsTotal,
		ChatModelFallbacksTotal,
		ChatTokensTotal,
	)
	ragMetricsRegistered = true
}
