package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docbrief_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docbrief_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Indexing metrics
	FilesIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docbrief_files_indexed_total",
			Help: "Total number of Drive files attempted by the indexer, by outcome",
		},
		[]string{"outcome"},
	)

	ChunksStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docbrief_chunks_stored_total",
			Help: "Total number of document chunks written to the store",
		},
	)

	IndexRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docbrief_index_runs_total",
			Help: "Total number of indexing batches run",
		},
		[]string{"status"},
	)

	// Embedding metrics
	EmbeddingBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docbrief_embedding_batches_total",
			Help: "Total number of embedding API calls",
		},
		[]string{"status"},
	)

	EmbeddingBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docbrief_embedding_batch_duration_seconds",
			Help:    "Duration of embedding API calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Generation metrics
	GenerationCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docbrief_generation_calls_total",
			Help: "Total number of text generation API calls",
		},
		[]string{"provider", "status"},
	)

	GenerationCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docbrief_generation_call_duration_seconds",
			Help:    "Duration of text generation API calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// RAG metrics
	QueriesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docbrief_queries_processed_total",
			Help: "Total number of search queries processed",
		},
		[]string{"status"},
	)

	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docbrief_query_duration_seconds",
			Help:    "Duration of search query processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	BriefsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docbrief_briefs_total",
			Help: "Total number of meeting brief requests",
		},
		[]string{"status"},
	)

	// Google integration metrics
	CalendarSyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docbrief_calendar_syncs_total",
			Help: "Total number of calendar syncs",
		},
		[]string{"status"},
	)

	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docbrief_token_refreshes_total",
			Help: "Total number of OAuth token refresh attempts",
		},
		[]string{"status"},
	)

	// Database metrics
	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docbrief_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docbrief_database_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func StatusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
