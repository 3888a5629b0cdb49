package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rag_query_duration_seconds",
			Help:    "Answer latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"status"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_query_total",
			Help: "Total number of queries answered",
		},
		[]string{"status"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rag_retrieval_stage_duration_seconds",
			Help:    "Duration of each retrieval stage",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"stage"},
	)

	StageFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_retrieval_fallbacks_total",
			Help: "Retrieval stages that degraded to their fallback",
		},
		[]string{"stage"},
	)

	CandidatesReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rag_candidates_returned",
			Help:    "Number of context candidates handed to generation",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	DocumentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_documents_processed_total",
			Help: "Documents handled by ingestion, by outcome",
		},
		[]string{"outcome"},
	)

	PagesExtracted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_pages_extracted_total",
			Help: "Pages extracted, by method",
		},
		[]string{"method"},
	)

	OCRAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rag_ocr_attempts_total",
			Help: "OCR service calls, including retries",
		},
	)

	OCRFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rag_ocr_failures_total",
			Help: "Pages where OCR failed after all retries",
		},
	)

	ChunksWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rag_chunks_written_total",
			Help: "Chunks upserted into the vector store",
		},
	)

	IngestionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rag_ingestion_duration_seconds",
			Help:    "Wall time of an ingestion run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rag_circuit_state",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
		[]string{"name"},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(QueryDuration)
		prometheus.MustRegister(QueryTotal)
		prometheus.MustRegister(StageDuration)
		prometheus.MustRegister(StageFallbacks)
		prometheus.MustRegister(CandidatesReturned)
		prometheus.MustRegister(LLMTokensUsed)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(DocumentsProcessed)
		prometheus.MustRegister(PagesExtracted)
		prometheus.MustRegister(OCRAttempts)
		prometheus.MustRegister(OCRFailures)
		prometheus.MustRegister(ChunksWritten)
		prometheus.MustRegister(IngestionDuration)
		prometheus.MustRegister(CircuitState)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
