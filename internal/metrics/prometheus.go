package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "draftsmith_generation_duration_seconds",
			Help:    "Generation request duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"intent"},
	)

	GenerationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftsmith_generation_total",
			Help: "Total generation requests",
		},
		[]string{"status"},
	)

	IntentClassified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftsmith_intent_classified_total",
			Help: "Classified intents by category and retrieval type",
		},
		[]string{"intent", "retrieval_type"},
	)

	ConfidenceLevel = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftsmith_confidence_level_total",
			Help: "Confidence levels assigned by the router",
		},
		[]string{"level"},
	)

	RetrievalResultsCount = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "draftsmith_retrieval_results_count",
			Help:    "Number of references returned per retrieval pass",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"retrieval_type"},
	)

	RerankRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftsmith_rerank_requests_total",
			Help: "Rerank passes by outcome",
		},
		[]string{"status"},
	)

	CoveragePercent = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "draftsmith_coverage_percent",
			Help:    "Conversation coverage percentage after each turn",
			Buckets: []float64{5, 10, 25, 50, 75, 90, 100},
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftsmith_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftsmith_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftsmith_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	DocumentsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "draftsmith_documents_ingested_total",
			Help: "Total documents ingested",
		},
	)

	FragmentsIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "draftsmith_fragments_indexed_total",
			Help: "Total fragments indexed into the vector store",
		},
	)
)

func Init() {
	prometheus.MustRegister(GenerationDuration)
	prometheus.MustRegister(GenerationTotal)
	prometheus.MustRegister(IntentClassified)
	prometheus.MustRegister(ConfidenceLevel)
	prometheus.MustRegister(RetrievalResultsCount)
	prometheus.MustRegister(RerankRequests)
	prometheus.MustRegister(CoveragePercent)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(DocumentsIngested)
	prometheus.MustRegister(FragmentsIndexed)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
