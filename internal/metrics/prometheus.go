package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_agent_query_total",
			Help: "Queries processed by intent and outcome",
		},
		[]string{"intent", "outcome"},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_agent_query_duration_seconds",
			Help:    "End-to-end query latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"intent"},
	)

	ValidationRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_agent_validation_rejections_total",
			Help: "Billing answers rejected by the validator, by failed check",
		},
		[]string{"check"},
	)

	RetrievalTopScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "billing_agent_retrieval_top_score",
			Help:    "Similarity score of the best retrieved chunk",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	EmbeddingCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_agent_embedding_cache_total",
			Help: "Embedding cache lookups by result",
		},
		[]string{"result"},
	)

	LLMTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_agent_llm_tokens_total",
			Help: "Tokens consumed by completion and embedding calls",
		},
		[]string{"model", "type"},
	)

	DocumentsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_agent_documents_ingested_total",
			Help: "Chunks upserted into the semantic index",
		},
		[]string{"namespace"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			QueryTotal,
			QueryDuration,
			ValidationRejections,
			RetrievalTopScore,
			EmbeddingCache,
			LLMTokens,
			DocumentsIngested,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
