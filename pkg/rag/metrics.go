package rag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the pipeline's Prometheus instrumentation. A single
// instance is shared by all components wired from main.
type Metrics struct {
	DocumentsLoaded    prometheus.Counter
	DocumentLoadErrors prometheus.Counter
	ChunksCreated      prometheus.Counter
	EmbeddingRequests  *prometheus.CounterVec
	EmbeddingCacheHits prometheus.Counter
	QuestionsAnswered  *prometheus.CounterVec
	AnswerConfidence   prometheus.Histogram
	RetrievalTopScore  prometheus.Histogram
	PipelineDuration   prometheus.Histogram
}

// NewMetrics registers the pipeline metrics on the given registerer. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DocumentsLoaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "policyqa_documents_loaded_total",
			Help: "Number of source documents successfully loaded",
		}),
		DocumentLoadErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "policyqa_document_load_errors_total",
			Help: "Number of documents that could not be fetched or parsed",
		}),
		ChunksCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "policyqa_chunks_created_total",
			Help: "Number of chunks produced by the chunking service",
		}),
		EmbeddingRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policyqa_embedding_requests_total",
			Help: "Embedding batch requests by outcome",
		}, []string{"status"}),
		EmbeddingCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "policyqa_embedding_cache_hits_total",
			Help: "Embeddings served from cache instead of the provider",
		}),
		QuestionsAnswered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policyqa_questions_answered_total",
			Help: "Questions answered by outcome",
		}, []string{"status"}),
		AnswerConfidence: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "policyqa_answer_confidence",
			Help:    "Distribution of answer confidence scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		RetrievalTopScore: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "policyqa_retrieval_top_similarity",
			Help:    "Top similarity score per retrieval",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "policyqa_pipeline_duration_seconds",
			Help:    "End-to-end processing time per batch request",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}
