package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the generation-side Prometheus instrumentation.
type Metrics struct {
	GenerationRequests *prometheus.CounterVec
	GenerationRetries  prometheus.Counter
	RateBudgetWait     prometheus.Histogram
	BreakerState       prometheus.Gauge
}

// NewMetrics registers the generation metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		GenerationRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policyqa_generation_requests_total",
			Help: "Generation calls by outcome",
		}, []string{"status"}),
		GenerationRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "policyqa_generation_retries_total",
			Help: "Generation attempts beyond the first per call",
		}),
		RateBudgetWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "policyqa_rate_budget_wait_seconds",
			Help:    "Time spent waiting on the shared outbound rate budget",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		BreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "policyqa_generation_breaker_open",
			Help: "1 while the generation circuit breaker is open",
		}),
	}
}
