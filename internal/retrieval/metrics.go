package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// retrievalMetrics holds all Prometheus metrics owned by the retrieval
// manager. Created once in New so tests can inject a fresh registry.
type retrievalMetrics struct {
	// requests counts retrieval requests, partitioned by mode and outcome.
	requests *prometheus.CounterVec

	// duration records retrieval latency, partitioned by mode.
	duration *prometheus.HistogramVec

	// encoderFailures counts query-embedding failures (encoder unavailable
	// or inference timeout).
	encoderFailures prometheus.Counter

	// fallbacks counts semantic requests that degraded to keyword mode.
	fallbacks prometheus.Counter
}

// newRetrievalMetrics registers the retrieval metrics against reg.
func newRetrievalMetrics(reg prometheus.Registerer) *retrievalMetrics {
	factory := promauto.With(reg)

	return &retrievalMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragcore",
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Retrieval requests, partitioned by mode and outcome.",
		}, []string{"mode", "outcome"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragcore",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Wall-clock retrieval latency, partitioned by mode.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"mode"}),

		encoderFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ragcore",
			Subsystem: "retrieval",
			Name:      "encoder_failures_total",
			Help:      "Query embedding failures (encoder unavailable or timed out).",
		}),

		fallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ragcore",
			Subsystem: "retrieval",
			Name:      "keyword_fallbacks_total",
			Help:      "Semantic retrievals that degraded to keyword mode.",
		}),
	}
}
