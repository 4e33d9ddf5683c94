package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// cacheMetrics holds all Prometheus metrics owned by the cache manager.
// A single instance is created in New so tests can inject a fresh
// prometheus.Registry without polluting the default one.
type cacheMetrics struct {
	// hits counts embedding lookups satisfied without generation,
	// partitioned by tier: "memory" or "store".
	hits *prometheus.CounterVec

	// misses counts documents whose embeddings had to be generated.
	misses prometheus.Counter

	// generationFailures counts documents that failed to embed and were
	// skipped.
	generationFailures prometheus.Counter

	// generationSeconds records wall-clock embedding time per document.
	generationSeconds prometheus.Histogram
}

// newCacheMetrics registers the cache metrics against reg.
func newCacheMetrics(reg prometheus.Registerer) *cacheMetrics {
	factory := promauto.With(reg)

	return &cacheMetrics{
		hits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragcore",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Embedding cache hits, partitioned by tier (memory, store).",
		}, []string{"source"}),

		misses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ragcore",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Documents whose embeddings required generation.",
		}),

		generationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ragcore",
			Subsystem: "cache",
			Name:      "generation_failures_total",
			Help:      "Documents skipped because embedding generation failed.",
		}),

		generationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ragcore",
			Subsystem: "cache",
			Name:      "generation_duration_seconds",
			Help:      "Wall-clock duration of embedding generation per document.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		}),
	}
}
