package metrics

import (
	"errors"
	"time"

	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gallery"

var (
	indexRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_request_duration_seconds",
			Help:      "Vector index request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation", "status"},
	)

	embeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "status"},
	)

	embeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	outboxPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_total",
			Help:      "Outbox events handled by the worker",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestDuration,
		httpRequestsTotal,
		indexRequestDuration,
		embeddingRequestDuration,
		embeddingCacheTotal,
		outboxPublishedTotal,
	)
}

// ObserveIndexRequest фиксирует длительность и исход запроса к векторному индексу.
func ObserveIndexRequest(operation string, start time.Time, err error) {
	indexRequestDuration.WithLabelValues(operation, status(err)).Observe(time.Since(start).Seconds())
}

// ObserveEmbedding фиксирует длительность запроса к модели эмбеддингов.
func ObserveEmbedding(provider string, start time.Time, err error) {
	embeddingRequestDuration.WithLabelValues(provider, status(err)).Observe(time.Since(start).Seconds())
}

func EmbeddingCacheHit() {
	embeddingCacheTotal.WithLabelValues("hit").Inc()
}

func EmbeddingCacheMiss() {
	embeddingCacheTotal.WithLabelValues("miss").Inc()
}

func OutboxPublished(n int) {
	outboxPublishedTotal.WithLabelValues("published").Add(float64(n))
}

func OutboxFailed() {
	outboxPublishedTotal.WithLabelValues("failed").Inc()
}

func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, e.ErrNotFound):
		return "not_found"
	case errors.Is(err, e.ErrBackendUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
