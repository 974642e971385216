package prometheus

import (
	"time"

	"github.com/marmos91/dittocgi/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type contentMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	bytesRead  *prometheus.CounterVec
	cacheHits  prometheus.Counter
	cacheMiss  prometheus.Counter
}

// NewContentMetrics returns Prometheus-backed ContentMetrics, or a no-op
// implementation when metrics are not enabled.
func NewContentMetrics() metrics.ContentMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopContentMetrics()
	}

	reg := metrics.GetRegistry()

	return &contentMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittocgi_content_operations_total",
				Help: "Total content store operations by store, operation and status",
			},
			[]string{"store", "operation", "status"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dittocgi_content_operation_duration_milliseconds",
				Help:    "Duration of content store operations in milliseconds",
				Buckets: []float64{1, 10, 100, 1000, 10000},
			},
			[]string{"store", "operation"},
		),
		bytesRead: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittocgi_content_bytes_read_total",
				Help: "Total bytes read from content stores",
			},
			[]string{"store"},
		),
		cacheHits: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittocgi_content_cache_hits_total",
				Help: "Total content cache hits",
			},
		),
		cacheMiss: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittocgi_content_cache_misses_total",
				Help: "Total content cache misses",
			},
		),
	}
}

func (m *contentMetrics) RecordOperation(store, operation string, duration time.Duration, err error) {
	m.operations.WithLabelValues(store, operation, statusLabel(err)).Inc()
	m.duration.WithLabelValues(store, operation).Observe(float64(duration) / float64(time.Millisecond))
}

func (m *contentMetrics) RecordBytesRead(store string, bytes int64) {
	m.bytesRead.WithLabelValues(store).Add(float64(bytes))
}

func (m *contentMetrics) RecordCacheHit() {
	m.cacheHits.Inc()
}

func (m *contentMetrics) RecordCacheMiss() {
	m.cacheMiss.Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
