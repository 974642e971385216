package prometheus

import (
	"time"

	"github.com/marmos91/dittocgi/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type journalMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewJournalMetrics returns Prometheus-backed JournalMetrics, or a no-op
// implementation when metrics are not enabled.
func NewJournalMetrics() metrics.JournalMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopJournalMetrics()
	}

	reg := metrics.GetRegistry()

	return &journalMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittocgi_journal_operations_total",
				Help: "Total request journal operations by store, operation and status",
			},
			[]string{"store", "operation", "status"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dittocgi_journal_operation_duration_milliseconds",
				Help:    "Duration of request journal operations in milliseconds",
				Buckets: []float64{0.1, 1, 10, 100, 1000},
			},
			[]string{"store", "operation"},
		),
	}
}

func (m *journalMetrics) RecordOperation(store, operation string, duration time.Duration, err error) {
	m.operations.WithLabelValues(store, operation, statusLabel(err)).Inc()
	m.duration.WithLabelValues(store, operation).Observe(float64(duration) / float64(time.Millisecond))
}
