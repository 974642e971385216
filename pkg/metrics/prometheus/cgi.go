// Package prometheus implements the metrics interfaces on top of the
// process registry created by metrics.InitRegistry.
package prometheus

import (
	"strconv"
	"time"

	"github.com/marmos91/dittocgi/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type cgiMetrics struct {
	requestsTotal          *prometheus.CounterVec
	requestDuration        *prometheus.HistogramVec
	requestsInFlight       prometheus.Gauge
	bytesTransferred       *prometheus.CounterVec
	recordsTotal           *prometheus.CounterVec
	protocolErrors         *prometheus.CounterVec
	rejectedTotal          *prometheus.CounterVec
	activeConnections      prometheus.Gauge
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
}

// NewCGIMetrics returns a Prometheus-backed CGIMetrics, or a no-op
// implementation when metrics are not enabled.
func NewCGIMetrics() metrics.CGIMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopCGIMetrics()
	}

	reg := metrics.GetRegistry()

	return &cgiMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittocgi_requests_total",
				Help: "Total number of dispatched requests by branch and HTTP status",
			},
			[]string{"branch", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittocgi_request_duration_milliseconds",
				Help: "Duration of request dispatch in milliseconds",
				Buckets: []float64{
					0.1,
					1,
					10,
					100,
					1000,
				},
			},
			[]string{"branch"},
		),
		requestsInFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittocgi_requests_in_flight",
				Help: "Current number of requests being dispatched",
			},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittocgi_bytes_transferred_total",
				Help: "Total request and response bytes",
			},
			[]string{"direction"},
		),
		recordsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittocgi_records_total",
				Help: "Total number of decoded protocol records by type",
			},
			[]string{"type"},
		),
		protocolErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittocgi_protocol_errors_total",
				Help: "Total number of protocol anomalies by kind",
			},
			[]string{"kind"},
		),
		rejectedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittocgi_requests_rejected_total",
				Help: "Total number of refused BeginRequest records by reason",
			},
			[]string{"reason"},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittocgi_active_connections",
				Help: "Current number of open connections",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittocgi_connections_accepted_total",
				Help: "Total number of connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittocgi_connections_closed_total",
				Help: "Total number of connections closed",
			},
		),
		connectionsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittocgi_connections_force_closed_total",
				Help: "Total number of connections force-closed at shutdown",
			},
		),
	}
}

func (m *cgiMetrics) RecordRequest(branch string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(branch, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(branch).Observe(float64(duration) / float64(time.Millisecond))
}

func (m *cgiMetrics) RecordRequestStart() {
	m.requestsInFlight.Inc()
}

func (m *cgiMetrics) RecordRequestEnd() {
	m.requestsInFlight.Dec()
}

func (m *cgiMetrics) RecordBytesTransferred(direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

func (m *cgiMetrics) RecordRecord(recordType string) {
	m.recordsTotal.WithLabelValues(recordType).Inc()
}

func (m *cgiMetrics) RecordProtocolError(kind string) {
	m.protocolErrors.WithLabelValues(kind).Inc()
}

func (m *cgiMetrics) RecordRejected(reason string) {
	m.rejectedTotal.WithLabelValues(reason).Inc()
}

func (m *cgiMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *cgiMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *cgiMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *cgiMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}
