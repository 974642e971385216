package metrics

import "time"

// Dispatch branches, used as the "branch" label of request metrics.
const (
	BranchRouted     = "routed"
	BranchNoResponse = "no_response"
	BranchNotFound   = "not_found"
)

// CGIMetrics observes the protocol engine: connections, decoded records,
// protocol anomalies and dispatched requests.
//
// Implementations must be safe for concurrent use; every connection
// goroutine reports through the same instance.
type CGIMetrics interface {
	// RecordRequest records a dispatched request. status is 0 when no
	// response was sent.
	RecordRequest(branch string, status int, duration time.Duration)

	// RecordRequestStart / RecordRequestEnd bracket a dispatch.
	RecordRequestStart()
	RecordRequestEnd()

	// RecordBytesTransferred counts request ("in") and response ("out") bytes.
	RecordBytesTransferred(direction string, bytes int64)

	// RecordRecord counts a decoded protocol record by type name.
	RecordRecord(recordType string)

	// RecordProtocolError counts an anomaly such as a duplicate or unknown
	// request id, or a malformed header.
	RecordProtocolError(kind string)

	// RecordRejected counts a BeginRequest that was refused (overloaded,
	// cannot multiplex, unknown role).
	RecordRejected(reason string)

	SetActiveConnections(count int32)
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionForceClosed()
}

// NewNoopCGIMetrics returns a CGIMetrics that discards everything.
func NewNoopCGIMetrics() CGIMetrics {
	return noopCGIMetrics{}
}

type noopCGIMetrics struct{}

func (noopCGIMetrics) RecordRequest(string, int, time.Duration) {}
func (noopCGIMetrics) RecordRequestStart()                      {}
func (noopCGIMetrics) RecordRequestEnd()                        {}
func (noopCGIMetrics) RecordBytesTransferred(string, int64)     {}
func (noopCGIMetrics) RecordRecord(string)                      {}
func (noopCGIMetrics) RecordProtocolError(string)               {}
func (noopCGIMetrics) RecordRejected(string)                    {}
func (noopCGIMetrics) SetActiveConnections(int32)               {}
func (noopCGIMetrics) RecordConnectionAccepted()                {}
func (noopCGIMetrics) RecordConnectionClosed()                  {}
func (noopCGIMetrics) RecordConnectionForceClosed()             {}
