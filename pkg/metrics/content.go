package metrics

import "time"

// ContentMetrics observes static content stores and their read cache.
type ContentMetrics interface {
	// RecordOperation records a store operation ("read", "exists", "write").
	RecordOperation(store, operation string, duration time.Duration, err error)

	// RecordBytesRead counts bytes returned by a store.
	RecordBytesRead(store string, bytes int64)

	RecordCacheHit()
	RecordCacheMiss()
}

// NewNoopContentMetrics returns a ContentMetrics that discards everything.
func NewNoopContentMetrics() ContentMetrics {
	return noopContentMetrics{}
}

type noopContentMetrics struct{}

func (noopContentMetrics) RecordOperation(string, string, time.Duration, error) {}
func (noopContentMetrics) RecordBytesRead(string, int64)                        {}
func (noopContentMetrics) RecordCacheHit()                                      {}
func (noopContentMetrics) RecordCacheMiss()                                     {}
