package metrics

import "time"

// JournalMetrics observes the request journal.
type JournalMetrics interface {
	// RecordOperation records a journal operation ("append", "recent").
	RecordOperation(store, operation string, duration time.Duration, err error)
}

// NewNoopJournalMetrics returns a JournalMetrics that discards everything.
func NewNoopJournalMetrics() JournalMetrics {
	return noopJournalMetrics{}
}

type noopJournalMetrics struct{}

func (noopJournalMetrics) RecordOperation(string, string, time.Duration, error) {}
