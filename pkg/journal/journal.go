// Package journal records a summary of every request the pipeline
// completes.
//
// A Recorder is registered as a post-completion handler and appends one
// Entry per request to a Store. The Journal handler serves the most recent
// entries.
package journal

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("journal: store closed")

// Entry summarizes one completed request.
type Entry struct {
	ID         string    `json:"id"`
	Connection string    `json:"connection"`
	RequestID  uint16    `json:"request_id"`
	Method     string    `json:"method,omitempty"`
	Path       string    `json:"path"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Responded  bool      `json:"responded"`
	Status     int       `json:"status,omitempty"`
	BytesOut   int       `json:"bytes_out"`
	Time       time.Time `json:"time"`
}

// Store persists entries.
//
// Thread Safety:
// Implementations must be safe for concurrent use; every connection
// goroutine appends.
type Store interface {
	// Append records e.
	Append(ctx context.Context, e Entry) error

	// Recent returns up to limit entries, newest first. limit <= 0 returns
	// every retained entry.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// Close releases the store.
	Close() error
}
