package journal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittocgi/internal/logger"
	"github.com/marmos91/dittocgi/pkg/cgi"
	"github.com/marmos91/dittocgi/pkg/metrics"
)

// appendTimeout bounds one Append from the connection goroutine.
const appendTimeout = 2 * time.Second

// Recorder returns a post-completion handler that appends an Entry for
// every request to store. name labels the store in metrics; m may be nil.
//
// Append failures are logged and never affect the connection.
func Recorder(store Store, name string, m metrics.JournalMetrics) cgi.PostHandler {
	if m == nil {
		m = metrics.NewNoopJournalMetrics()
	}

	return func(req *cgi.Request, resp *cgi.HTTPResponse) {
		e := NewEntry(req, resp)

		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		defer cancel()

		start := time.Now()
		err := store.Append(ctx, e)
		m.RecordOperation(name, "append", time.Since(start), err)
		if err != nil {
			logger.Warn("Journal append for %s %s failed: %v", e.Method, e.Path, err)
		}
	}
}

// NewEntry builds the journal entry for req. resp is nil when no response
// was sent.
func NewEntry(req *cgi.Request, resp *cgi.HTTPResponse) Entry {
	e := Entry{
		ID:        uuid.NewString(),
		RequestID: req.RequestID,
		Method:    req.Method(),
		Path:      req.Path,
		Time:      time.Now().UTC(),
	}
	if conn := req.Conn(); conn != nil {
		e.Connection = conn.ID()
		e.RemoteAddr = conn.RemoteAddr()
	}
	if resp != nil {
		e.Responded = true
		e.Status = resp.Status
		e.BytesOut = len(resp.Body)
	}
	return e
}
