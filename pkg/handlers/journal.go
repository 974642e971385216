package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/marmos91/dittocgi/internal/logger"
	"github.com/marmos91/dittocgi/pkg/cgi"
	"github.com/marmos91/dittocgi/pkg/journal"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 1000
)

// JournalResponse is the body served by Journal.
type JournalResponse struct {
	Count   int             `json:"count"`
	Entries []journal.Entry `json:"entries"`
}

// Journal serves the most recent journal entries as JSON, newest first.
// The "limit" query parameter selects how many (default 50, max 1000).
func Journal(store journal.Store) cgi.Handler {
	return func(req *cgi.Request) *cgi.HTTPResponse {
		limit := defaultJournalLimit
		if raw := req.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				return cgi.Respond(cgi.Text(http.StatusBadRequest, "limit must be a positive integer"))
			}
			limit = min(n, maxJournalLimit)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		entries, err := store.Recent(ctx, limit)
		if err != nil {
			logger.Error("Journal read failed: %v", err)
			return cgi.Respond(cgi.Text(http.StatusInternalServerError, "journal unavailable"))
		}
		if entries == nil {
			entries = []journal.Entry{}
		}
		return cgi.Respond(cgi.JSON(http.StatusOK, JournalResponse{Count: len(entries), Entries: entries}))
	}
}
