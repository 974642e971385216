package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/dittocgi/pkg/cgi"
	"github.com/marmos91/dittocgi/pkg/registry"
)

// HealthResponse is the body served by Health.
type HealthResponse struct {
	Status      string    `json:"status"`
	Backend     string    `json:"backend"`
	StartedAt   time.Time `json:"started_at"`
	Uptime      string    `json:"uptime"`
	Connections int       `json:"connections"`
}

// Health reports liveness, uptime and the number of open connections.
func Health(reg *registry.Registry, backendName string, startedAt time.Time) cgi.Handler {
	return func(*cgi.Request) *cgi.HTTPResponse {
		return cgi.Respond(cgi.JSON(http.StatusOK, HealthResponse{
			Status:      "ok",
			Backend:     backendName,
			StartedAt:   startedAt.UTC(),
			Uptime:      strings.TrimSpace(humanize.RelTime(startedAt, time.Now(), "", "")),
			Connections: reg.Count(),
		}))
	}
}

// Connections lists the open connections as JSON, oldest first.
func Connections(reg *registry.Registry) cgi.Handler {
	return func(*cgi.Request) *cgi.HTTPResponse {
		return cgi.Respond(cgi.JSON(http.StatusOK, reg.Snapshot()))
	}
}
