// Package transforms provides ready-made pipeline stages: a path-rewriting
// pre-processor, response transforms for compression and fixed headers,
// and an access-log post-completion hook.
package transforms

import (
	"strings"

	"github.com/marmos91/dittocgi/internal/logger"
	"github.com/marmos91/dittocgi/pkg/cgi"
)

// StripPrefix routes requests whose path starts with prefix as if the
// prefix were absent. Other requests pass through unchanged.
func StripPrefix(prefix string) cgi.PreHandler {
	prefix = strings.TrimSuffix(prefix, "/")
	return func(req *cgi.Request) *cgi.Request {
		if prefix == "" {
			return req
		}
		rest, ok := strings.CutPrefix(req.Path, prefix)
		if !ok || (rest != "" && rest[0] != '/') {
			return req
		}
		if rest == "" {
			rest = "/"
		}
		return req.WithPath(rest)
	}
}

// Headers sets fixed response headers unless the handler already set them.
func Headers(headers map[string]string) cgi.ResponseTransform {
	return func(_ *cgi.Request, resp cgi.HTTPResponse) cgi.HTTPResponse {
		for name, value := range headers {
			if _, exists := resp.Headers[name]; !exists {
				resp = resp.WithHeader(name, value)
			}
		}
		return resp
	}
}

// AccessLog logs one line per completed request in a common-log-like form.
// Requests without a response are logged with status "-".
func AccessLog() cgi.PostHandler {
	return func(req *cgi.Request, resp *cgi.HTTPResponse) {
		remote := "-"
		if conn := req.Conn(); conn != nil {
			remote = conn.RemoteAddr()
		}
		if resp == nil {
			logger.Info("%s %s %s - -", remote, req.Method(), req.Path)
			return
		}
		logger.Info("%s %s %s %d %d", remote, req.Method(), req.Path, resp.Status, len(resp.Body))
	}
}
