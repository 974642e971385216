// Package handlers provides ready-made request handlers: static content
// from a content store, the request journal and a health report.
package handlers

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gabriel-vasile/mimetype"
	"github.com/marmos91/dittocgi/internal/logger"
	"github.com/marmos91/dittocgi/pkg/cgi"
	"github.com/marmos91/dittocgi/pkg/content"
)

// StaticConfig configures Static.
type StaticConfig struct {
	// Prefix is removed from the request path before the store lookup,
	// e.g. "/static".
	Prefix string `mapstructure:"prefix"`

	// IndexFile is served for paths ending in "/" (default "index.html").
	IndexFile string `mapstructure:"index_file"`

	// MaxAge sets Cache-Control: max-age. 0 omits the header.
	MaxAge time.Duration `mapstructure:"max_age" validate:"min=0"`

	// Timeout bounds one store read (default 5s).
	Timeout time.Duration `mapstructure:"timeout" validate:"min=0"`
}

// Static serves objects from store.
//
// GET and HEAD are supported. Responses carry a strong ETag computed from
// the body; a matching If-None-Match yields 304 Not Modified. The content
// type comes from the store, then the key's extension, then sniffing.
func Static(store content.Store, cfg StaticConfig) cgi.Handler {
	if cfg.IndexFile == "" {
		cfg.IndexFile = "index.html"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	prefix := strings.TrimSuffix(cfg.Prefix, "/")

	return func(req *cgi.Request) *cgi.HTTPResponse {
		method := req.Method()
		if method != http.MethodGet && method != http.MethodHead {
			return cgi.Respond(cgi.Text(http.StatusMethodNotAllowed, "method not allowed").
				WithHeader("Allow", "GET, HEAD"))
		}

		key := strings.TrimPrefix(req.Path, prefix)
		if key == "" || strings.HasSuffix(key, "/") {
			key += cfg.IndexFile
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()

		data, obj, err := store.Get(ctx, key)
		switch {
		case errors.Is(err, content.ErrContentNotFound):
			return cgi.Respond(cgi.Text(http.StatusNotFound, "not found"))
		case errors.Is(err, content.ErrInvalidKey):
			return cgi.Respond(cgi.Text(http.StatusBadRequest, "invalid path"))
		case err != nil:
			logger.Error("Static read of %q failed: %v", key, err)
			return cgi.Respond(cgi.Text(http.StatusInternalServerError, "internal error"))
		}

		etag := ETag(data)
		resp := cgi.NewResponse(http.StatusOK, contentType(obj, key, data), data).
			WithHeader("ETag", etag)
		if !obj.ModTime.IsZero() {
			resp = resp.WithHeader("Last-Modified", obj.ModTime.UTC().Format(http.TimeFormat))
		}
		if cfg.MaxAge > 0 {
			resp = resp.WithHeader("Cache-Control", "max-age="+strconv.Itoa(int(cfg.MaxAge.Seconds())))
		}

		if etagMatches(req.Header("If-None-Match"), etag) {
			// A 304 has no body to describe.
			return cgi.Respond(resp.WithStatus(http.StatusNotModified).WithBody(nil).WithContentType(""))
		}
		if method == http.MethodHead {
			resp = resp.WithBody(nil)
		}
		return cgi.Respond(resp)
	}
}

// ETag returns the strong entity tag of body.
func ETag(body []byte) string {
	return `"` + strconv.FormatUint(xxhash.Sum64(body), 16) + `"`
}

func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

func contentType(obj content.Object, key string, data []byte) string {
	if obj.ContentType != "" {
		return obj.ContentType
	}
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return mimetype.Detect(data).String()
}
