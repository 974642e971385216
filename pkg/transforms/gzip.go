package transforms

import (
	"bytes"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/marmos91/dittocgi/internal/logger"
	"github.com/marmos91/dittocgi/pkg/cgi"
)

// GzipConfig configures Gzip.
type GzipConfig struct {
	// Level is a compress/gzip level (default gzip.DefaultCompression).
	Level int `mapstructure:"level" validate:"min=-2,max=9"`

	// MinSize skips bodies smaller than this many bytes (default 1024).
	MinSize int `mapstructure:"min_size" validate:"min=0"`
}

// compressible lists content type prefixes worth compressing.
var compressible = []string{
	"text/",
	"application/json",
	"application/javascript",
	"application/xml",
	"image/svg+xml",
}

// Gzip compresses response bodies for clients that accept gzip.
//
// Bodies that are small, already encoded, not a compressible type, or that
// would not shrink are left untouched.
func Gzip(cfg GzipConfig) cgi.ResponseTransform {
	if cfg.Level == 0 {
		cfg.Level = gzip.DefaultCompression
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = 1024
	}

	pool := sync.Pool{
		New: func() any {
			w, err := gzip.NewWriterLevel(nil, cfg.Level)
			if err != nil {
				// Level is validated by config; fall back rather than fail.
				w = gzip.NewWriter(nil)
			}
			return w
		},
	}

	return func(req *cgi.Request, resp cgi.HTTPResponse) cgi.HTTPResponse {
		if len(resp.Body) < cfg.MinSize || !acceptsGzip(req.Header("Accept-Encoding")) {
			return resp
		}
		if _, encoded := resp.Headers["Content-Encoding"]; encoded || !isCompressible(resp.ContentType) {
			return resp
		}

		var buf bytes.Buffer
		buf.Grow(len(resp.Body) / 2)

		w := pool.Get().(*gzip.Writer)
		defer pool.Put(w)
		w.Reset(&buf)

		if _, err := w.Write(resp.Body); err != nil {
			logger.Warn("Gzip of %s failed: %v", req.Path, err)
			return resp
		}
		if err := w.Close(); err != nil {
			logger.Warn("Gzip of %s failed: %v", req.Path, err)
			return resp
		}
		if buf.Len() >= len(resp.Body) {
			return resp
		}

		return resp.WithBody(buf.Bytes()).
			WithHeader("Content-Encoding", "gzip").
			WithHeader("Vary", "Accept-Encoding")
	}
}

func acceptsGzip(header string) bool {
	for _, part := range strings.Split(header, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(coding), "gzip") && strings.TrimSpace(coding) != "*" {
			continue
		}
		if q := strings.ReplaceAll(params, " ", ""); q == "q=0" || q == "q=0.0" {
			return false
		}
		return true
	}
	return false
}

func isCompressible(contentType string) bool {
	ct := strings.ToLower(contentType)
	for _, prefix := range compressible {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}
