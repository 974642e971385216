// Package direct implements the plain HTTP/1.x backend.
//
// It accepts HTTP/1.0 and HTTP/1.1 requests straight from clients, with no
// record envelope, and converts them into the same CGI-style requests the
// FastCGI backend produces. Request heads are parsed with net/http; bodies
// must carry a Content-Length. Chunked request bodies are answered with
// 501 Not Implemented.
package direct

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/marmos91/dittocgi/internal/logger"
	"github.com/marmos91/dittocgi/pkg/backend"
	"github.com/marmos91/dittocgi/pkg/cgi"
	"github.com/marmos91/dittocgi/pkg/metrics"
)

var (
	// ErrMalformedRequest is returned when a request head cannot be parsed.
	ErrMalformedRequest = errors.New("direct: malformed request")

	// ErrRequestTooLarge is returned when a request head or body exceeds
	// the configured limits.
	ErrRequestTooLarge = errors.New("direct: request exceeds size limit")
)

var headerTerminator = []byte("\r\n\r\n")

// Config holds the direct backend limits.
type Config struct {
	// MaxHeaderSize bounds the request line plus headers. Default 64KB.
	MaxHeaderSize int

	// MaxBodySize bounds a request body. 0 = unlimited.
	MaxBodySize int
}

type connState struct {
	buf      []byte
	keepConn bool
}

// Backend is the direct HTTP variant of backend.Backend.
type Backend struct {
	cfg     Config
	conns   sync.Map // connection id -> *connState
	metrics metrics.CGIMetrics
}

// Option configures a Backend.
type Option func(*Backend)

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.CGIMetrics) Option {
	return func(b *Backend) {
		if m != nil {
			b.metrics = m
		}
	}
}

// New creates a direct backend.
func New(cfg Config, opts ...Option) *Backend {
	if cfg.MaxHeaderSize <= 0 {
		cfg.MaxHeaderSize = 64 << 10
	}
	b := &Backend{cfg: cfg, metrics: metrics.NewNoopCGIMetrics()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements backend.Backend.
func (b *Backend) Name() string {
	return backend.NameDirect
}

func (b *Backend) state(conn cgi.Conn) *connState {
	v, _ := b.conns.LoadOrStore(conn.ID(), &connState{})
	return v.(*connState)
}

// Feed implements backend.Backend.
func (b *Backend) Feed(conn cgi.Conn, data []byte, sink backend.Sink) error {
	if conn.Closed() {
		return nil
	}
	st := b.state(conn)
	st.buf = append(st.buf, data...)

	for !conn.Closed() {
		end := bytes.Index(st.buf, headerTerminator)
		if end < 0 {
			if len(st.buf) > b.cfg.MaxHeaderSize {
				b.reject(conn, http.StatusRequestHeaderFieldsTooLarge)
				return fmt.Errorf("%w: header exceeds %d bytes", ErrRequestTooLarge, b.cfg.MaxHeaderSize)
			}
			return nil
		}
		headEnd := end + len(headerTerminator)
		if headEnd > b.cfg.MaxHeaderSize {
			b.reject(conn, http.StatusRequestHeaderFieldsTooLarge)
			return fmt.Errorf("%w: header of %d bytes exceeds %d", ErrRequestTooLarge, headEnd, b.cfg.MaxHeaderSize)
		}

		httpReq, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(st.buf[:headEnd])))
		if err != nil {
			b.metrics.RecordProtocolError("malformed_http")
			b.reject(conn, http.StatusBadRequest)
			return fmt.Errorf("%w: %v", ErrMalformedRequest, err)
		}

		if len(httpReq.TransferEncoding) > 0 {
			logger.Debug("Chunked request body from %s not supported", conn.RemoteAddr())
			b.reject(conn, http.StatusNotImplemented)
			return nil
		}

		bodyLen := int(max(httpReq.ContentLength, 0))
		if b.cfg.MaxBodySize > 0 && bodyLen > b.cfg.MaxBodySize {
			b.reject(conn, http.StatusRequestEntityTooLarge)
			return fmt.Errorf("%w: body of %d bytes", ErrRequestTooLarge, bodyLen)
		}
		if len(st.buf) < headEnd+bodyLen {
			return nil
		}

		body := append([]byte(nil), st.buf[headEnd:headEnd+bodyLen]...)
		st.buf = append(st.buf[:0], st.buf[headEnd+bodyLen:]...)

		keepConn := !httpReq.Close
		st.keepConn = keepConn
		b.metrics.RecordBytesTransferred("in", int64(bodyLen))

		sink.Handle(cgi.NewRequest(conn, 1, paramsFor(conn, httpReq, bodyLen), body, keepConn))
	}
	return nil
}

// reject answers a request that cannot be dispatched and closes the
// connection.
func (b *Backend) reject(conn cgi.Conn, status int) {
	resp := cgi.Text(status, http.StatusText(status))
	if err := conn.Write(encodeResponse(resp, 1, 1, "", false)); err != nil {
		logger.Debug("Reject write to %s failed: %v", conn.RemoteAddr(), err)
	}
	_ = conn.Close()
	b.conns.Delete(conn.ID())
}

// paramsFor maps an HTTP request onto CGI parameters.
func paramsFor(conn cgi.Conn, r *http.Request, bodyLen int) map[string]string {
	params := map[string]string{
		cgi.ParamRequestMethod:  r.Method,
		cgi.ParamRequestURI:     r.RequestURI,
		cgi.ParamDocumentURI:    r.URL.Path,
		cgi.ParamQueryString:    r.URL.RawQuery,
		cgi.ParamServerProtocol: r.Proto,
		cgi.ParamRemoteAddr:     conn.RemoteAddr(),
	}
	if r.Header.Get("Content-Length") != "" {
		params[cgi.ParamContentLength] = strconv.Itoa(bodyLen)
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		params[cgi.ParamContentType] = ct
	}
	if r.Host != "" {
		params[cgi.ParamHTTPPrefix+"HOST"] = r.Host
	}
	for name, values := range r.Header {
		switch name {
		case "Content-Type", "Content-Length":
			continue
		}
		key := cgi.ParamHTTPPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		params[key] = strings.Join(values, ", ")
	}
	return params
}

// SendResponse implements backend.Backend.
func (b *Backend) SendResponse(req *cgi.Request, resp cgi.HTTPResponse) error {
	conn := req.Conn()
	if conn == nil || conn.Closed() {
		return backend.ErrConnectionClosed
	}

	major, minor, ok := http.ParseHTTPVersion(req.Param(cgi.ParamServerProtocol))
	if !ok {
		major, minor = 1, 1
	}

	if err := conn.Write(encodeResponse(resp, major, minor, req.Method(), req.KeepConn)); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

func encodeResponse(resp cgi.HTTPResponse, major, minor int, method string, keepConn bool) []byte {
	header := make(http.Header, len(resp.Headers)+2)
	for name, value := range resp.Headers {
		header.Set(name, value)
	}
	if resp.ContentType != "" {
		header.Set("Content-Type", resp.ContentType)
	}
	if keepConn && major == 1 && minor == 0 {
		header.Set("Connection", "keep-alive")
	}

	httpResp := &http.Response{
		StatusCode:    resp.Status,
		ProtoMajor:    major,
		ProtoMinor:    minor,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(resp.Body)),
		ContentLength: int64(len(resp.Body)),
		Close:         !keepConn,
	}
	if method != "" {
		httpResp.Request = &http.Request{Method: method}
	}

	var buf bytes.Buffer
	buf.Grow(256 + len(resp.Body))
	// Writing to a bytes.Buffer cannot fail.
	_ = httpResp.Write(&buf)
	return buf.Bytes()
}

// CleanUp implements backend.Backend.
func (b *Backend) CleanUp(conn cgi.Conn) {
	if conn == nil {
		return
	}

	v, ok := b.conns.Load(conn.ID())
	if ok && !conn.Closed() && v.(*connState).keepConn {
		return
	}
	if !conn.Closed() {
		_ = conn.Close()
	}
	b.conns.Delete(conn.ID())
}

// Connections returns the number of connections with parse state.
func (b *Backend) Connections() int {
	n := 0
	b.conns.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
