// Package fastcgi implements the FastCGI responder backend.
//
// Bytes from a connection go through a per-connection record decoder and
// request assembler. Completed requests are handed to the sink. Responses
// are written as a CGI header block plus body on the Stdout stream,
// followed by EndRequest(RequestComplete), in a single write.
//
// One request is served per connection at a time; a second BeginRequest
// while one is outstanding is answered with CannotMultiplex, and
// GetValues advertises FCGI_MAX_REQS=1 and FCGI_MPXS_CONNS=0.
package fastcgi

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/marmos91/dittocgi/internal/logger"
	"github.com/marmos91/dittocgi/internal/protocol/fcgi"
	"github.com/marmos91/dittocgi/internal/ratelimiter"
	"github.com/marmos91/dittocgi/pkg/backend"
	"github.com/marmos91/dittocgi/pkg/cgi"
	"github.com/marmos91/dittocgi/pkg/metrics"
	"golang.org/x/net/http/httpguts"
)

// Config holds the FastCGI backend limits.
type Config struct {
	// MaxConns is advertised as FCGI_MAX_CONNS. 0 advertises 1.
	MaxConns int

	// MaxParamsSize bounds the encoded params of one request. 0 = unlimited.
	MaxParamsSize int

	// MaxBodySize bounds the body of one request. 0 = unlimited.
	MaxBodySize int
}

// errConnDone stops decoding once the connection has been closed by the
// pipeline. Feed swallows it.
var errConnDone = errors.New("connection done")

// connState is the decode state of one connection.
type connState struct {
	decoder   *fcgi.Decoder
	assembler *assembler
}

// Backend is the FastCGI variant of backend.Backend.
type Backend struct {
	cfg       Config
	conns     sync.Map // connection id -> *connState
	limiter   *ratelimiter.Limiter
	perConn   *ratelimiter.Keyed
	metrics   metrics.CGIMetrics
	capValues []fcgi.Param
}

// Option configures a Backend.
type Option func(*Backend)

// WithLimiter sheds new requests with EndRequest(Overloaded) when l refuses.
func WithLimiter(l *ratelimiter.Limiter) Option {
	return func(b *Backend) { b.limiter = l }
}

// WithPerConnectionLimiter applies a separate bucket to every connection.
func WithPerConnectionLimiter(k *ratelimiter.Keyed) Option {
	return func(b *Backend) { b.perConn = k }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.CGIMetrics) Option {
	return func(b *Backend) {
		if m != nil {
			b.metrics = m
		}
	}
}

// New creates a FastCGI backend.
func New(cfg Config, opts ...Option) *Backend {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 1
	}
	b := &Backend{
		cfg:       cfg,
		metrics:   metrics.NewNoopCGIMetrics(),
		capValues: capabilityValues(cfg.MaxConns),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements backend.Backend.
func (b *Backend) Name() string {
	return backend.NameFastCGI
}

func (b *Backend) capabilities() []fcgi.Param {
	return b.capValues
}

func (b *Backend) admit(conn cgi.Conn) bool {
	return b.limiter.Allow() && b.perConn.Allow(conn.ID())
}

func (b *Backend) state(conn cgi.Conn) *connState {
	if v, ok := b.conns.Load(conn.ID()); ok {
		return v.(*connState)
	}
	st := &connState{
		decoder:   fcgi.NewDecoder(),
		assembler: newAssembler(b, conn),
	}
	b.conns.Store(conn.ID(), st)
	return st
}

// Feed implements backend.Backend.
func (b *Backend) Feed(conn cgi.Conn, data []byte, sink backend.Sink) error {
	if conn.Closed() {
		return nil
	}
	st := b.state(conn)

	err := st.decoder.Feed(data, func(rec fcgi.Record) error {
		b.metrics.RecordRecord(rec.Type.String())

		req, err := st.assembler.handle(rec)
		if err != nil {
			if !b.recoverable(conn, err) {
				return err
			}
		}
		if req != nil {
			sink.Handle(req)
		}

		if conn.Closed() {
			return errConnDone
		}
		return nil
	})

	switch {
	case err == nil, errors.Is(err, errConnDone):
		return nil
	case errors.Is(err, fcgi.ErrMalformedHeader):
		b.metrics.RecordProtocolError("malformed_header")
		return fmt.Errorf("connection %s: %w", conn.ID(), err)
	default:
		return fmt.Errorf("connection %s: %w", conn.ID(), err)
	}
}

// recoverable logs protocol anomalies that leave the connection usable.
func (b *Backend) recoverable(conn cgi.Conn, err error) bool {
	var kind string
	switch {
	case errors.Is(err, fcgi.ErrDuplicateRequestID):
		kind = "duplicate_request_id"
	case errors.Is(err, fcgi.ErrUnknownRequestID):
		kind = "unknown_request_id"
	case errors.Is(err, fcgi.ErrMalformedParams):
		kind = "malformed_params"
	case errors.Is(err, fcgi.ErrMalformedBody):
		kind = "malformed_body"
	case errors.Is(err, fcgi.ErrRequestTooLarge):
		b.metrics.RecordProtocolError("request_too_large")
		return false
	default:
		return false
	}

	b.metrics.RecordProtocolError(kind)
	logger.Warn("Ignoring record on %s: %v", conn.ID(), err)
	return true
}

// SendResponse implements backend.Backend.
func (b *Backend) SendResponse(req *cgi.Request, resp cgi.HTTPResponse) error {
	conn := req.Conn()
	if conn == nil || conn.Closed() {
		return backend.ErrConnectionClosed
	}

	head := encodeHeaderBlock(resp)
	payloadLen := len(head) + len(resp.Body)
	size := fcgi.StreamSize(payloadLen) + fcgi.HeaderSize + 8

	buf := fcgi.GetBuffer(size)
	defer func() { fcgi.PutBuffer(buf) }()

	payload := fcgi.GetBuffer(payloadLen)
	payload = append(payload, head...)
	payload = append(payload, resp.Body...)

	buf = fcgi.AppendStream(buf, fcgi.TypeStdout, req.RequestID, payload)
	fcgi.PutBuffer(payload)

	buf, err := fcgi.AppendRecord(buf, fcgi.TypeEndRequest, req.RequestID,
		fcgi.EndRequestBody{AppStatus: 0, ProtocolStatus: fcgi.StatusRequestComplete}.Bytes())
	if err != nil {
		return err
	}

	if err := conn.Write(buf); err != nil {
		return fmt.Errorf("write response for request %d: %w", req.RequestID, err)
	}
	return nil
}

// CleanUp implements backend.Backend.
func (b *Backend) CleanUp(conn cgi.Conn) {
	if conn == nil {
		return
	}

	v, ok := b.conns.Load(conn.ID())
	if !ok {
		if !conn.Closed() {
			_ = conn.Close()
		}
		return
	}
	st := v.(*connState)
	st.assembler.reset()

	if !conn.Closed() && st.assembler.keepConn {
		return
	}
	if !conn.Closed() {
		_ = conn.Close()
	}
	b.conns.Delete(conn.ID())
	b.perConn.Forget(conn.ID())
}

// Connections returns the number of connections with decode state.
func (b *Backend) Connections() int {
	n := 0
	b.conns.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// encodeHeaderBlock renders the CGI response header block: Status,
// Content-Type, the response headers in name order and Content-Length,
// terminated by an empty line.
//
// Fields with an invalid name or a value carrying CR, LF or other control
// characters are dropped, so handler output cannot add header lines.
func encodeHeaderBlock(resp cgi.HTTPResponse) []byte {
	var sb strings.Builder
	sb.Grow(128)

	sb.WriteString("Status: ")
	sb.WriteString(strconv.Itoa(resp.Status))
	sb.WriteByte(' ')
	sb.WriteString(resp.StatusText())
	sb.WriteString("\r\n")

	if resp.ContentType != "" && validHeaderField("Content-Type", resp.ContentType) {
		sb.WriteString("Content-Type: ")
		sb.WriteString(resp.ContentType)
		sb.WriteString("\r\n")
	}

	names := make([]string, 0, len(resp.Headers))
	for name := range resp.Headers {
		switch strings.ToLower(name) {
		case "status", "content-type", "content-length":
			continue
		}
		if !validHeaderField(name, resp.Headers[name]) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sb.WriteString(name)
		sb.WriteString(": ")
		sb.WriteString(resp.Headers[name])
		sb.WriteString("\r\n")
	}

	sb.WriteString("Content-Length: ")
	sb.WriteString(strconv.Itoa(len(resp.Body)))
	sb.WriteString("\r\n\r\n")

	return []byte(sb.String())
}

func validHeaderField(name, value string) bool {
	if httpguts.ValidHeaderFieldName(name) && httpguts.ValidHeaderFieldValue(value) {
		return true
	}
	logger.Warn("Dropping invalid response header %q", name)
	return false
}
