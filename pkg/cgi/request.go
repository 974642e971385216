// Package cgi defines the protocol-independent request and response types
// that flow through the dispatch pipeline, and the function types of the
// pipeline's extension points.
package cgi

import (
	"net/url"
	"strings"
	"sync/atomic"
)

// Well-known CGI parameter names.
const (
	ParamRequestMethod  = "REQUEST_METHOD"
	ParamRequestURI     = "REQUEST_URI"
	ParamDocumentURI    = "DOCUMENT_URI"
	ParamScriptName     = "SCRIPT_NAME"
	ParamPathInfo       = "PATH_INFO"
	ParamQueryString    = "QUERY_STRING"
	ParamContentType    = "CONTENT_TYPE"
	ParamContentLength  = "CONTENT_LENGTH"
	ParamServerProtocol = "SERVER_PROTOCOL"
	ParamRemoteAddr     = "REMOTE_ADDR"
	ParamHTTPPrefix     = "HTTP_"
)

// completion is the one-shot completion marker shared by a request and every
// copy derived from it by pre-processing.
type completion struct {
	done atomic.Bool
}

// Request is a fully assembled application request.
//
// A Request is immutable once assembled: pre-processing stages derive new
// values with WithPath / WithParam instead of mutating. All values derived
// from the same assembled request share one completion marker, so Finish
// succeeds exactly once per logical request.
type Request struct {
	// Path is the path used for routing.
	Path string

	// Params holds the CGI parameters. Keys are unique.
	Params map[string]string

	// Body is the request body (Stdin stream).
	Body []byte

	// RequestID is the protocol request id (always 1 for the direct backend).
	RequestID uint16

	// KeepConn asks that the connection stays open after the response.
	KeepConn bool

	conn       Conn
	completion *completion
}

// NewRequest builds a request owned by conn. The routing path is derived
// from params (see PathFromParams).
func NewRequest(conn Conn, requestID uint16, params map[string]string, body []byte, keepConn bool) *Request {
	if params == nil {
		params = make(map[string]string)
	}
	return &Request{
		Path:       PathFromParams(params),
		Params:     params,
		Body:       body,
		RequestID:  requestID,
		KeepConn:   keepConn,
		conn:       conn,
		completion: &completion{},
	}
}

// PathFromParams picks the routing path from CGI parameters:
// DOCUMENT_URI, then SCRIPT_NAME+PATH_INFO, then REQUEST_URI without its
// query string, then "/".
func PathFromParams(params map[string]string) string {
	if p := params[ParamDocumentURI]; p != "" {
		return p
	}
	if p := params[ParamScriptName] + params[ParamPathInfo]; p != "" {
		return p
	}
	if p := params[ParamRequestURI]; p != "" {
		if i := strings.IndexByte(p, '?'); i >= 0 {
			p = p[:i]
		}
		if p != "" {
			return p
		}
	}
	return "/"
}

// Conn returns the connection the request arrived on. The relation is
// non-owning: holding a Request never keeps a connection alive.
func (r *Request) Conn() Conn {
	return r.conn
}

// Finish sets the completion marker. It returns true only for the first call
// across the request and all of its derived copies.
func (r *Request) Finish() bool {
	if r.completion == nil {
		return false
	}
	return r.completion.done.CompareAndSwap(false, true)
}

// Finished reports whether Finish has been called.
func (r *Request) Finished() bool {
	return r.completion != nil && r.completion.done.Load()
}

// Param returns a CGI parameter, or "" if absent.
func (r *Request) Param(name string) string {
	return r.Params[name]
}

// Method returns REQUEST_METHOD, defaulting to GET.
func (r *Request) Method() string {
	if m := r.Params[ParamRequestMethod]; m != "" {
		return m
	}
	return "GET"
}

// Query parses QUERY_STRING. Malformed pairs are skipped.
func (r *Request) Query() url.Values {
	values, _ := url.ParseQuery(r.Params[ParamQueryString])
	return values
}

// Header returns an HTTP request header forwarded by the web server as an
// HTTP_* parameter. name is matched case-insensitively with '-' as '_'.
func (r *Request) Header(name string) string {
	key := ParamHTTPPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	return r.Params[key]
}

// ContentType returns CONTENT_TYPE.
func (r *Request) ContentType() string {
	return r.Params[ParamContentType]
}

// WithPath returns a copy of the request routed to path.
func (r *Request) WithPath(path string) *Request {
	c := *r
	c.Path = path
	return &c
}

// WithParam returns a copy of the request with one parameter set.
// The receiver's parameter map is not modified.
func (r *Request) WithParam(name, value string) *Request {
	c := *r
	c.Params = make(map[string]string, len(r.Params)+1)
	for k, v := range r.Params {
		c.Params[k] = v
	}
	c.Params[name] = value
	return &c
}
