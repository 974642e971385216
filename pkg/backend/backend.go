// Package backend defines the boundary between the transport and the
// dispatch pipeline.
//
// A Backend turns connection bytes into completed requests and encodes
// responses back onto the connection. Two variants exist: the FastCGI
// record backend (pkg/backend/fastcgi) and the direct HTTP/1.x backend
// (pkg/backend/direct). The server and the dispatcher do not know which one
// is active.
package backend

import (
	"errors"

	"github.com/marmos91/dittocgi/pkg/cgi"
)

// Names accepted by the server configuration.
const (
	NameFastCGI = "fastcgi"
	NameDirect  = "direct"
)

// ErrConnectionClosed is returned by SendResponse when the request's
// connection is gone.
var ErrConnectionClosed = errors.New("backend: connection closed")

// Sink receives completed requests. The dispatcher implements it.
type Sink interface {
	Handle(req *cgi.Request)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(req *cgi.Request)

// Handle calls f(req).
func (f SinkFunc) Handle(req *cgi.Request) {
	f(req)
}

// Backend is implemented by each wire protocol variant.
//
// Feed, SendResponse and CleanUp for one connection are only ever called
// from that connection's execution context; different connections call
// concurrently.
type Backend interface {
	// Name returns NameFastCGI or NameDirect.
	Name() string

	// Feed consumes bytes read from conn. Every request completed by these
	// bytes is handed to sink synchronously, in arrival order. A non-nil
	// error is fatal to the connection.
	Feed(conn cgi.Conn, data []byte, sink Sink) error

	// SendResponse encodes resp for req and writes it to req.Conn() with a
	// single write.
	SendResponse(req *cgi.Request, resp cgi.HTTPResponse) error

	// CleanUp discards every pending request of conn. Unless the last
	// request asked to keep the connection open, the connection is closed
	// and all of its state released. Safe to call for unknown connections.
	CleanUp(conn cgi.Conn)
}
