// Package adapter defines the transport boundary.
//
// An Adapter accepts connections and delivers their bytes to an Events
// implementation, which the server provides. Every connection is served by
// its own goroutine: events for one connection never run concurrently,
// events for different connections do.
package adapter

import (
	"context"
	"fmt"

	"github.com/marmos91/dittocgi/pkg/cgi"
)

// Events receives the lifecycle of every connection.
type Events interface {
	// OnAccept is called once, before any data, from the connection's
	// goroutine.
	OnAccept(conn cgi.Conn)

	// OnData delivers bytes read from conn. data is only valid for the
	// duration of the call. A non-nil error closes the connection.
	OnData(conn cgi.Conn, data []byte) error

	// OnDisconnect is called once when the connection is gone, whatever
	// the reason. conn.Closed() is true by then.
	OnDisconnect(conn cgi.Conn)
}

// Adapter is a transport that can be run by the server.
//
// Lifecycle:
//  1. SetEvents is called once before Serve
//  2. Serve binds and blocks until ctx is cancelled or Stop is called
//  3. Stop shuts down gracefully and may run concurrently with Serve
type Adapter interface {
	// Serve binds the listener and serves connections. Bind failures are
	// returned as *BindError.
	Serve(ctx context.Context) error

	// SetEvents injects the connection event sink.
	SetEvents(events Events)

	// Stop initiates graceful shutdown. Safe to call more than once.
	Stop(ctx context.Context) error

	// Protocol names the transport for logging ("TCP").
	Protocol() string

	// Port returns the listening port, or the configured one before Serve.
	Port() int
}

// BindError reports that a listener could not be created.
type BindError struct {
	Address string
	Err     error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Address, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}
