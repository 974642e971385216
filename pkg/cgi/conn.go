package cgi

// Conn is the transport connection a request arrived on, as seen by the
// backends and the dispatcher.
//
// Implementations are supplied by the transport adapter. Write performs a
// single outbound write; partial writes are the transport's concern.
type Conn interface {
	// ID uniquely identifies the connection for its whole lifetime.
	ID() string

	// RemoteAddr is the peer address, for logging.
	RemoteAddr() string

	// Write sends p to the peer in one call.
	Write(p []byte) error

	// Close closes the connection. Safe to call more than once.
	Close() error

	// Closed reports whether Close has been called or the peer has gone away.
	Closed() bool
}
