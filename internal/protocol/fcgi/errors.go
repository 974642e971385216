package fcgi

import "errors"

var (
	// ErrMalformedHeader is returned when a record header declares an
	// unsupported version or cannot be framed. It is fatal to the
	// connection: the stream cannot be resynchronized afterwards.
	ErrMalformedHeader = errors.New("fcgi: malformed record header")

	// ErrShortBody is returned when fewer than contentLength+paddingLength
	// bytes are supplied to DecodeBody.
	ErrShortBody = errors.New("fcgi: short record body")

	// ErrContentTooLarge is returned when content does not fit a single record.
	ErrContentTooLarge = errors.New("fcgi: record content exceeds 65535 bytes")

	// ErrMalformedParams is returned when a name/value pair block is truncated
	// or declares lengths that exceed the available bytes.
	ErrMalformedParams = errors.New("fcgi: malformed name-value pairs")

	// ErrMalformedBody is returned when a fixed-size record body (BeginRequest,
	// EndRequest) has the wrong length.
	ErrMalformedBody = errors.New("fcgi: malformed record body")

	// ErrDuplicateRequestID is returned when BeginRequest names a request id
	// that already has an in-flight request on the same connection.
	ErrDuplicateRequestID = errors.New("fcgi: duplicate request id")

	// ErrUnknownRequestID is returned when a record refers to a request id
	// that has no in-flight request on the connection.
	ErrUnknownRequestID = errors.New("fcgi: unknown request id")

	// ErrRequestTooLarge is returned when a request's params or body exceed
	// the configured limits. It is fatal to the connection.
	ErrRequestTooLarge = errors.New("fcgi: request exceeds size limit")
)
