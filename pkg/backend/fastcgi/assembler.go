package fastcgi

import (
	"fmt"
	"strconv"

	"github.com/marmos91/dittocgi/internal/logger"
	"github.com/marmos91/dittocgi/internal/protocol/fcgi"
	"github.com/marmos91/dittocgi/pkg/cgi"
)

// requestContext accumulates one request until both of its streams close.
type requestContext struct {
	id    uint16
	role  fcgi.Role
	flags fcgi.Flags

	params     map[string]string
	pending    []byte // incomplete name/value pair carried to the next Params record
	paramsSize int

	body []byte

	paramsClosed bool
	bodyClosed   bool
}

// assembler rebuilds requests from the records of one connection.
//
// Only the connection's own goroutine touches an assembler, so it holds no
// locks.
type assembler struct {
	backend  *Backend
	conn     cgi.Conn
	requests map[uint16]*requestContext

	// keepConn is the KeepConn flag of the most recently promoted request;
	// CleanUp consults it after dispatch.
	keepConn bool
}

func newAssembler(b *Backend, conn cgi.Conn) *assembler {
	return &assembler{
		backend:  b,
		conn:     conn,
		requests: make(map[uint16]*requestContext),
	}
}

// handle applies one record. It returns a completed request when rec closed
// a request's body stream.
//
// ErrDuplicateRequestID, ErrUnknownRequestID and ErrMalformedParams report
// anomalies the caller logs before continuing; ErrRequestTooLarge and write
// failures are fatal.
func (a *assembler) handle(rec fcgi.Record) (*cgi.Request, error) {
	if rec.RequestID == fcgi.NullRequestID {
		return nil, a.handleManagement(rec)
	}

	switch rec.Type {
	case fcgi.TypeBeginRequest:
		return nil, a.begin(rec)
	case fcgi.TypeAbortRequest:
		return nil, a.abort(rec)
	case fcgi.TypeParams:
		return nil, a.params(rec)
	case fcgi.TypeStdin:
		return a.stdin(rec)
	default:
		ctx, ok := a.requests[rec.RequestID]
		if !ok {
			return nil, fmt.Errorf("%w: %d (%s)", fcgi.ErrUnknownRequestID, rec.RequestID, rec.Type)
		}
		// Data belongs to the filter role and the rest flow app -> server.
		logger.Debug("Ignoring %s record for request %d on %s", rec.Type, ctx.id, a.conn.ID())
		return nil, nil
	}
}

func (a *assembler) begin(rec fcgi.Record) error {
	body, err := fcgi.DecodeBeginRequest(rec.Content)
	if err != nil {
		return fmt.Errorf("request %d: %w", rec.RequestID, err)
	}

	if _, exists := a.requests[rec.RequestID]; exists {
		return fmt.Errorf("%w: %d", fcgi.ErrDuplicateRequestID, rec.RequestID)
	}

	if len(a.requests) > 0 {
		return a.reject(rec.RequestID, body.Flags, fcgi.StatusCannotMultiplex)
	}
	if body.Role != fcgi.RoleResponder {
		return a.reject(rec.RequestID, body.Flags, fcgi.StatusUnknownRole)
	}
	if !a.backend.admit(a.conn) {
		return a.reject(rec.RequestID, body.Flags, fcgi.StatusOverloaded)
	}

	a.requests[rec.RequestID] = &requestContext{
		id:     rec.RequestID,
		role:   body.Role,
		flags:  body.Flags,
		params: make(map[string]string),
	}
	return nil
}

// reject answers a BeginRequest that will never be served.
func (a *assembler) reject(id uint16, flags fcgi.Flags, status fcgi.ProtocolStatus) error {
	logger.Debug("Rejecting request %d on %s: %s", id, a.conn.ID(), status)
	a.backend.metrics.RecordRejected(status.String())

	if err := a.writeEndRequest(id, status); err != nil {
		return err
	}
	if len(a.requests) == 0 && !flags.KeepConn() {
		_ = a.conn.Close()
	}
	return nil
}

func (a *assembler) abort(rec fcgi.Record) error {
	ctx, ok := a.requests[rec.RequestID]
	if !ok {
		return fmt.Errorf("%w: %d (%s)", fcgi.ErrUnknownRequestID, rec.RequestID, rec.Type)
	}
	delete(a.requests, rec.RequestID)
	logger.Debug("Request %d aborted on %s", rec.RequestID, a.conn.ID())

	if err := a.writeEndRequest(rec.RequestID, fcgi.StatusRequestComplete); err != nil {
		return err
	}
	if len(a.requests) == 0 && !ctx.flags.KeepConn() {
		_ = a.conn.Close()
	}
	return nil
}

func (a *assembler) params(rec fcgi.Record) error {
	ctx, ok := a.requests[rec.RequestID]
	if !ok {
		return fmt.Errorf("%w: %d (%s)", fcgi.ErrUnknownRequestID, rec.RequestID, rec.Type)
	}
	if ctx.paramsClosed {
		logger.Debug("Ignoring Params after terminator for request %d on %s", ctx.id, a.conn.ID())
		return nil
	}

	if len(rec.Content) == 0 {
		ctx.paramsClosed = true
		if len(ctx.pending) > 0 {
			n := len(ctx.pending)
			ctx.pending = nil
			return fmt.Errorf("%w: request %d: %d trailing bytes", fcgi.ErrMalformedParams, ctx.id, n)
		}
		return nil
	}

	ctx.paramsSize += len(rec.Content)
	if limit := a.backend.cfg.MaxParamsSize; limit > 0 && ctx.paramsSize > limit {
		return fmt.Errorf("%w: params of request %d exceed %d bytes", fcgi.ErrRequestTooLarge, ctx.id, limit)
	}

	// Content aliases the decoder buffer, so the unconsumed tail is copied.
	data := rec.Content
	if len(ctx.pending) > 0 {
		data = append(ctx.pending, rec.Content...)
	}
	consumed := fcgi.ParseParams(data, func(name, value string) {
		ctx.params[name] = value
	})
	ctx.pending = append(ctx.pending[:0:0], data[consumed:]...)
	return nil
}

func (a *assembler) stdin(rec fcgi.Record) (*cgi.Request, error) {
	ctx, ok := a.requests[rec.RequestID]
	if !ok {
		return nil, fmt.Errorf("%w: %d (%s)", fcgi.ErrUnknownRequestID, rec.RequestID, rec.Type)
	}

	if len(rec.Content) > 0 {
		if limit := a.backend.cfg.MaxBodySize; limit > 0 && len(ctx.body)+len(rec.Content) > limit {
			return nil, fmt.Errorf("%w: body of request %d exceeds %d bytes", fcgi.ErrRequestTooLarge, ctx.id, limit)
		}
		ctx.body = append(ctx.body, rec.Content...)
		return nil, nil
	}

	ctx.bodyClosed = true
	if !ctx.paramsClosed {
		logger.Warn("Request %d on %s closed its body before its params", ctx.id, a.conn.ID())
	}

	delete(a.requests, ctx.id)
	a.keepConn = ctx.flags.KeepConn()
	a.backend.metrics.RecordBytesTransferred("in", int64(len(ctx.body)))

	return cgi.NewRequest(a.conn, ctx.id, ctx.params, ctx.body, ctx.flags.KeepConn()), nil
}

// handleManagement answers records addressed to request id 0.
func (a *assembler) handleManagement(rec fcgi.Record) error {
	if rec.Type != fcgi.TypeGetValues {
		logger.Debug("Unknown management record %s on %s", rec.Type, a.conn.ID())
		return a.write(fcgi.TypeUnknownType, fcgi.NullRequestID, fcgi.UnknownTypeBody(rec.Type))
	}

	asked, err := fcgi.DecodeParams(rec.Content)
	if err != nil {
		return fmt.Errorf("get values: %w", err)
	}

	var result []fcgi.Param
	for _, v := range a.backend.capabilities() {
		if _, ok := asked[v.Name]; ok {
			result = append(result, v)
		}
	}
	return a.write(fcgi.TypeGetValuesResult, fcgi.NullRequestID, fcgi.EncodeParams(result))
}

func (a *assembler) writeEndRequest(id uint16, status fcgi.ProtocolStatus) error {
	return a.write(fcgi.TypeEndRequest, id, fcgi.EndRequestBody{ProtocolStatus: status}.Bytes())
}

func (a *assembler) write(t fcgi.RecordType, id uint16, content []byte) error {
	rec, err := fcgi.Encode(t, id, content)
	if err != nil {
		return err
	}
	if err := a.conn.Write(rec); err != nil {
		return fmt.Errorf("write %s: %w", t, err)
	}
	return nil
}

// reset drops every in-flight request.
func (a *assembler) reset() {
	clear(a.requests)
}

// capabilityValues builds the GetValuesResult table.
func capabilityValues(maxConns int) []fcgi.Param {
	return []fcgi.Param{
		{Name: fcgi.ValueMaxConns, Value: strconv.Itoa(maxConns)},
		{Name: fcgi.ValueMaxReqs, Value: "1"},
		{Name: fcgi.ValueMpxsConns, Value: "0"},
	}
}
