package fastcgi

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/marmos91/dittocgi/internal/protocol/fcgi"
	"github.com/marmos91/dittocgi/internal/ratelimiter"
	"github.com/marmos91/dittocgi/pkg/backend"
	"github.com/marmos91/dittocgi/pkg/cgi"
	"github.com/marmos91/dittocgi/pkg/cgi/cgitest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Stream builders
// ============================================================================

func record(t *testing.T, typ fcgi.RecordType, id uint16, content []byte) []byte {
	t.Helper()
	b, err := fcgi.Encode(typ, id, content)
	require.NoError(t, err)
	return b
}

func begin(t *testing.T, id uint16, role fcgi.Role, flags fcgi.Flags) []byte {
	return record(t, fcgi.TypeBeginRequest, id, fcgi.BeginRequestBody{Role: role, Flags: flags}.Bytes())
}

// requestStream encodes a complete responder request.
func requestStream(t *testing.T, id uint16, flags fcgi.Flags, params []fcgi.Param, body []byte) []byte {
	var out []byte
	out = append(out, begin(t, id, fcgi.RoleResponder, flags)...)
	if enc := fcgi.EncodeParams(params); len(enc) > 0 {
		out = append(out, record(t, fcgi.TypeParams, id, enc)...)
	}
	out = append(out, record(t, fcgi.TypeParams, id, nil)...)
	if len(body) > 0 {
		out = append(out, record(t, fcgi.TypeStdin, id, body)...)
	}
	out = append(out, record(t, fcgi.TypeStdin, id, nil)...)
	return out
}

type collector struct {
	requests []*cgi.Request
	onHandle func(*cgi.Request)
}

func (c *collector) Handle(req *cgi.Request) {
	c.requests = append(c.requests, req)
	if c.onHandle != nil {
		c.onHandle(req)
	}
}

// written decodes every record written to conn. Contents are copied.
func written(t *testing.T, conn *cgitest.Conn) []fcgi.Record {
	t.Helper()
	var out []fcgi.Record
	err := fcgi.NewDecoder().Feed(conn.Written(), func(r fcgi.Record) error {
		r.Content = append([]byte(nil), r.Content...)
		out = append(out, r)
		return nil
	})
	require.NoError(t, err)
	return out
}

func endStatus(t *testing.T, rec fcgi.Record) fcgi.ProtocolStatus {
	t.Helper()
	require.Equal(t, fcgi.TypeEndRequest, rec.Type)
	body, err := fcgi.DecodeEndRequest(rec.Content)
	require.NoError(t, err)
	return body.ProtocolStatus
}

// ============================================================================
// Assembly
// ============================================================================

func TestFeedAssemblesRequest(t *testing.T) {
	b := New(Config{})
	conn := cgitest.NewConn("c1")
	sink := &collector{}

	params := []fcgi.Param{
		{Name: "REQUEST_METHOD", Value: "POST"},
		{Name: "DOCUMENT_URI", Value: "/submit"},
		{Name: "HTTP_HOST", Value: "example.com"},
	}
	require.NoError(t, b.Feed(conn, requestStream(t, 1, 0, params, []byte("payload")), sink))

	require.Len(t, sink.requests, 1)
	req := sink.requests[0]
	assert.Equal(t, uint16(1), req.RequestID)
	assert.Equal(t, "/submit", req.Path)
	assert.Equal(t, "POST", req.Method())
	assert.Equal(t, "example.com", req.Header("Host"))
	assert.Equal(t, []byte("payload"), req.Body)
	assert.False(t, req.KeepConn)
	assert.Same(t, conn, req.Conn())
}

func TestFeedChunkingInvariance(t *testing.T) {
	params := []fcgi.Param{
		{Name: "SHORT", Value: "v"},
		{Name: "LONG", Value: string(bytes.Repeat([]byte("x"), 300))},
		{Name: "DOCUMENT_URI", Value: "/chunked"},
	}
	body := bytes.Repeat([]byte("0123456789"), 50)
	stream := requestStream(t, 7, 0, params, body)

	for _, size := range []int{1, 3, 8, 13, 64, len(stream)} {
		conn := cgitest.NewConn("c")
		sink := &collector{}
		b := New(Config{})

		for off := 0; off < len(stream); off += size {
			end := min(off+size, len(stream))
			require.NoError(t, b.Feed(conn, stream[off:end], sink))
		}

		require.Len(t, sink.requests, 1, "chunk size %d", size)
		req := sink.requests[0]
		assert.Equal(t, "v", req.Param("SHORT"))
		assert.Len(t, req.Param("LONG"), 300)
		assert.Equal(t, body, req.Body)
	}
}

func TestParamsSplitAcrossRecords(t *testing.T) {
	enc := fcgi.EncodeParams([]fcgi.Param{
		{Name: "A", Value: "1"},
		{Name: "NAME_WITH_LONG_VALUE", Value: string(bytes.Repeat([]byte("v"), 200))},
		{Name: "A", Value: "2"},
	})

	for split := 0; split <= len(enc); split++ {
		var stream []byte
		stream = append(stream, begin(t, 1, fcgi.RoleResponder, 0)...)
		if split > 0 {
			stream = append(stream, record(t, fcgi.TypeParams, 1, enc[:split])...)
		}
		if split < len(enc) {
			stream = append(stream, record(t, fcgi.TypeParams, 1, enc[split:])...)
		}
		stream = append(stream, record(t, fcgi.TypeParams, 1, nil)...)
		stream = append(stream, record(t, fcgi.TypeStdin, 1, nil)...)

		sink := &collector{}
		require.NoError(t, New(Config{}).Feed(cgitest.NewConn("c"), stream, sink))
		require.Len(t, sink.requests, 1)
		assert.Equal(t, "2", sink.requests[0].Param("A"), "last write wins (split %d)", split)
		assert.Len(t, sink.requests[0].Param("NAME_WITH_LONG_VALUE"), 200)
	}
}

func TestBodySplitAcrossRecords(t *testing.T) {
	body := []byte("the quick brown fox jumps over the lazy dog")
	for _, parts := range [][]int{{1}, {5, 10}, {len(body)}, {1, 1, 1, 1}} {
		var stream []byte
		stream = append(stream, begin(t, 1, fcgi.RoleResponder, 0)...)
		stream = append(stream, record(t, fcgi.TypeParams, 1, nil)...)
		rest := body
		for _, n := range parts {
			n = min(n, len(rest))
			stream = append(stream, record(t, fcgi.TypeStdin, 1, rest[:n])...)
			rest = rest[n:]
		}
		if len(rest) > 0 {
			stream = append(stream, record(t, fcgi.TypeStdin, 1, rest)...)
		}
		stream = append(stream, record(t, fcgi.TypeStdin, 1, nil)...)

		sink := &collector{}
		require.NoError(t, New(Config{}).Feed(cgitest.NewConn("c"), stream, sink))
		require.Len(t, sink.requests, 1)
		assert.Equal(t, body, sink.requests[0].Body)
	}
}

// ============================================================================
// Protocol anomalies and rejections
// ============================================================================

func TestAbortRequest(t *testing.T) {
	b := New(Config{})
	conn := cgitest.NewConn("c1")
	sink := &collector{}

	stream := begin(t, 1, fcgi.RoleResponder, 0)
	stream = append(stream, record(t, fcgi.TypeParams, 1, fcgi.EncodeParams([]fcgi.Param{{Name: "A", Value: "1"}}))...)
	stream = append(stream, record(t, fcgi.TypeAbortRequest, 1, nil)...)

	require.NoError(t, b.Feed(conn, stream, sink))

	assert.Empty(t, sink.requests)
	recs := written(t, conn)
	require.Len(t, recs, 1)
	assert.Equal(t, uint16(1), recs[0].RequestID)
	assert.Equal(t, fcgi.StatusRequestComplete, endStatus(t, recs[0]))
	assert.True(t, conn.Closed(), "aborted request without KeepConn closes the connection")
}

func TestDuplicateRequestIDDropsNewBegin(t *testing.T) {
	b := New(Config{})
	conn := cgitest.NewConn("c1")
	sink := &collector{}

	stream := begin(t, 1, fcgi.RoleResponder, 0)
	stream = append(stream, record(t, fcgi.TypeParams, 1, fcgi.EncodeParams([]fcgi.Param{{Name: "FIRST", Value: "yes"}}))...)
	stream = append(stream, begin(t, 1, fcgi.RoleResponder, 0)...)
	stream = append(stream, record(t, fcgi.TypeParams, 1, nil)...)
	stream = append(stream, record(t, fcgi.TypeStdin, 1, nil)...)

	require.NoError(t, b.Feed(conn, stream, sink))
	require.Len(t, sink.requests, 1)
	assert.Equal(t, "yes", sink.requests[0].Param("FIRST"), "the first context survives")
	assert.Empty(t, conn.Writes())
}

func TestSecondRequestCannotMultiplex(t *testing.T) {
	b := New(Config{})
	conn := cgitest.NewConn("c1")
	sink := &collector{}

	stream := begin(t, 1, fcgi.RoleResponder, 0)
	stream = append(stream, begin(t, 2, fcgi.RoleResponder, fcgi.FlagKeepConn)...)
	stream = append(stream, record(t, fcgi.TypeParams, 1, nil)...)
	stream = append(stream, record(t, fcgi.TypeStdin, 1, nil)...)

	require.NoError(t, b.Feed(conn, stream, sink))

	recs := written(t, conn)
	require.Len(t, recs, 1)
	assert.Equal(t, uint16(2), recs[0].RequestID)
	assert.Equal(t, fcgi.StatusCannotMultiplex, endStatus(t, recs[0]))
	require.Len(t, sink.requests, 1)
	assert.Equal(t, uint16(1), sink.requests[0].RequestID)
}

func TestUnknownRoleRejected(t *testing.T) {
	b := New(Config{})
	conn := cgitest.NewConn("c1")

	require.NoError(t, b.Feed(conn, begin(t, 1, fcgi.RoleAuthorizer, 0), &collector{}))

	recs := written(t, conn)
	require.Len(t, recs, 1)
	assert.Equal(t, fcgi.StatusUnknownRole, endStatus(t, recs[0]))
	assert.True(t, conn.Closed())
}

func TestOverloadedRejected(t *testing.T) {
	b := New(Config{}, WithLimiter(ratelimiter.New(1, 1)))
	conn := cgitest.NewConn("c1")
	sink := &collector{onHandle: func(req *cgi.Request) { b.CleanUp(req.Conn()) }}

	require.NoError(t, b.Feed(conn, requestStream(t, 1, fcgi.FlagKeepConn, nil, nil), sink))
	require.Len(t, sink.requests, 1)
	require.False(t, conn.Closed())

	require.NoError(t, b.Feed(conn, begin(t, 2, fcgi.RoleResponder, fcgi.FlagKeepConn), sink))
	recs := written(t, conn)
	require.Len(t, recs, 1)
	assert.Equal(t, uint16(2), recs[0].RequestID)
	assert.Equal(t, fcgi.StatusOverloaded, endStatus(t, recs[0]))
	assert.False(t, conn.Closed(), "KeepConn keeps the connection after a rejection")
}

func TestPerConnectionLimiter(t *testing.T) {
	keyed := ratelimiter.NewKeyed(1, 1)
	b := New(Config{}, WithPerConnectionLimiter(keyed))
	sink := &collector{}

	a := cgitest.NewConn("a")
	require.NoError(t, b.Feed(a, requestStream(t, 1, 0, nil, nil), sink))
	require.Len(t, sink.requests, 1)

	other := cgitest.NewConn("b")
	require.NoError(t, b.Feed(other, requestStream(t, 1, 0, nil, nil), sink))
	assert.Len(t, sink.requests, 2, "connections have separate buckets")

	b.CleanUp(a)
	b.CleanUp(other)
	assert.Equal(t, 0, keyed.Len())
}

func TestUnknownRequestIDIgnored(t *testing.T) {
	b := New(Config{})
	conn := cgitest.NewConn("c1")
	sink := &collector{}

	stream := record(t, fcgi.TypeStdin, 9, []byte("orphan"))
	stream = append(stream, requestStream(t, 1, 0, nil, []byte("ok"))...)

	require.NoError(t, b.Feed(conn, stream, sink))
	require.Len(t, sink.requests, 1)
	assert.Equal(t, []byte("ok"), sink.requests[0].Body)
}

func TestMalformedHeaderIsFatal(t *testing.T) {
	b := New(Config{})
	conn := cgitest.NewConn("c1")

	bad := record(t, fcgi.TypeBeginRequest, 1, fcgi.BeginRequestBody{Role: fcgi.RoleResponder}.Bytes())
	bad[0] = 2

	err := b.Feed(conn, bad, &collector{})
	require.ErrorIs(t, err, fcgi.ErrMalformedHeader)
}

func TestRequestTooLarge(t *testing.T) {
	t.Run("Body", func(t *testing.T) {
		b := New(Config{MaxBodySize: 4})
		err := b.Feed(cgitest.NewConn("c"), requestStream(t, 1, 0, nil, []byte("too long")), &collector{})
		assert.ErrorIs(t, err, fcgi.ErrRequestTooLarge)
	})

	t.Run("Params", func(t *testing.T) {
		b := New(Config{MaxParamsSize: 8})
		params := []fcgi.Param{{Name: "NAME", Value: "a long value"}}
		err := b.Feed(cgitest.NewConn("c"), requestStream(t, 1, 0, params, nil), &collector{})
		assert.ErrorIs(t, err, fcgi.ErrRequestTooLarge)
	})
}

// ============================================================================
// Management records
// ============================================================================

func TestGetValues(t *testing.T) {
	b := New(Config{MaxConns: 64})
	conn := cgitest.NewConn("c1")

	query := fcgi.EncodeParams([]fcgi.Param{
		{Name: fcgi.ValueMaxReqs},
		{Name: fcgi.ValueMpxsConns},
		{Name: fcgi.ValueMaxConns},
		{Name: "FCGI_UNKNOWN"},
	})
	require.NoError(t, b.Feed(conn, record(t, fcgi.TypeGetValues, 0, query), &collector{}))

	recs := written(t, conn)
	require.Len(t, recs, 1)
	assert.Equal(t, fcgi.TypeGetValuesResult, recs[0].Type)
	assert.Equal(t, fcgi.NullRequestID, recs[0].RequestID)

	values, err := fcgi.DecodeParams(recs[0].Content)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		fcgi.ValueMaxConns:  "64",
		fcgi.ValueMaxReqs:   "1",
		fcgi.ValueMpxsConns: "0",
	}, values)
	assert.False(t, conn.Closed())
}

func TestUnknownManagementType(t *testing.T) {
	b := New(Config{})
	conn := cgitest.NewConn("c1")

	require.NoError(t, b.Feed(conn, record(t, fcgi.RecordType(42), 0, nil), &collector{}))

	recs := written(t, conn)
	require.Len(t, recs, 1)
	assert.Equal(t, fcgi.TypeUnknownType, recs[0].Type)
	assert.Equal(t, byte(42), recs[0].Content[0])
}

// ============================================================================
// Responses and cleanup
// ============================================================================

func TestSendResponse(t *testing.T) {
	b := New(Config{})
	conn := cgitest.NewConn("c1")
	req := cgi.NewRequest(conn, 3, nil, nil, false)

	resp := cgi.Text(http.StatusOK, "hello").WithHeader("X-Trace", "abc")
	require.NoError(t, b.SendResponse(req, resp))
	require.Len(t, conn.Writes(), 1, "one write per response")

	recs := written(t, conn)
	require.Len(t, recs, 3)
	assert.Equal(t, fcgi.TypeStdout, recs[0].Type)
	assert.Equal(t, uint16(3), recs[0].RequestID)
	assert.Equal(t,
		"Status: 200 OK\r\nContent-Type: text/plain; charset=utf-8\r\nX-Trace: abc\r\nContent-Length: 5\r\n\r\nhello",
		string(recs[0].Content))
	assert.True(t, recs[1].IsEndOfStream())
	assert.Equal(t, fcgi.StatusRequestComplete, endStatus(t, recs[2]))
}

func TestSendResponseDropsInvalidHeaders(t *testing.T) {
	b := New(Config{})
	conn := cgitest.NewConn("c1")
	req := cgi.NewRequest(conn, 1, nil, nil, false)

	resp := cgi.Text(http.StatusOK, "ok").
		WithHeader("X-Echo", "value\r\nSet-Cookie: session=stolen").
		WithHeader("X-Bad\nName", "v").
		WithHeader("X-Good", "kept")
	resp.ContentType = "text/html\r\nLocation: /evil"
	require.NoError(t, b.SendResponse(req, resp))

	recs := written(t, conn)
	require.NotEmpty(t, recs)
	assert.Equal(t,
		"Status: 200 OK\r\nX-Good: kept\r\nContent-Length: 2\r\n\r\nok",
		string(recs[0].Content))
}

func TestSendLargeResponse(t *testing.T) {
	b := New(Config{})
	conn := cgitest.NewConn("c1")
	body := bytes.Repeat([]byte("z"), 3*fcgi.MaxContentLength)

	require.NoError(t, b.SendResponse(cgi.NewRequest(conn, 1, nil, nil, false), cgi.NewResponse(200, "application/octet-stream", body)))

	var stdout []byte
	for _, r := range written(t, conn) {
		if r.Type == fcgi.TypeStdout {
			assert.LessOrEqual(t, len(r.Content), fcgi.MaxContentLength)
			stdout = append(stdout, r.Content...)
		}
	}
	assert.True(t, bytes.HasSuffix(stdout, body))
}

func TestSendResponseClosedConnection(t *testing.T) {
	b := New(Config{})
	conn := cgitest.NewConn("c1")
	_ = conn.Close()

	err := b.SendResponse(cgi.NewRequest(conn, 1, nil, nil, false), cgi.Text(200, "x"))
	assert.ErrorIs(t, err, backend.ErrConnectionClosed)
}

func TestCleanUpClosesWithoutKeepConn(t *testing.T) {
	b := New(Config{})
	conn := cgitest.NewConn("c1")
	sink := &collector{onHandle: func(req *cgi.Request) { b.CleanUp(req.Conn()) }}

	// The second request in the same chunk is never assembled: the
	// connection is closed after the first.
	stream := requestStream(t, 1, 0, nil, nil)
	stream = append(stream, requestStream(t, 2, 0, nil, nil)...)
	require.NoError(t, b.Feed(conn, stream, sink))

	assert.Len(t, sink.requests, 1)
	assert.True(t, conn.Closed())
	assert.Equal(t, 0, b.Connections())
}

func TestCleanUpKeepConn(t *testing.T) {
	b := New(Config{})
	conn := cgitest.NewConn("c1")
	sink := &collector{onHandle: func(req *cgi.Request) { b.CleanUp(req.Conn()) }}

	stream := requestStream(t, 1, fcgi.FlagKeepConn, nil, []byte("one"))
	stream = append(stream, requestStream(t, 1, fcgi.FlagKeepConn, nil, []byte("two"))...)
	require.NoError(t, b.Feed(conn, stream, sink))

	require.Len(t, sink.requests, 2)
	assert.Equal(t, []byte("two"), sink.requests[1].Body)
	assert.False(t, conn.Closed())
	assert.Equal(t, 1, b.Connections())

	// Disconnect drops the remaining state, including a half-read request.
	require.NoError(t, b.Feed(conn, begin(t, 5, fcgi.RoleResponder, fcgi.FlagKeepConn), sink))
	_ = conn.Close()
	b.CleanUp(conn)
	assert.Equal(t, 0, b.Connections())
	assert.Len(t, sink.requests, 2)
}

func TestCleanUpUnknownConnection(t *testing.T) {
	b := New(Config{})
	conn := cgitest.NewConn("never-fed")
	assert.NotPanics(t, func() { b.CleanUp(conn) })
	assert.True(t, conn.Closed())
	assert.NotPanics(t, func() { b.CleanUp(nil) })
}
