package transforms

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/marmos91/dittocgi/internal/logger"
	"github.com/marmos91/dittocgi/pkg/cgi"
	"github.com/marmos91/dittocgi/pkg/cgi/cgitest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(path string, headers map[string]string) *cgi.Request {
	params := map[string]string{
		cgi.ParamRequestMethod: http.MethodGet,
		cgi.ParamRequestURI:    path,
	}
	for k, v := range headers {
		params[k] = v
	}
	return cgi.NewRequest(cgitest.NewConn("c1"), 1, params, nil, false)
}

// ============================================================================
// StripPrefix
// ============================================================================

func TestStripPrefix(t *testing.T) {
	strip := StripPrefix("/app/")

	tests := []struct {
		path, want string
	}{
		{"/app/users", "/users"},
		{"/app", "/"},
		{"/application", "/application"},
		{"/other", "/other"},
	}
	for _, tt := range tests {
		req := request(tt.path, nil)
		got := strip(req)
		assert.Equal(t, tt.want, got.Path, tt.path)
		assert.Equal(t, tt.path, req.Path, "original request unchanged")
	}

	req := request("/x", nil)
	assert.Same(t, req, StripPrefix("")(req))
}

func TestStripPrefixSharesCompletion(t *testing.T) {
	req := request("/app/x", nil)
	derived := StripPrefix("/app")(req)
	require.True(t, derived.Finish())
	assert.False(t, req.Finish())
}

// ============================================================================
// Headers
// ============================================================================

func TestHeaders(t *testing.T) {
	set := Headers(map[string]string{"Server": "dittocgi", "X-Frame-Options": "DENY"})

	resp := set(request("/", nil), cgi.Text(http.StatusOK, "ok").WithHeader("Server", "custom"))
	assert.Equal(t, "custom", resp.Headers["Server"], "handler headers win")
	assert.Equal(t, "DENY", resp.Headers["X-Frame-Options"])
}

// ============================================================================
// Gzip
// ============================================================================

func gunzip(t *testing.T, body []byte) string {
	t.Helper()
	r, err := gzip.NewReader(bytes.NewReader(body))
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestGzipCompresses(t *testing.T) {
	body := strings.Repeat("hello dittocgi ", 200)
	transform := Gzip(GzipConfig{})

	resp := transform(request("/", map[string]string{"HTTP_ACCEPT_ENCODING": "br, gzip;q=0.8"}), cgi.Text(http.StatusOK, body))

	assert.Equal(t, "gzip", resp.Headers["Content-Encoding"])
	assert.Equal(t, "Accept-Encoding", resp.Headers["Vary"])
	assert.Less(t, len(resp.Body), len(body))
	assert.Equal(t, body, gunzip(t, resp.Body))
}

func TestGzipSkips(t *testing.T) {
	big := strings.Repeat("a", 4096)
	transform := Gzip(GzipConfig{MinSize: 100})

	tests := []struct {
		name    string
		headers map[string]string
		resp    cgi.HTTPResponse
	}{
		{
			name: "NotAccepted",
			resp: cgi.Text(http.StatusOK, big),
		},
		{
			name:    "Refused",
			headers: map[string]string{"HTTP_ACCEPT_ENCODING": "gzip;q=0"},
			resp:    cgi.Text(http.StatusOK, big),
		},
		{
			name:    "TooSmall",
			headers: map[string]string{"HTTP_ACCEPT_ENCODING": "gzip"},
			resp:    cgi.Text(http.StatusOK, "tiny"),
		},
		{
			name:    "Binary",
			headers: map[string]string{"HTTP_ACCEPT_ENCODING": "gzip"},
			resp:    cgi.NewResponse(http.StatusOK, "image/png", []byte(big)),
		},
		{
			name:    "AlreadyEncoded",
			headers: map[string]string{"HTTP_ACCEPT_ENCODING": "gzip"},
			resp:    cgi.Text(http.StatusOK, big).WithHeader("Content-Encoding", "br"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := transform(request("/", tt.headers), tt.resp)
			assert.Equal(t, tt.resp.Body, got.Body)
			assert.NotEqual(t, "gzip", got.Headers["Content-Encoding"])
		})
	}
}

func TestAcceptsGzip(t *testing.T) {
	assert.True(t, acceptsGzip("gzip"))
	assert.True(t, acceptsGzip("deflate, GZIP"))
	assert.True(t, acceptsGzip("*"))
	assert.False(t, acceptsGzip(""))
	assert.False(t, acceptsGzip("br"))
	assert.False(t, acceptsGzip("gzip; q=0"))
}

// ============================================================================
// AccessLog
// ============================================================================

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(nil) })

	log := AccessLog()
	log(request("/ok", nil), cgi.Respond(cgi.Text(http.StatusOK, "done")))
	log(request("/silent", nil), nil)

	out := buf.String()
	assert.Contains(t, out, "test:c1 GET /ok 200 4")
	assert.Contains(t, out, "test:c1 GET /silent - -")
}
