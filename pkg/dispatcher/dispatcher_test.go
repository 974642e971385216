package dispatcher

import (
	"errors"
	"net/http"
	"testing"

	"github.com/marmos91/dittocgi/pkg/cgi"
	"github.com/marmos91/dittocgi/pkg/cgi/cgitest"
	"github.com/marmos91/dittocgi/pkg/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test fixtures
// ============================================================================

type recordingSender struct {
	calls    *[]string
	sent     []cgi.HTTPResponse
	cleanups []cgi.Conn
	err      error
}

func (s *recordingSender) SendResponse(_ *cgi.Request, resp cgi.HTTPResponse) error {
	*s.calls = append(*s.calls, "send")
	s.sent = append(s.sent, resp)
	return s.err
}

func (s *recordingSender) CleanUp(conn cgi.Conn) {
	*s.calls = append(*s.calls, "cleanup")
	s.cleanups = append(s.cleanups, conn)
}

type fixture struct {
	calls    []string
	sender   *recordingSender
	router   *router.Router
	pipeline *Pipeline
	conn     *cgitest.Conn
}

func newFixture() *fixture {
	f := &fixture{router: router.New(), pipeline: &Pipeline{}, conn: cgitest.NewConn("c1")}
	f.sender = &recordingSender{calls: &f.calls}
	return f
}

func (f *fixture) dispatcher(opts ...Option) *Dispatcher {
	return New(f.router, f.sender, append([]Option{WithPipeline(f.pipeline)}, opts...)...)
}

func (f *fixture) request(path string) *cgi.Request {
	return cgi.NewRequest(f.conn, 1, map[string]string{cgi.ParamDocumentURI: path}, nil, false)
}

func (f *fixture) record(name string) {
	f.calls = append(f.calls, name)
}

// ============================================================================
// Pipeline ordering
// ============================================================================

func TestHandleOrdering(t *testing.T) {
	f := newFixture()
	var observed []*cgi.HTTPResponse

	f.pipeline.Pre = append(f.pipeline.Pre,
		func(r *cgi.Request) *cgi.Request { f.record("p1"); return r.WithPath("/routed") },
		func(r *cgi.Request) *cgi.Request { f.record("p2"); return r },
	)
	f.pipeline.Transforms = append(f.pipeline.Transforms,
		func(_ *cgi.Request, resp cgi.HTTPResponse) cgi.HTTPResponse {
			f.record("m1")
			return resp.WithHeader("X-M1", "1")
		},
		func(_ *cgi.Request, resp cgi.HTTPResponse) cgi.HTTPResponse {
			f.record("m2")
			return resp.WithBody(append(resp.Body, "+m2"...))
		},
	)
	f.pipeline.Post = append(f.pipeline.Post,
		func(_ *cgi.Request, resp *cgi.HTTPResponse) { f.record("q1"); observed = append(observed, resp) },
		func(_ *cgi.Request, resp *cgi.HTTPResponse) { f.record("q2"); observed = append(observed, resp) },
	)
	f.router.MustHandle("/routed", func(r *cgi.Request) *cgi.HTTPResponse {
		f.record("handler")
		assert.Equal(t, "/routed", r.Path, "handler sees the pre-processed request")
		return cgi.Respond(cgi.Text(http.StatusOK, "body"))
	})

	req := f.request("/original")
	f.dispatcher().Handle(req)

	assert.Equal(t, []string{"p1", "p2", "handler", "m1", "m2", "send", "q1", "q2", "cleanup"}, f.calls)

	require.Len(t, f.sender.sent, 1)
	sent := f.sender.sent[0]
	assert.Equal(t, "body+m2", string(sent.Body))
	assert.Equal(t, "1", sent.Headers["X-M1"])

	require.Len(t, observed, 2)
	for _, resp := range observed {
		require.NotNil(t, resp)
		assert.Equal(t, sent, *resp, "post-completion sees the transmitted response")
	}
	assert.True(t, req.Finished())
}

// ============================================================================
// Branches
// ============================================================================

func TestHandleNoRoute(t *testing.T) {
	f := newFixture()
	var observed *cgi.HTTPResponse
	transformed := false

	f.pipeline.Transforms = append(f.pipeline.Transforms, func(_ *cgi.Request, resp cgi.HTTPResponse) cgi.HTTPResponse {
		transformed = true
		return resp
	})
	f.pipeline.Post = append(f.pipeline.Post, func(_ *cgi.Request, resp *cgi.HTTPResponse) { observed = resp })

	req := f.request("/missing")
	f.dispatcher().Handle(req)

	require.Len(t, f.sender.sent, 1)
	sent := f.sender.sent[0]
	assert.Equal(t, http.StatusNotFound, sent.Status)
	assert.Equal(t, cgi.ContentTypeTextPlain, sent.ContentType)
	assert.Equal(t, NotFoundBody, string(sent.Body))
	require.NotNil(t, observed)
	assert.Equal(t, sent, *observed)
	assert.False(t, transformed, "not-found responses skip response transforms")
	assert.True(t, req.Finished())
	assert.Len(t, f.sender.cleanups, 1)
}

func TestHandleCustomNotFound(t *testing.T) {
	t.Run("WithResponse", func(t *testing.T) {
		f := newFixture()
		d := f.dispatcher(WithNotFound(func(*cgi.Request) *cgi.HTTPResponse {
			return cgi.Respond(cgi.Text(http.StatusGone, "gone"))
		}))
		d.Handle(f.request("/x"))

		require.Len(t, f.sender.sent, 1)
		assert.Equal(t, http.StatusGone, f.sender.sent[0].Status)
	})

	t.Run("WithoutResponse", func(t *testing.T) {
		f := newFixture()
		called := false
		observed := &cgi.HTTPResponse{}
		f.pipeline.Post = append(f.pipeline.Post, func(_ *cgi.Request, resp *cgi.HTTPResponse) {
			called = true
			observed = resp
		})
		d := f.dispatcher(WithNotFound(func(*cgi.Request) *cgi.HTTPResponse { return nil }))
		req := f.request("/x")
		d.Handle(req)

		assert.Empty(t, f.sender.sent)
		assert.True(t, called)
		assert.Nil(t, observed)
		assert.True(t, req.Finished())
		assert.Len(t, f.sender.cleanups, 1)
	})
}

func TestHandleNoResponse(t *testing.T) {
	f := newFixture()
	observed := &cgi.HTTPResponse{}
	transformed := false

	f.router.MustHandle("/quiet", func(*cgi.Request) *cgi.HTTPResponse { return nil })
	f.pipeline.Transforms = append(f.pipeline.Transforms, func(_ *cgi.Request, resp cgi.HTTPResponse) cgi.HTTPResponse {
		transformed = true
		return resp
	})
	f.pipeline.Post = append(f.pipeline.Post, func(_ *cgi.Request, resp *cgi.HTTPResponse) { observed = resp })

	req := f.request("/quiet")
	f.dispatcher().Handle(req)

	assert.Empty(t, f.sender.sent)
	assert.Nil(t, observed)
	assert.False(t, transformed)
	assert.Equal(t, []string{"cleanup"}, f.calls)
	assert.True(t, req.Finished())
}

func TestHandlePanicIsNoResponse(t *testing.T) {
	f := newFixture()
	f.router.MustHandle("/boom", func(*cgi.Request) *cgi.HTTPResponse { panic("boom") })

	req := f.request("/boom")
	assert.NotPanics(t, func() { f.dispatcher().Handle(req) })

	assert.Empty(t, f.sender.sent)
	assert.True(t, req.Finished())
	assert.Len(t, f.sender.cleanups, 1)
}

func TestHandleSendError(t *testing.T) {
	f := newFixture()
	f.sender.err = errors.New("broken pipe")
	var observed *cgi.HTTPResponse
	f.router.MustHandle("/ok", func(*cgi.Request) *cgi.HTTPResponse {
		return cgi.Respond(cgi.Text(http.StatusOK, "ok"))
	})
	f.pipeline.Post = append(f.pipeline.Post, func(_ *cgi.Request, resp *cgi.HTTPResponse) { observed = resp })

	f.dispatcher().Handle(f.request("/ok"))

	assert.Len(t, f.sender.sent, 1, "send is not retried")
	require.NotNil(t, observed)
	assert.Equal(t, "ok", string(observed.Body))
	assert.Len(t, f.sender.cleanups, 1)
}

// ============================================================================
// Completion-once invariant
// ============================================================================

func TestCompletionOnce(t *testing.T) {
	branches := map[string]cgi.Handler{
		"RouteWithResponse": func(*cgi.Request) *cgi.HTTPResponse {
			return cgi.Respond(cgi.Text(http.StatusOK, "ok"))
		},
		"RouteWithoutResponse": func(*cgi.Request) *cgi.HTTPResponse { return nil },
		"NoRoute":              nil,
	}

	for name, handler := range branches {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			if handler != nil {
				f.router.MustHandle("/p", handler)
			}
			f.pipeline.Pre = append(f.pipeline.Pre, func(r *cgi.Request) *cgi.Request {
				f.record("pre")
				return r
			})
			f.pipeline.Post = append(f.pipeline.Post, func(*cgi.Request, *cgi.HTTPResponse) {
				f.record("post")
			})
			d := f.dispatcher()
			req := f.request("/p")

			d.Handle(req)
			require.True(t, req.Finished())
			require.Len(t, f.sender.cleanups, 1)
			assert.Same(t, f.conn, f.sender.cleanups[0])
			sent := len(f.sender.sent)
			calls := append([]string(nil), f.calls...)

			// A second dispatch of the same request has no effect at all.
			assert.False(t, req.Finish())
			d.Handle(req)
			assert.Len(t, f.sender.cleanups, 1)
			assert.Len(t, f.sender.sent, sent)
			assert.Equal(t, calls, f.calls)
		})
	}
}

func TestPreProcessorNilKeepsRequest(t *testing.T) {
	f := newFixture()
	f.pipeline.Pre = append(f.pipeline.Pre, func(*cgi.Request) *cgi.Request { return nil })
	hit := false
	f.router.MustHandle("/p", func(*cgi.Request) *cgi.HTTPResponse {
		hit = true
		return nil
	})

	f.dispatcher().Handle(f.request("/p"))
	assert.True(t, hit)
}
