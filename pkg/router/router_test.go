package router

import (
	"net/http"
	"testing"

	"github.com/marmos91/dittocgi/pkg/cgi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func named(name string) cgi.Handler {
	return func(*cgi.Request) *cgi.HTTPResponse {
		return cgi.Respond(cgi.Text(http.StatusOK, name))
	}
}

func routeName(t *testing.T, r *Router, path string) string {
	t.Helper()
	h, ok := r.Route(path)
	if !ok {
		return ""
	}
	return string(h(nil).Body)
}

func TestRoute(t *testing.T) {
	r := New()
	r.MustHandle("/", named("root"))
	r.MustHandle("/static/*", named("static"))
	r.MustHandle("/static/img/*", named("img"))
	r.MustHandle("/static/favicon.ico", named("favicon"))
	r.MustHandle("/*", named("fallback"))

	tests := []struct {
		path string
		want string
	}{
		{"/", "root"},
		{"/static/app.js", "static"},
		{"/static/img/logo.png", "img"},
		{"/static/favicon.ico", "favicon"},
		{"/anything", "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, routeName(t, r, tt.path))
		})
	}
}

func TestRouteMissing(t *testing.T) {
	r := New()
	r.MustHandle("/health", named("health"))

	_, ok := r.Route("/missing")
	assert.False(t, ok)
	_, ok = r.Route("/health/")
	assert.False(t, ok, "exact routes do not match longer paths")
}

func TestHandleErrors(t *testing.T) {
	r := New()
	require.NoError(t, r.Handle("/a", named("a")))
	require.NoError(t, r.Handle("/b/*", named("b")))

	assert.ErrorIs(t, r.Handle("/a", named("again")), ErrDuplicateRoute)
	assert.ErrorIs(t, r.Handle("/b/*", named("again")), ErrDuplicateRoute)
	assert.ErrorIs(t, r.Handle("relative", named("x")), ErrInvalidPattern)
	assert.ErrorIs(t, r.Handle("/nil", nil), ErrInvalidPattern)
	assert.Panics(t, func() { r.MustHandle("/a", named("a")) })

	assert.Equal(t, []string{"/a", "/b/*"}, r.Patterns())
}
