// Package router maps request paths to handlers.
//
// Patterns are either exact ("/health") or prefix patterns ending in "/*"
// ("/static/*"). An exact match always wins; among prefix patterns the
// longest one wins. The table is built before serving and only read during
// dispatch, so lookups take no locks.
package router

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/marmos91/dittocgi/pkg/cgi"
)

var (
	// ErrInvalidPattern is returned for patterns that do not start with "/".
	ErrInvalidPattern = errors.New("invalid route pattern")

	// ErrDuplicateRoute is returned when a pattern is registered twice.
	ErrDuplicateRoute = errors.New("duplicate route")
)

type prefixRoute struct {
	prefix  string
	handler cgi.Handler
}

// Router is a route table. The zero value is not usable; call New.
type Router struct {
	exact    map[string]cgi.Handler
	prefixes []prefixRoute
}

// New returns an empty router.
func New() *Router {
	return &Router{exact: make(map[string]cgi.Handler)}
}

// Handle registers handler for pattern.
func (r *Router) Handle(pattern string, handler cgi.Handler) error {
	if !strings.HasPrefix(pattern, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %q", ErrInvalidPattern, pattern)
	}

	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		for _, p := range r.prefixes {
			if p.prefix == prefix {
				return fmt.Errorf("%w: %q", ErrDuplicateRoute, pattern)
			}
		}
		r.prefixes = append(r.prefixes, prefixRoute{prefix: prefix, handler: handler})
		sort.SliceStable(r.prefixes, func(i, j int) bool {
			return len(r.prefixes[i].prefix) > len(r.prefixes[j].prefix)
		})
		return nil
	}

	if _, exists := r.exact[pattern]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateRoute, pattern)
	}
	r.exact[pattern] = handler
	return nil
}

// MustHandle is Handle that panics on error, for static route tables.
func (r *Router) MustHandle(pattern string, handler cgi.Handler) {
	if err := r.Handle(pattern, handler); err != nil {
		panic(err)
	}
}

// Route implements cgi.Router.
func (r *Router) Route(path string) (cgi.Handler, bool) {
	if h, ok := r.exact[path]; ok {
		return h, true
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(path, p.prefix) {
			return p.handler, true
		}
	}
	return nil, false
}

// Patterns returns every registered pattern, exact ones first, sorted.
func (r *Router) Patterns() []string {
	out := make([]string, 0, len(r.exact)+len(r.prefixes))
	for p := range r.exact {
		out = append(out, p)
	}
	sort.Strings(out)
	n := len(out)
	for _, p := range r.prefixes {
		out = append(out, p.prefix+"*")
	}
	sort.Strings(out[n:])
	return out
}
