// Package server ties a transport adapter, a backend and the request
// pipeline together.
//
// Architecture:
//
//	adapter (bytes) -> Server.OnData -> Backend.Feed -> Dispatcher.Handle
//	  -> Backend.SendResponse -> adapter (bytes)
//
// The Server owns the route table, the 404 handler and the three ordered
// pipeline lists. Handlers and routes are registered before Serve; after
// Serve they are only read.
//
// Example usage:
//
//	srv := server.New(fastcgi.New(fastcgi.Config{}))
//	srv.MustHandle("/hello", helloHandler)
//	srv.RegisterResponseTransform(transforms.Gzip(transforms.GzipConfig{}))
//	if err := srv.AddAdapter(tcp.New(tcpConfig, nil)); err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Serve(ctx); err != nil && err != context.Canceled {
//	    log.Fatal(err)
//	}
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittocgi/internal/logger"
	"github.com/marmos91/dittocgi/pkg/adapter"
	"github.com/marmos91/dittocgi/pkg/backend"
	"github.com/marmos91/dittocgi/pkg/cgi"
	"github.com/marmos91/dittocgi/pkg/dispatcher"
	"github.com/marmos91/dittocgi/pkg/metrics"
	"github.com/marmos91/dittocgi/pkg/registry"
	"github.com/marmos91/dittocgi/pkg/router"
	"github.com/sourcegraph/conc/pool"
)

// ErrAlreadyServing is returned by Serve on a server that is already
// running or has run.
var ErrAlreadyServing = errors.New("server: Serve already called")

// Server implements adapter.Events for every registered adapter.
type Server struct {
	backend    backend.Backend
	router     *router.Router
	pipeline   *dispatcher.Pipeline
	notFound   cgi.Handler
	registry   *registry.Registry
	metrics    metrics.CGIMetrics
	dispatcher *dispatcher.Dispatcher

	metricsServer *metrics.Server
	stopTimeout   time.Duration

	// mu protects adapters and registration before Serve.
	mu       sync.RWMutex
	adapters []adapter.Adapter
	served   atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics sets the metrics sink shared with the dispatcher.
func WithMetrics(m metrics.CGIMetrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithRegistry replaces the connection registry.
func WithRegistry(r *registry.Registry) Option {
	return func(s *Server) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithMetricsServer runs ms alongside the adapters.
func WithMetricsServer(ms *metrics.Server) Option {
	return func(s *Server) { s.metricsServer = ms }
}

// WithStopTimeout bounds how long Serve waits for each adapter's Stop.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// New creates a server around b.
//
// Panics if b is nil.
func New(b backend.Backend, opts ...Option) *Server {
	if b == nil {
		panic("backend cannot be nil")
	}

	s := &Server{
		backend:     b,
		router:      router.New(),
		pipeline:    &dispatcher.Pipeline{},
		notFound:    dispatcher.DefaultNotFound,
		registry:    registry.New(),
		metrics:     metrics.NewNoopCGIMetrics(),
		stopTimeout: 30 * time.Second,
		adapters:    make([]adapter.Adapter, 0, 2),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ============================================================================
// Registration
// ============================================================================

func (s *Server) mustNotServe(what string) {
	if s.served.Load() {
		panic(fmt.Sprintf("cannot %s after Serve() has been called", what))
	}
}

// Handle routes pattern to h. A pattern ending in "*" matches every path
// with that prefix.
func (s *Server) Handle(pattern string, h cgi.Handler) error {
	s.mustNotServe("add routes")
	return s.router.Handle(pattern, h)
}

// MustHandle is Handle that panics on error.
func (s *Server) MustHandle(pattern string, h cgi.Handler) {
	if err := s.Handle(pattern, h); err != nil {
		panic(err)
	}
}

// SetNotFound replaces the handler for unrouted requests. nil restores the
// default.
func (s *Server) SetNotFound(h cgi.Handler) {
	s.mustNotServe("set the not-found handler")
	if h == nil {
		h = dispatcher.DefaultNotFound
	}
	s.notFound = h
}

// RegisterPre appends a pre-processing handler.
func (s *Server) RegisterPre(h cgi.PreHandler) {
	s.mustNotServe("register handlers")
	s.pipeline.Pre = append(s.pipeline.Pre, h)
}

// RegisterResponseTransform appends a response transform.
func (s *Server) RegisterResponseTransform(t cgi.ResponseTransform) {
	s.mustNotServe("register handlers")
	s.pipeline.Transforms = append(s.pipeline.Transforms, t)
}

// RegisterPostCompletion appends a post-completion handler.
func (s *Server) RegisterPostCompletion(h cgi.PostHandler) {
	s.mustNotServe("register handlers")
	s.pipeline.Post = append(s.pipeline.Post, h)
}

// AddAdapter registers a transport adapter and makes the server its event
// sink. Protocols and ports must be unique across adapters.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}
	s.mustNotServe("add adapters")

	s.mu.Lock()
	defer s.mu.Unlock()

	protocol, port := a.Protocol(), a.Port()
	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if port > 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	a.SetEvents(s)
	s.adapters = append(s.adapters, a)
	logger.Info("Registered %s adapter on port %d (backend: %s)", protocol, port, s.backend.Name())
	return nil
}

// Adapters returns a snapshot of the registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}

// Registry returns the connection registry.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Router returns the route table.
func (s *Server) Router() *router.Router {
	return s.router
}

// Backend returns the active backend.
func (s *Server) Backend() backend.Backend {
	return s.backend
}

// ============================================================================
// adapter.Events
// ============================================================================

// OnAccept implements adapter.Events.
func (s *Server) OnAccept(conn cgi.Conn) {
	if err := s.registry.Add(conn); err != nil {
		logger.Error("Rejecting connection from %s: %v", conn.RemoteAddr(), err)
		_ = conn.Close()
	}
}

// OnData implements adapter.Events. A returned error closes the connection.
func (s *Server) OnData(conn cgi.Conn, data []byte) error {
	d := s.dispatch()
	sink := backend.SinkFunc(func(req *cgi.Request) {
		d.Handle(req)
		s.registry.RequestCompleted(conn.ID())
	})

	if err := s.backend.Feed(conn, data, sink); err != nil {
		logger.Warn("Dropping connection %s from %s: %v", conn.ID(), conn.RemoteAddr(), err)
		return err
	}
	return nil
}

// OnDisconnect implements adapter.Events.
func (s *Server) OnDisconnect(conn cgi.Conn) {
	s.backend.CleanUp(conn)
	s.registry.Remove(conn.ID())
}

// dispatch returns the dispatcher, building it on first use. Registration
// is closed by then.
func (s *Server) dispatch() *dispatcher.Dispatcher {
	s.mu.RLock()
	d := s.dispatcher
	s.mu.RUnlock()
	if d != nil {
		return d
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dispatcher == nil {
		s.dispatcher = dispatcher.New(s.router, s.backend,
			dispatcher.WithNotFound(s.notFound),
			dispatcher.WithPipeline(s.pipeline),
			dispatcher.WithMetrics(s.metrics))
	}
	return s.dispatcher
}

// ============================================================================
// Lifecycle
// ============================================================================

// Serve starts every adapter (and the metrics server, if configured) and
// blocks until ctx is cancelled or one of them fails.
//
// Returns ctx.Err() after a shutdown triggered by ctx, or the first
// adapter failure. Serve may only be called once.
func (s *Server) Serve(ctx context.Context) error {
	if !s.served.CompareAndSwap(false, true) {
		return ErrAlreadyServing
	}

	adapters := s.Adapters()
	if len(adapters) == 0 {
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}
	s.dispatch()

	logger.Info("Starting DittoCGI with %d adapter(s), backend %s, %d route(s)",
		len(adapters), s.backend.Name(), len(s.router.Patterns()))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := pool.New().WithContext(runCtx).WithCancelOnError().WithFirstError()

	startTime := time.Now()
	for _, a := range adapters {
		p.Go(func(ctx context.Context) error {
			protocol := a.Protocol()
			logger.Info("Starting %s adapter on port %d", protocol, a.Port())

			err := a.Serve(ctx)
			switch {
			case err != nil && ctx.Err() == nil:
				logger.Error("%s adapter failed: %v", protocol, err)
				return fmt.Errorf("%s adapter error: %w", protocol, err)
			case err != nil:
				logger.Debug("%s adapter stopped during shutdown: %v", protocol, err)
			default:
				logger.Info("%s adapter stopped", protocol)
			}
			cancel()
			return nil
		})
	}

	if s.metricsServer != nil {
		p.Go(func(ctx context.Context) error {
			return s.metricsServer.Start(ctx)
		})
	}

	p.Go(func(ctx context.Context) error {
		<-ctx.Done()
		s.stopAllAdapters(adapters)
		return nil
	})

	logger.Debug("Adapters launched in %v", time.Since(startTime))

	err := p.Wait()
	logger.Info("DittoCGI stopped (open connections: %d)", s.registry.Count())

	if err != nil {
		return err
	}
	return ctx.Err()
}

// stopAllAdapters stops adapters in reverse registration order.
func (s *Server) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		a := adapters[i]
		if err := a.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", a.Protocol(), err)
		} else {
			logger.Debug("%s adapter stop signal sent", a.Protocol())
		}
	}
}
