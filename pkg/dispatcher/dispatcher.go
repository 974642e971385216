// Package dispatcher runs one completed request through the processing
// pipeline: pre-processing, routing, handling, response transforms, send,
// post-completion notification, completion marking and connection cleanup.
//
// Whatever branch a request takes (routed with a response, routed without
// one, not found, or a panicking handler) the request is marked complete
// exactly once and its connection is cleaned up exactly once.
package dispatcher

import (
	"net/http"
	"time"

	"github.com/marmos91/dittocgi/internal/logger"
	"github.com/marmos91/dittocgi/pkg/cgi"
	"github.com/marmos91/dittocgi/pkg/metrics"
)

// NotFoundBody is the body of the default 404 response.
const NotFoundBody = "HTTP 404 - This isn't the page you're looking for..."

// DefaultNotFound answers every unrouted request with a plain-text 404.
func DefaultNotFound(*cgi.Request) *cgi.HTTPResponse {
	return cgi.Respond(cgi.Text(http.StatusNotFound, NotFoundBody))
}

// Sender delivers responses and releases connection state. Backends
// implement it.
type Sender interface {
	SendResponse(req *cgi.Request, resp cgi.HTTPResponse) error
	CleanUp(conn cgi.Conn)
}

// Pipeline holds the ordered extension points. Lists are appended to before
// serving starts and only read afterwards.
type Pipeline struct {
	Pre        []cgi.PreHandler
	Transforms []cgi.ResponseTransform
	Post       []cgi.PostHandler
}

// Dispatcher runs the pipeline for completed requests.
type Dispatcher struct {
	router   cgi.Router
	notFound cgi.Handler
	pipeline *Pipeline
	sender   Sender
	metrics  metrics.CGIMetrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithNotFound replaces the default 404 handler.
func WithNotFound(h cgi.Handler) Option {
	return func(d *Dispatcher) {
		if h != nil {
			d.notFound = h
		}
	}
}

// WithPipeline shares p with the dispatcher. Later appends to p are seen by
// the dispatcher.
func WithPipeline(p *Pipeline) Option {
	return func(d *Dispatcher) {
		if p != nil {
			d.pipeline = p
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.CGIMetrics) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// New creates a dispatcher that routes with router and sends through sender.
func New(router cgi.Router, sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		router:   router,
		notFound: DefaultNotFound,
		pipeline: &Pipeline{},
		sender:   sender,
		metrics:  metrics.NewNoopCGIMetrics(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle runs the pipeline for req. It must be called once per completed
// request, from the execution context of the request's connection. A
// request that has already completed is ignored.
func (d *Dispatcher) Handle(req *cgi.Request) {
	if req.Finished() {
		logger.Warn("Request %d on %s dispatched after completion; ignoring", req.RequestID, connID(req.Conn()))
		return
	}

	start := time.Now()
	conn := req.Conn()
	branch := metrics.BranchNoResponse
	status := 0

	d.metrics.RecordRequestStart()
	defer func() {
		d.metrics.RecordRequestEnd()
		d.metrics.RecordRequest(branch, status, time.Since(start))
		d.complete(req, conn)
	}()

	req = d.preProcess(req)

	handler, found := d.router.Route(req.Path)
	if !found {
		branch = metrics.BranchNotFound
		logger.Debug("No route for %s %s", req.Method(), req.Path)

		resp := d.invoke(d.notFound, req)
		if resp == nil {
			d.notify(req, nil)
			return
		}
		sent := *resp
		status = sent.Status
		d.send(req, sent)
		d.notify(req, &sent)
		return
	}

	resp := d.invoke(handler, req)
	if resp == nil {
		d.notify(req, nil)
		return
	}

	branch = metrics.BranchRouted
	sent := *resp
	for _, transform := range d.pipeline.Transforms {
		sent = transform(req, sent)
	}
	status = sent.Status
	d.send(req, sent)
	d.notify(req, &sent)
}

func (d *Dispatcher) preProcess(req *cgi.Request) *cgi.Request {
	for _, pre := range d.pipeline.Pre {
		if next := pre(req); next != nil {
			req = next
		}
	}
	return req
}

// invoke calls h and turns a panic into "no response".
func (d *Dispatcher) invoke(h cgi.Handler, req *cgi.Request) (resp *cgi.HTTPResponse) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Handler for %s panicked: %v", req.Path, r)
			resp = nil
		}
	}()
	return h(req)
}

func (d *Dispatcher) send(req *cgi.Request, resp cgi.HTTPResponse) {
	if err := d.sender.SendResponse(req, resp); err != nil {
		logger.Warn("Send response for %s failed: %v", req.Path, err)
		return
	}
	d.metrics.RecordBytesTransferred("out", int64(len(resp.Body)))
}

func (d *Dispatcher) notify(req *cgi.Request, resp *cgi.HTTPResponse) {
	for _, post := range d.pipeline.Post {
		post(req, resp)
	}
}

func (d *Dispatcher) complete(req *cgi.Request, conn cgi.Conn) {
	if !req.Finish() {
		logger.Warn("Request %d on %s dispatched more than once", req.RequestID, connID(conn))
		return
	}
	d.sender.CleanUp(conn)
}

func connID(conn cgi.Conn) string {
	if conn == nil {
		return "<nil>"
	}
	return conn.ID()
}
