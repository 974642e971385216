package cgi

// Handler handles a routed request. A nil result means the handler
// produced no response: nothing is sent and post-completion handlers
// observe the no-response marker (nil).
type Handler func(req *Request) *HTTPResponse

// PreHandler runs before routing and returns the (possibly derived) request
// that the rest of the pipeline sees. It must not perform I/O the pipeline
// depends on.
type PreHandler func(req *Request) *Request

// ResponseTransform runs after a handler produced a response and before it
// is sent. It returns the response to send.
type ResponseTransform func(req *Request, resp HTTPResponse) HTTPResponse

// PostHandler runs after the pipeline has finished with a request. resp is
// the response that was sent, or nil if none was.
type PostHandler func(req *Request, resp *HTTPResponse)

// Router resolves a routing path to a handler.
type Router interface {
	Route(path string) (Handler, bool)
}

// Respond wraps a response value as a Handler result.
func Respond(resp HTTPResponse) *HTTPResponse {
	return &resp
}
