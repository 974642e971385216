package cgi

import (
	"encoding/json"
	"net/http"
)

// Content types used by the built-in responses.
const (
	ContentTypeTextPlain = "text/plain; charset=utf-8"
	ContentTypeTextHTML  = "text/html; charset=utf-8"
	ContentTypeJSON      = "application/json"
)

// HTTPResponse is the response produced by a handler.
//
// It is a value: pipeline stages return modified copies through the With*
// helpers and never mutate a response they received. The body is an opaque
// byte payload.
type HTTPResponse struct {
	Status      int
	ContentType string
	Headers     map[string]string
	Body        []byte
}

// NewResponse builds a response with the given status, content type and body.
func NewResponse(status int, contentType string, body []byte) HTTPResponse {
	return HTTPResponse{
		Status:      status,
		ContentType: contentType,
		Body:        body,
	}
}

// Text builds a text/plain response.
func Text(status int, body string) HTTPResponse {
	return NewResponse(status, ContentTypeTextPlain, []byte(body))
}

// JSON builds an application/json response from v. Encoding failures yield
// a 500 text response.
func JSON(status int, v any) HTTPResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return Text(http.StatusInternalServerError, "failed to encode response: "+err.Error())
	}
	return NewResponse(status, ContentTypeJSON, body)
}

// StatusText returns the reason phrase for the response status.
func (r HTTPResponse) StatusText() string {
	if t := http.StatusText(r.Status); t != "" {
		return t
	}
	return "Unknown"
}

// WithHeader returns a copy of r with header name set to value.
func (r HTTPResponse) WithHeader(name, value string) HTTPResponse {
	headers := make(map[string]string, len(r.Headers)+1)
	for k, v := range r.Headers {
		headers[k] = v
	}
	headers[name] = value
	r.Headers = headers
	return r
}

// WithBody returns a copy of r with a new body.
func (r HTTPResponse) WithBody(body []byte) HTTPResponse {
	r.Body = body
	return r
}

// WithStatus returns a copy of r with a new status.
func (r HTTPResponse) WithStatus(status int) HTTPResponse {
	r.Status = status
	return r
}

// WithContentType returns a copy of r with a new content type.
func (r HTTPResponse) WithContentType(contentType string) HTTPResponse {
	r.ContentType = contentType
	return r
}
