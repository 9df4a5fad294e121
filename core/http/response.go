package http

import (
	"encoding/json"
	"fmt"
)

const (
	// ContentTypeJSON is the default content type for handler output.
	ContentTypeJSON = "application/json"
	// ContentTypeText is used for plain error bodies.
	ContentTypeText = "text/plain; charset=utf-8"
)

// Response is the internal response form: status, header map, body bytes.
// It is constructed either from pre-serialized bytes (fast path) or from a
// generic value (slow path), then serialized to the wire by the response
// builder.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// NewResponse creates an empty response with the given status.
func NewResponse(status int) *Response {
	return &Response{
		Status:  status,
		Headers: make(map[string]string, 4),
	}
}

// SetHeader sets a response header.
func (r *Response) SetHeader(key, value string) {
	if r.Headers == nil {
		r.Headers = make(map[string]string, 4)
	}
	r.Headers[key] = value
}

// SetBody replaces the response body.
func (r *Response) SetBody(body []byte) {
	r.Body = body
}

// FromJSONBytes wraps pre-serialized JSON bytes into a response.
func FromJSONBytes(body []byte, status int) *Response {
	resp := NewResponse(status)
	resp.SetHeader("Content-Type", ContentTypeJSON)
	resp.Body = body
	return resp
}

// FromValue marshals a generic value to JSON. A marshal failure degrades to
// a generic 500 rather than failing the exchange.
func FromValue(v any, status int) *Response {
	body, err := json.Marshal(v)
	if err != nil {
		return Error(500, "response serialization failed")
	}
	return FromJSONBytes(body, status)
}

// Error builds a JSON error response carrying the supplied message.
func Error(status int, message string) *Response {
	resp := NewResponse(status)
	resp.SetHeader("Content-Type", ContentTypeJSON)
	body, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		resp.SetHeader("Content-Type", ContentTypeText)
		body = []byte(message)
	}
	resp.Body = body
	return resp
}

// NotFound builds the routing-miss response. The body names the method and
// path so scans and typos are diagnosable from the client side.
func NotFound(method, path string) *Response {
	resp := NewResponse(404)
	resp.SetHeader("Content-Type", ContentTypeText)
	resp.Body = []byte(fmt.Sprintf("Not Found: %s %s", method, path))
	return resp
}
