package http

import (
	"encoding/json"
	"strings"
	"time"
)

// Request is the owned, mutable request record handed through the
// middleware pipeline and into handlers. It is built once per incoming
// HTTP message and does not outlive the exchange.
type Request struct {
	Method  string
	Path    string
	Params  map[string]string
	Query   map[string]string
	Headers map[string]string
	Body    []byte

	// ReceivedAt is set by the dispatcher when the request record is
	// created; instrumentation hooks use it to derive latency.
	ReceivedAt time.Time

	// bodySize remembers the received body length across metadata-only
	// clones, whose Body is dropped.
	bodySize int
}

// NewRequest builds a request record from already-parsed wire data.
func NewRequest(method, path string, params, query, headers map[string]string, body []byte) *Request {
	if params == nil {
		params = map[string]string{}
	}
	if query == nil {
		query = map[string]string{}
	}
	if headers == nil {
		headers = map[string]string{}
	}
	return &Request{
		Method:     method,
		Path:       path,
		Params:     params,
		Query:      query,
		Headers:    headers,
		Body:       body,
		ReceivedAt: time.Now(),
		bodySize:   len(body),
	}
}

// BodySize reports the received body length. Unlike len(Body) it is still
// meaningful on the metadata-only clone handed to after-stages.
func (r *Request) BodySize() int { return r.bodySize }

// Param returns a bound path parameter, or "" when absent.
func (r *Request) Param(key string) string {
	return r.Params[key]
}

// QueryValue returns a parsed query parameter, or "" when absent.
func (r *Request) QueryValue(key string) string {
	return r.Query[key]
}

// Header returns a request header value, or "" when absent. Header keys
// are stored lowercased.
func (r *Request) Header(key string) string {
	return r.Headers[strings.ToLower(key)]
}

// Bind unmarshals the JSON body into v.
func (r *Request) Bind(v any) error {
	return json.Unmarshal(r.Body, v)
}

// CloneWithoutBody takes a metadata-only copy (headers, params, query; no
// body). After-middleware runs against this copy because the owning request
// is consumed by the handler.
func (r *Request) CloneWithoutBody() *Request {
	clone := &Request{
		Method:     r.Method,
		Path:       r.Path,
		Params:     make(map[string]string, len(r.Params)),
		Query:      make(map[string]string, len(r.Query)),
		Headers:    make(map[string]string, len(r.Headers)),
		ReceivedAt: r.ReceivedAt,
		bodySize:   r.bodySize,
	}
	for k, v := range r.Params {
		clone.Params[k] = v
	}
	for k, v := range r.Query {
		clone.Query[k] = v
	}
	for k, v := range r.Headers {
		clone.Headers[k] = v
	}
	return clone
}
