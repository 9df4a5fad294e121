package http

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrMalformedRequest reports an unparseable request head.
var ErrMalformedRequest = errors.New("malformed HTTP request")

type headerField struct {
	key   string
	value string
}

// RawRequest is the wire-level view of one HTTP/1.1 request: the parsed
// request line and header fields, plus an unread body reader. The owned
// header map and the body bytes are materialized later by the dispatcher,
// so an unmatched route costs neither.
type RawRequest struct {
	Method string
	Target string
	Proto  string

	fields        []headerField
	contentLength int64
	close         bool

	body io.Reader
}

// ReadRequest reads and parses one request head from br. The body is left
// on the reader, exposed through Body as a length-limited reader. A clean
// peer close before any bytes surfaces as io.EOF.
func ReadRequest(br *bufio.Reader, maxHeaderBytes int) (*RawRequest, error) {
	line, err := readLine(br, maxHeaderBytes)
	if err != nil {
		return nil, err
	}
	consumed := len(line)

	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return nil, ErrMalformedRequest
	}
	sp2 := bytes.IndexByte(line[sp1+1:], ' ')
	if sp2 <= 0 {
		return nil, ErrMalformedRequest
	}
	sp2 += sp1 + 1

	req := &RawRequest{
		Method: string(line[:sp1]),
		Target: string(line[sp1+1 : sp2]),
		Proto:  string(line[sp2+1:]),
	}
	if !strings.HasPrefix(req.Proto, "HTTP/") {
		return nil, ErrMalformedRequest
	}

	// Keep-alive default depends on protocol version.
	req.close = req.Proto == "HTTP/1.0"

	for {
		line, err := readLine(br, maxHeaderBytes-consumed)
		if err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		consumed += len(line)
		if len(line) == 0 {
			break
		}

		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		key := string(bytes.TrimSpace(line[:colon]))
		value := string(bytes.TrimSpace(line[colon+1:]))
		req.fields = append(req.fields, headerField{key: key, value: value})

		switch {
		case strings.EqualFold(key, "Content-Length"):
			if n, err := strconv.ParseInt(value, 10, 64); err == nil && n >= 0 {
				req.contentLength = n
			}
		case strings.EqualFold(key, "Connection"):
			switch {
			case strings.EqualFold(value, "close"):
				req.close = true
			case strings.EqualFold(value, "keep-alive"):
				req.close = false
			}
		}
	}

	if req.contentLength > 0 {
		req.body = io.LimitReader(br, req.contentLength)
	}
	return req, nil
}

// readLine reads one CRLF- or LF-terminated line, without the terminator.
// limit is the remaining head budget; the read itself is bounded by it, so
// an oversized or terminator-less line fails instead of buffering
// unbounded data, and an exhausted budget rejects further lines outright.
func readLine(br *bufio.Reader, limit int) ([]byte, error) {
	if limit <= 0 {
		return nil, ErrMalformedRequest
	}
	var line []byte
	for {
		frag, err := br.ReadSlice('\n')
		line = append(line, frag...)
		if len(line) > limit {
			return nil, ErrMalformedRequest
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		break
	}
	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, nil
}

// NewRawRequest builds a wire request view from already-framed components.
// Transport adapters (the HTTP/2 listener) use it when another stack owns
// the framing.
func NewRawRequest(method, target string, body io.Reader) *RawRequest {
	return &RawRequest{
		Method: method,
		Target: target,
		Proto:  "HTTP/1.1",
		body:   body,
	}
}

// AddHeader appends a header field to an adapter-built request.
func (r *RawRequest) AddHeader(key, value string) {
	r.fields = append(r.fields, headerField{key: key, value: value})
}

// ContentLength reports the declared body length.
func (r *RawRequest) ContentLength() int64 { return r.contentLength }

// ConnectionClose reports whether the peer asked to close after this
// exchange (or spoke HTTP/1.0 without keep-alive).
func (r *RawRequest) ConnectionClose() bool { return r.close }

// Body returns the unread body reader, or nil when the request carries none.
func (r *RawRequest) Body() io.Reader { return r.body }

// DiscardBody drains any unread body bytes so the next request on the
// connection starts at a frame boundary.
func (r *RawRequest) DiscardBody() {
	if r.body != nil {
		_, _ = io.Copy(io.Discard, r.body)
		r.body = nil
	}
}

// HeaderMap copies the header fields into an owned map. Values that are not
// valid UTF-8 degrade to an empty string rather than failing the request.
func (r *RawRequest) HeaderMap() map[string]string {
	headers := make(map[string]string, len(r.fields))
	for _, f := range r.fields {
		value := f.value
		if !utf8.ValidString(value) {
			value = ""
		}
		headers[strings.ToLower(f.key)] = value
	}
	return headers
}

// HeaderValue scans the raw fields for one header without building the map.
func (r *RawRequest) HeaderValue(key string) string {
	for _, f := range r.fields {
		if strings.EqualFold(f.key, key) {
			return f.value
		}
	}
	return ""
}

var genericFailure = []byte("HTTP/1.1 500 Internal Server Error\r\nContent-Type: text/plain; charset=utf-8\r\nContent-Length: 21\r\n\r\nInternal Server Error")

// AppendResponse serializes a response to wire form, appending to dst.
// Headers are emitted in a canonical order (Content-Type first, the rest
// sorted, Content-Length last) so every construction path produces
// identical bytes for identical responses. A status with no wire
// equivalent maps to 500; a header that would corrupt the framing makes
// the whole response degrade to a fixed generic 500.
func AppendResponse(dst []byte, status int, headers map[string]string, body []byte) []byte {
	if status < 100 || status > 599 {
		status = 500
	}
	for k, v := range headers {
		if k == "" || strings.ContainsAny(k, "\r\n") || strings.ContainsAny(v, "\r\n") {
			return append(dst, genericFailure...)
		}
	}

	dst = append(dst, "HTTP/1.1 "...)
	dst = strconv.AppendInt(dst, int64(status), 10)
	dst = append(dst, ' ')
	dst = append(dst, statusText(status)...)
	dst = append(dst, "\r\n"...)

	if ct, ok := headers["Content-Type"]; ok {
		dst = appendHeader(dst, "Content-Type", ct)
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		if k == "Content-Type" || strings.EqualFold(k, "Content-Length") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		dst = appendHeader(dst, k, headers[k])
	}

	dst = append(dst, "Content-Length: "...)
	dst = strconv.AppendInt(dst, int64(len(body)), 10)
	dst = append(dst, "\r\n\r\n"...)
	return append(dst, body...)
}

// AppendJSONResponse is the hot fast path: a 200 response around
// pre-serialized JSON bytes, bypassing the intermediate response record.
// Byte-for-byte identical to AppendResponse with the equivalent response.
func AppendJSONResponse(dst []byte, body []byte) []byte {
	dst = append(dst, "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: "...)
	dst = strconv.AppendInt(dst, int64(len(body)), 10)
	dst = append(dst, "\r\n\r\n"...)
	return append(dst, body...)
}

func appendHeader(dst []byte, key, value string) []byte {
	dst = append(dst, key...)
	dst = append(dst, ": "...)
	dst = append(dst, value...)
	return append(dst, "\r\n"...)
}

func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 202:
		return "Accepted"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 408:
		return "Request Timeout"
	case 409:
		return "Conflict"
	case 413:
		return "Payload Too Large"
	case 415:
		return "Unsupported Media Type"
	case 422:
		return "Unprocessable Entity"
	case 429:
		return "Too Many Requests"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	case 504:
		return "Gateway Timeout"
	default:
		return "Status"
	}
}
