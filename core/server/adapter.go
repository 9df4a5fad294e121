package server

import (
	nethttp "net/http"
	"time"

	cellohttp "github.com/jagadeesh32/cello/core/http"
)

// HTTPHandler adapts the dispatcher to net/http so alternate transports
// (the HTTP/2 listener) can serve the same routes, middleware and metrics
// as the native HTTP/1.1 loop. The fast path is skipped because the outer
// stack owns response framing.
func (s *Server) HTTPHandler() nethttp.Handler {
	return nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		raw := cellohttp.NewRawRequest(r.Method, r.URL.RequestURI(), r.Body)
		for key, values := range r.Header {
			for _, value := range values {
				raw.AddHeader(key, value)
			}
		}

		s.shutdown.RequestStarted()
		start := time.Now()
		defer func() {
			s.metrics.RecordLatency(time.Since(start))
			s.shutdown.RequestFinished()
		}()
		resp, _ := s.dispatch(r.Context(), raw, false)

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		status := resp.Status
		if status < 100 || status > 599 {
			status = 500
		}
		w.WriteHeader(status)
		if _, err := w.Write(resp.Body); err == nil {
			s.metrics.AddBytesSent(uint64(len(resp.Body)))
		}
	})
}
