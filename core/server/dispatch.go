package server

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/jagadeesh32/cello/core/handler"
	cellohttp "github.com/jagadeesh32/cello/core/http"
	"github.com/jagadeesh32/cello/core/middleware"
)

// dispatch runs the per-request pipeline in strict order; every stage can
// short-circuit to a response. It returns either a generic internal
// response or, when allowFast and the hot fast path applies, pre-built
// wire bytes (exactly one of the two is non-nil).
//
// Pipeline: route resolution (fail-fast 404) -> query parsing -> header
// collection -> body collection -> sync before-middleware -> async
// before-middleware -> instrumentation hook -> guards -> handler -> fast
// path or generic response -> async/sync after-middleware -> hook after
// (best effort).
func (s *Server) dispatch(ctx context.Context, raw *cellohttp.RawRequest, allowFast bool) (*cellohttp.Response, []byte) {
	s.metrics.IncRequests()

	// Route match first: unmatched requests (scans, typos) must cost as
	// little as possible, so the 404 is built before any query, header or
	// body work.
	path, rawQuery, _ := strings.Cut(raw.Target, "?")
	match, ok := s.router.Match(raw.Method, path)
	if !ok {
		return cellohttp.NotFound(raw.Method, path), nil
	}

	var query map[string]string
	if rawQuery != "" {
		query = cellohttp.ParseQuery(rawQuery)
	}

	headers := raw.HeaderMap()

	// Methods that conventionally carry no payload never touch the body,
	// even if the peer sent one. For the rest, a read failure degrades to
	// an empty body plus an error tick instead of aborting the connection.
	var body []byte
	switch raw.Method {
	case "GET", "HEAD", "OPTIONS", "DELETE":
	default:
		if r := raw.Body(); r != nil {
			b, err := io.ReadAll(r)
			if err != nil {
				s.metrics.IncErrors()
			} else if len(b) > 0 {
				s.metrics.AddBytesReceived(uint64(len(b)))
				body = b
			}
		}
	}

	req := cellohttp.NewRequest(raw.Method, path, match.Params, query, headers, body)

	if !s.chain.Empty() {
		action, err := s.chain.ExecuteBefore(req)
		if err != nil {
			return s.failureResponse(err), nil
		}
		if resp, stopped := action.Stopped(); stopped {
			return resp, nil
		}
	}

	if !s.chain.AsyncEmpty() {
		action, err := s.chain.ExecuteBeforeAsync(ctx, req)
		if err != nil {
			return s.failureResponse(err), nil
		}
		if resp, stopped := action.Stopped(); stopped {
			return resp, nil
		}
	}

	// The hook slot is read once; the lock is not held for the rest of
	// the request.
	hook, hasHook := s.hook.Get()
	if hasHook {
		action, err := hook.Before(req)
		if err != nil {
			return s.failureResponse(err), nil
		}
		if resp, stopped := action.Stopped(); stopped {
			return resp, nil
		}
	}

	hasGuards := s.guards.Active()
	if hasGuards {
		action, err := s.guards.Check(req)
		if err != nil {
			return s.failureResponse(err), nil
		}
		if resp, stopped := action.Stopped(); stopped {
			return resp, nil
		}
	}

	// The handler consumes the owning request; stages that run afterwards
	// see a metadata-only clone taken now.
	hasAfter := !s.chain.Empty() || !s.chain.AsyncEmpty()
	var afterReq *cellohttp.Request
	if hasAfter || hasHook {
		afterReq = req.CloneWithoutBody()
	}

	outcome, handlerErr := s.handlers.Invoke(ctx, match.HandlerID, req, s.deps)

	// Hot fast path: nothing runs after the handler and it produced
	// pre-serialized JSON, so the wire response is built directly without
	// the generic response record.
	if allowFast && !hasAfter && !hasGuards && !hasHook && handlerErr == nil {
		if rawJSON, isRaw := outcome.(handler.RawJSON); isRaw {
			s.metrics.AddBytesSent(uint64(len(rawJSON)))
			return nil, cellohttp.AppendJSONResponse(nil, rawJSON)
		}
	}

	var resp *cellohttp.Response
	if handlerErr != nil {
		s.metrics.IncErrors()
		resp = cellohttp.Error(500, handlerErr.Error())
	} else {
		switch out := outcome.(type) {
		case handler.RawJSON:
			resp = cellohttp.FromJSONBytes(out, 200)
		case handler.Rich:
			resp = cellohttp.NewResponse(out.Status)
			for k, v := range out.Headers {
				resp.SetHeader(k, v)
			}
			resp.SetBody(out.Body)
		case handler.Structured:
			resp = cellohttp.FromValue(out.Value, 200)
		default:
			resp = cellohttp.FromValue(nil, 200)
		}
	}

	if !s.chain.AsyncEmpty() {
		action, err := s.chain.ExecuteAfterAsync(ctx, afterReq, resp)
		if err != nil {
			return s.failureResponse(err), nil
		}
		if newResp, stopped := action.Stopped(); stopped {
			resp = newResp
		}
	}

	if !s.chain.Empty() {
		action, err := s.chain.ExecuteAfter(afterReq, resp)
		if err != nil {
			return s.failureResponse(err), nil
		}
		if newResp, stopped := action.Stopped(); stopped {
			resp = newResp
		}
	}

	// Instrumentation after-stage is best effort; failures are swallowed.
	if hasHook {
		_ = hook.After(afterReq, resp)
	}

	return resp, nil
}

// failureResponse converts a middleware/guard error into a response: a
// typed Failure keeps its status and message, anything else becomes a 500.
func (s *Server) failureResponse(err error) *cellohttp.Response {
	s.metrics.IncErrors()
	var failure *middleware.Failure
	if errors.As(err, &failure) {
		return cellohttp.Error(failure.Status, failure.Message)
	}
	return cellohttp.Error(500, err.Error())
}

// buildWire serializes a response and records its body bytes as sent.
func (s *Server) buildWire(resp *cellohttp.Response) []byte {
	s.metrics.AddBytesSent(uint64(len(resp.Body)))
	return cellohttp.AppendResponse(nil, resp.Status, resp.Headers, resp.Body)
}
