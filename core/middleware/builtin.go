package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	cellohttp "github.com/jagadeesh32/cello/core/http"
)

// Func adapts a plain function to the Middleware interface.
type Func func(req *cellohttp.Request) (Action, error)

// Before implements Middleware.
func (f Func) Before(req *cellohttp.Request) (Action, error) { return f(req) }

// GuardFunc adapts a plain function to the Guard interface.
type GuardFunc func(req *cellohttp.Request) (Action, error)

// Check implements Guard.
func (f GuardFunc) Check(req *cellohttp.Request) (Action, error) { return f(req) }

// CORS injects permissive cross-origin headers and answers preflight
// requests directly.
type CORS struct {
	AllowOrigin string
}

// NewCORS creates a CORS middleware allowing the given origin ("*" when
// empty).
func NewCORS(origin string) *CORS {
	if origin == "" {
		origin = "*"
	}
	return &CORS{AllowOrigin: origin}
}

// Before answers OPTIONS preflights with 204.
func (c *CORS) Before(req *cellohttp.Request) (Action, error) {
	if req.Method == "OPTIONS" {
		resp := cellohttp.NewResponse(204)
		c.apply(resp)
		return Stop(resp), nil
	}
	return Continue(), nil
}

// After stamps the CORS headers on every response.
func (c *CORS) After(_ *cellohttp.Request, resp *cellohttp.Response) (Action, error) {
	c.apply(resp)
	return Continue(), nil
}

func (c *CORS) apply(resp *cellohttp.Response) {
	resp.SetHeader("Access-Control-Allow-Origin", c.AllowOrigin)
	resp.SetHeader("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
	resp.SetHeader("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

// RequestID tags every exchange with a fresh UUID, visible to handlers via
// the request headers and to clients via the response.
type RequestID struct{}

// Before stores the generated ID on the request.
func (RequestID) Before(req *cellohttp.Request) (Action, error) {
	req.Headers["x-request-id"] = uuid.NewString()
	return Continue(), nil
}

// After echoes the ID on the response.
func (RequestID) After(req *cellohttp.Request, resp *cellohttp.Response) (Action, error) {
	if id := req.Headers["x-request-id"]; id != "" {
		resp.SetHeader("X-Request-ID", id)
	}
	return Continue(), nil
}

// RateLimit rejects requests beyond a sustained rate with 429. It uses a
// token bucket shared across all connections.
type RateLimit struct {
	limiter *rate.Limiter
}

// NewRateLimit allows rps requests per second with the given burst.
func NewRateLimit(rps float64, burst int) *RateLimit {
	if burst <= 0 {
		burst = int(rps)
		if burst <= 0 {
			burst = 1
		}
	}
	return &RateLimit{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Before rejects once the bucket is empty.
func (r *RateLimit) Before(_ *cellohttp.Request) (Action, error) {
	if !r.limiter.Allow() {
		return Action{}, NewFailure(429, "rate limit exceeded")
	}
	return Continue(), nil
}

// Logger records one structured line per completed request. It runs as
// asynchronous after-middleware so handler latency is already known.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates the request logger.
func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger.With(zap.String("component", "request_log"))}
}

// Before implements AsyncMiddleware; the work happens in After.
func (l *Logger) Before(_ context.Context, _ *cellohttp.Request) (Action, error) {
	return Continue(), nil
}

// After logs method, path, status and elapsed time.
func (l *Logger) After(_ context.Context, req *cellohttp.Request, resp *cellohttp.Response) (Action, error) {
	l.logger.Info("request",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", resp.Status),
		zap.Duration("elapsed", time.Since(req.ReceivedAt)),
	)
	return Continue(), nil
}
