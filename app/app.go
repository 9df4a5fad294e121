// Package app is the embeddable facade: route registration, middleware
// wiring and lifecycle management around the server core.
package app

import (
	"context"
	"crypto/tls"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/jagadeesh32/cello/config"
	"github.com/jagadeesh32/cello/core/handler"
	cellohttp "github.com/jagadeesh32/cello/core/http"
	cellohttp2 "github.com/jagadeesh32/cello/core/http2"
	"github.com/jagadeesh32/cello/core/metrics"
	"github.com/jagadeesh32/cello/core/middleware"
	"github.com/jagadeesh32/cello/core/router"
	"github.com/jagadeesh32/cello/core/server"
)

// App is the application instance. Routes, middleware and guards are
// registered up front; Run freezes the configuration and serves.
type App struct {
	cfg      *config.Server
	router   *router.Router
	handlers *handler.Registry
	chain    *middleware.Chain
	guards   *middleware.GuardSet
	hook     *middleware.HookSlot
	deps     *handler.Dependencies
	logger   *zap.Logger

	server *server.Server
}

// New creates an application instance.
func New(cfg *config.Server) *App {
	return NewWithLogger(cfg, zap.NewNop())
}

// NewWithLogger creates an application instance that logs through the
// given zap logger.
func NewWithLogger(cfg *config.Server, logger *zap.Logger) *App {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:      cfg,
		router:   router.New(),
		handlers: handler.NewRegistry(),
		chain:    middleware.NewChain(),
		guards:   middleware.NewGuardSet(),
		hook:     middleware.NewHookSlot(),
		deps:     handler.NewDependencies(),
		logger:   logger,
	}
}

// Route registers a handler for an arbitrary method and pattern. Patterns
// use :name or {name} for parameters and *name or {*name} for catch-alls.
func (a *App) Route(method, pattern string, fn handler.Func) *App {
	id := a.handlers.Register(fn)
	a.router.Add(method, pattern, id)
	return a
}

// GET registers a handler for GET requests.
func (a *App) GET(pattern string, fn handler.Func) *App { return a.Route("GET", pattern, fn) }

// POST registers a handler for POST requests.
func (a *App) POST(pattern string, fn handler.Func) *App { return a.Route("POST", pattern, fn) }

// PUT registers a handler for PUT requests.
func (a *App) PUT(pattern string, fn handler.Func) *App { return a.Route("PUT", pattern, fn) }

// DELETE registers a handler for DELETE requests.
func (a *App) DELETE(pattern string, fn handler.Func) *App { return a.Route("DELETE", pattern, fn) }

// PATCH registers a handler for PATCH requests.
func (a *App) PATCH(pattern string, fn handler.Func) *App { return a.Route("PATCH", pattern, fn) }

// HEAD registers a handler for HEAD requests.
func (a *App) HEAD(pattern string, fn handler.Func) *App { return a.Route("HEAD", pattern, fn) }

// OPTIONS registers a handler for OPTIONS requests.
func (a *App) OPTIONS(pattern string, fn handler.Func) *App { return a.Route("OPTIONS", pattern, fn) }

// Use appends a synchronous middleware to the chain.
func (a *App) Use(m middleware.Middleware) *App {
	a.chain.Use(m)
	return a
}

// UseAsync appends an asynchronous middleware to the chain.
func (a *App) UseAsync(m middleware.AsyncMiddleware) *App {
	a.chain.UseAsync(m)
	return a
}

// Guard adds a request guard, checked after middleware and before the
// handler.
func (a *App) Guard(g middleware.Guard) *App {
	a.guards.Add(g)
	return a
}

// Provide registers a named dependency handlers can look up at call time.
func (a *App) Provide(name string, value any) *App {
	a.deps.Provide(name, value)
	return a
}

// EnableCORS installs permissive CORS handling for the given origin.
func (a *App) EnableCORS(origin string) *App {
	return a.Use(middleware.NewCORS(origin))
}

// EnableRequestID tags every exchange with a generated UUID, echoed back
// as X-Request-ID.
func (a *App) EnableRequestID() *App {
	return a.Use(middleware.RequestID{})
}

// EnableLogging installs per-request logging through the app logger.
func (a *App) EnableLogging() *App {
	return a.UseAsync(middleware.NewLogger(a.logger))
}

// EnableRateLimit installs a global token-bucket limiter.
func (a *App) EnableRateLimit(rps float64, burst int) *App {
	return a.Use(middleware.NewRateLimit(rps, burst))
}

// EnablePrometheus installs the Prometheus hook and serves the text
// exposition format on the given endpoint (default /metrics).
func (a *App) EnablePrometheus(endpoint, namespace string) *App {
	p := middleware.NewPrometheus(endpoint, namespace)
	a.hook.Set(p)
	// Routing resolves before the hook runs, so the scrape path needs a
	// route of its own; the hook intercepts it ahead of this handler.
	a.GET(p.Endpoint(), func(_ context.Context, req *cellohttp.Request, _ *handler.Dependencies) (handler.Outcome, error) {
		action, err := p.Before(req)
		if err != nil {
			return nil, err
		}
		if resp, stopped := action.Stopped(); stopped {
			return handler.Rich{Status: resp.Status, Headers: resp.Headers, Body: resp.Body}, nil
		}
		return handler.Rich{Status: 204}, nil
	})
	return a
}

// Server returns the underlying server. It is nil before Run.
func (a *App) Server() *server.Server { return a.server }

// Metrics returns the live server metrics. It is nil before Run.
func (a *App) Metrics() *metrics.ServerMetrics {
	if a.server == nil {
		return nil
	}
	return a.server.Metrics()
}

// Build assembles the server without starting it. Most callers use Run;
// Build exists for embedding the server into an existing lifecycle.
func (a *App) Build() *server.Server {
	if a.server == nil {
		a.server = server.New(a.cfg, server.Options{
			Router:       a.router,
			Handlers:     a.handlers,
			Middleware:   a.chain,
			Guards:       a.guards,
			Hook:         a.hook,
			Dependencies: a.deps,
			Logger:       a.logger,
		})
	}
	return a.server
}

// Run serves until SIGINT/SIGTERM or ctx cancellation, then drains.
func (a *App) Run(ctx context.Context) error {
	srv := a.Build()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.HTTP2 != nil && a.cfg.HTTP2.Addr != "" {
		h2 := a.buildHTTP2(srv)
		go func() {
			if err := h2.ListenAndServe(); err != nil {
				a.logger.Warn("HTTP/2 listener stopped", zap.Error(err))
			}
		}()
		defer h2.Close()
	}

	return srv.Run(ctx)
}

func (a *App) buildHTTP2(srv *server.Server) *cellohttp2.Server {
	var tlsConf *tls.Config
	if a.cfg.TLS != nil {
		// Certificate loading is deferred to the listener; a failure
		// surfaces from ListenAndServe.
		tlsConf = &tls.Config{GetCertificate: certLoader(a.cfg.TLS)}
	}
	return cellohttp2.NewServer(cellohttp2.Config{
		Addr:                 a.cfg.HTTP2.Addr,
		Handler:              srv.HTTPHandler(),
		TLSConfig:            tlsConf,
		MaxConcurrentStreams: a.cfg.HTTP2.MaxConcurrentStreams,
		MaxReadFrameSize:     a.cfg.HTTP2.MaxReadFrameSize,
		IdleTimeout:          a.cfg.HTTP2.IdleTimeout,
		Logger:               a.logger,
	})
}

func certLoader(tc *config.TLS) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := tls.LoadX509KeyPair(tc.CertFile, tc.KeyFile)
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}
