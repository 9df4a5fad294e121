// Package server is the request-serving core: it accepts TCP connections,
// frames HTTP/1.1 requests, runs the middleware/guard pipeline around
// application handlers, and writes wire responses, tracking metrics and
// supporting graceful drain throughout.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jagadeesh32/cello/config"
	"github.com/jagadeesh32/cello/core/handler"
	"github.com/jagadeesh32/cello/core/metrics"
	"github.com/jagadeesh32/cello/core/middleware"
	"github.com/jagadeesh32/cello/core/router"
)

// Options wires together the collaborators a server serves. The route
// table and middleware chain must be fully built before Run; they are
// shared read-only across every connection task.
type Options struct {
	Router       *router.Router
	Handlers     *handler.Registry
	Middleware   *middleware.Chain
	Guards       *middleware.GuardSet
	Hook         *middleware.HookSlot
	Dependencies *handler.Dependencies
	Logger       *zap.Logger
}

// Server owns the listening socket(s) and the per-connection tasks.
type Server struct {
	cfg      *config.Server
	router   *router.Router
	handlers *handler.Registry
	chain    *middleware.Chain
	guards   *middleware.GuardSet
	hook     *middleware.HookSlot
	deps     *handler.Dependencies

	metrics  *metrics.ServerMetrics
	shutdown *Coordinator
	logger   *zap.Logger

	mu        sync.Mutex
	listeners []net.Listener
	boundAddr string
	ready     chan struct{}
}

// New assembles a server around the given configuration and collaborators.
func New(cfg *config.Server, opts Options) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Router == nil {
		opts.Router = router.New()
	}
	if opts.Handlers == nil {
		opts.Handlers = handler.NewRegistry()
	}
	if opts.Middleware == nil {
		opts.Middleware = middleware.NewChain()
	}
	if opts.Guards == nil {
		opts.Guards = middleware.NewGuardSet()
	}
	if opts.Hook == nil {
		opts.Hook = middleware.NewHookSlot()
	}
	if opts.Dependencies == nil {
		opts.Dependencies = handler.NewDependencies()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	logger := opts.Logger.With(zap.String("component", "server"))
	return &Server{
		cfg:      cfg,
		router:   opts.Router,
		handlers: opts.Handlers,
		chain:    opts.Middleware,
		guards:   opts.Guards,
		hook:     opts.Hook,
		deps:     opts.Dependencies,
		metrics:  metrics.New(),
		shutdown: NewCoordinator(cfg.ShutdownTimeout, opts.Logger),
		logger:   logger,
		ready:    make(chan struct{}),
	}
}

// Metrics returns the live server metrics.
func (s *Server) Metrics() *metrics.ServerMetrics { return s.metrics }

// Shutdown initiates graceful shutdown; safe to call from any goroutine,
// any number of times.
func (s *Server) Shutdown() { s.shutdown.Shutdown() }

// ShuttingDown reports whether shutdown has been initiated.
func (s *Server) ShuttingDown() bool { return s.shutdown.IsShuttingDown() }

// Ready is closed once the listeners are bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// BoundAddr returns the first listener's address, valid after Ready.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// Run binds the listeners and serves until ctx is canceled or Shutdown is
// called, then drains in-flight requests within the configured budget.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Workers > 0 {
		runtime.GOMAXPROCS(s.cfg.Workers)
	}

	nListeners := 1
	if s.cfg.Cluster != nil && s.cfg.Cluster.Listeners > 1 {
		nListeners = s.cfg.Cluster.Listeners
	}

	if err := s.bind(ctx, nListeners); err != nil {
		return err
	}
	close(s.ready)

	s.logger.Info("server listening",
		zap.String("addr", s.BoundAddr()),
		zap.Int("listeners", nListeners),
		zap.Bool("tls", s.cfg.TLS != nil),
	)

	// Close the listeners as soon as shutdown is broadcast so blocked
	// accepts unwind.
	go func() {
		select {
		case <-ctx.Done():
			s.shutdown.Shutdown()
		case <-s.shutdown.Done():
		}
		s.closeListeners()
	}()

	// Connection tasks get a context that survives ctx cancellation and
	// accept-loop completion: shutdown stops accepting, but in-flight
	// requests are left to finish naturally within the drain budget
	// rather than being canceled mid-handler.
	connCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	s.mu.Lock()
	listeners := append([]net.Listener(nil), s.listeners...)
	s.mu.Unlock()
	for _, ln := range listeners {
		ln := ln
		g.Go(func() error { return s.acceptLoop(connCtx, ln) })
	}
	err := g.Wait()

	// In-flight requests get the drain budget to finish naturally; after
	// that the server returns regardless.
	if s.shutdown.ActiveRequests() > 0 {
		s.shutdown.Drain(context.Background())
	}
	s.logger.Info("server stopped")
	return err
}

// bind creates nListeners reuse-port listeners on the configured address
// (all on the first listener's port, so ":0" configs cluster correctly).
func (s *Server) bind(ctx context.Context, nListeners int) error {
	lc := net.ListenConfig{Control: reusePortControl}

	addr := s.cfg.Addr()
	for i := 0; i < nListeners; i++ {
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			s.closeListeners()
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		if i == 0 {
			addr = ln.Addr().String()
		}
		if s.cfg.TLS != nil {
			tlsConf, err := s.tlsConfig()
			if err != nil {
				ln.Close()
				s.closeListeners()
				return err
			}
			ln = tls.NewListener(ln, tlsConf)
		}
		s.mu.Lock()
		s.listeners = append(s.listeners, ln)
		if s.boundAddr == "" {
			s.boundAddr = ln.Addr().String()
		}
		s.mu.Unlock()
	}
	return nil
}

func (s *Server) tlsConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	conf := &tls.Config{Certificates: []tls.Certificate{cert}}
	if s.cfg.TLS.MinVersion == "1.3" {
		conf.MinVersion = tls.VersionTLS13
	} else {
		conf.MinVersion = tls.VersionTLS12
	}
	return conf, nil
}

func (s *Server) closeListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ln := range s.listeners {
		ln.Close()
	}
}

// acceptLoop takes connections until shutdown. New connections beyond the
// ceiling are rejected, not queued; existing connections are unaffected.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shutdown.IsShuttingDown() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept error", zap.Error(err))
			continue
		}

		if s.shutdown.IsShuttingDown() {
			conn.Close()
			return nil
		}

		if s.metrics.ActiveConnections() >= int64(s.cfg.MaxConnections) {
			s.logger.Warn("connection limit reached, rejecting connection",
				zap.String("peer", conn.RemoteAddr().String()),
				zap.Int("max_connections", s.cfg.MaxConnections),
			)
			conn.Close()
			continue
		}

		if s.cfg.TCPNoDelay {
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				_ = tcpConn.SetNoDelay(true)
			}
		}

		s.metrics.IncConnections()
		go s.serveConn(ctx, conn)
	}
}
