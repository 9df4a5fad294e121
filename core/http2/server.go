// Package http2 layers an optional HTTP/2 listener around the server core.
// Requests arriving over h2 (ALPN TLS) or h2c (cleartext) are fed through
// the same dispatcher as the native HTTP/1.1 loop.
package http2

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Config contains the HTTP/2 listener configuration.
type Config struct {
	Addr                 string
	Handler              http.Handler
	TLSConfig            *tls.Config
	MaxConcurrentStreams uint32
	MaxReadFrameSize     uint32
	IdleTimeout          time.Duration
	Logger               *zap.Logger
}

// Server serves HTTP/2 with multiplexing and HPACK compression.
type Server struct {
	addr   string
	server *http.Server
	h2     *http2.Server
	logger *zap.Logger

	tlsConfig *tls.Config

	mu     sync.Mutex
	closed bool
}

// NewServer creates an HTTP/2 server around the given handler.
func NewServer(cfg Config) *Server {
	if cfg.MaxConcurrentStreams == 0 {
		cfg.MaxConcurrentStreams = 250
	}
	if cfg.MaxReadFrameSize == 0 {
		cfg.MaxReadFrameSize = 1 << 20
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Server{
		addr:   cfg.Addr,
		logger: cfg.Logger.With(zap.String("component", "http2")),
	}

	s.h2 = &http2.Server{
		MaxConcurrentStreams: cfg.MaxConcurrentStreams,
		MaxReadFrameSize:     cfg.MaxReadFrameSize,
		IdleTimeout:          cfg.IdleTimeout,
	}

	s.server = &http.Server{
		Addr:    cfg.Addr,
		Handler: cfg.Handler,
	}

	if cfg.TLSConfig != nil {
		s.tlsConfig = cfg.TLSConfig.Clone()
		s.tlsConfig.NextProtos = []string{"h2", "http/1.1"}
		s.server.TLSConfig = s.tlsConfig
	} else {
		// h2c: HTTP/2 over cleartext TCP.
		s.server.Handler = h2c.NewHandler(cfg.Handler, s.h2)
	}

	return s
}

// ListenAndServe starts the listener and blocks until Close.
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("http2 server is closed")
	}
	s.mu.Unlock()

	if s.tlsConfig != nil {
		s.logger.Info("HTTP/2 listener starting", zap.String("addr", s.addr), zap.String("protocol", "h2"))
		return s.server.ListenAndServeTLS("", "")
	}
	s.logger.Info("HTTP/2 listener starting", zap.String("addr", s.addr), zap.String("protocol", "h2c"))
	return s.server.ListenAndServe()
}

// Close shuts the listener down.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.server.Close()
}
