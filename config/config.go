// Package config holds the immutable server configuration. A config is
// assembled once through the fluent builder (or loaded from YAML/env) before
// the server starts and is never mutated after Run begins.
package config

import (
	"fmt"
	"time"
)

// Server is the top-level server configuration snapshot.
type Server struct {
	// Host is the bind address.
	Host string
	// Port is the listen port.
	Port int
	// Workers is a parallelism hint (0 = runtime default).
	Workers int
	// Backlog is the listen(2) backlog.
	Backlog int
	// KeepAlive is the idle timeout for keep-alive connections (0 disables
	// keep-alive entirely).
	KeepAlive time.Duration
	// MaxConnections caps concurrent connections; accepts beyond the cap
	// are rejected, not queued.
	MaxConnections int
	// MaxHeaderBytes bounds the request head size.
	MaxHeaderBytes int
	// TCPNoDelay disables Nagle's algorithm on accepted connections.
	TCPNoDelay bool
	// ReadTimeout bounds reading one request from the socket.
	ReadTimeout time.Duration
	// WriteTimeout bounds writing one response to the socket.
	WriteTimeout time.Duration
	// ShutdownTimeout is the graceful-shutdown drain budget.
	ShutdownTimeout time.Duration

	// Optional protocol and deployment layers.
	TLS     *TLS
	HTTP2   *HTTP2
	HTTP3   *HTTP3
	Cluster *Cluster
}

// TLS configures TLS termination.
type TLS struct {
	CertFile string
	KeyFile  string
	// MinVersion is "1.2" or "1.3".
	MinVersion string
}

// HTTP2 configures the optional HTTP/2 listener.
type HTTP2 struct {
	// Addr is the HTTP/2 listen address; empty disables the listener.
	Addr                 string
	MaxConcurrentStreams uint32
	MaxReadFrameSize     uint32
	IdleTimeout          time.Duration
}

// HTTP3 is carried for configuration parity; the QUIC transport is layered
// outside this core.
type HTTP3 struct {
	Addr           string
	MaxIdleTimeout time.Duration
}

// Cluster enables multiple reuse-port accept loops so the kernel spreads
// connections across them.
type Cluster struct {
	// Listeners is the number of accept loops (0 or 1 = single loop).
	Listeners int
}

// New creates a server config with production defaults.
func New(host string, port int) *Server {
	return &Server{
		Host:            host,
		Port:            port,
		Backlog:         1024,
		KeepAlive:       75 * time.Second,
		MaxConnections:  10000,
		MaxHeaderBytes:  1 << 20,
		TCPNoDelay:      true,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Default returns the local-development config.
func Default() *Server { return New("127.0.0.1", 8000) }

// Addr formats the bind address.
func (s *Server) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// WithWorkers sets the parallelism hint.
func (s *Server) WithWorkers(n int) *Server {
	s.Workers = n
	return s
}

// WithKeepAlive sets the keep-alive idle timeout.
func (s *Server) WithKeepAlive(d time.Duration) *Server {
	s.KeepAlive = d
	return s
}

// NoKeepAlive disables keep-alive; every connection serves one request.
func (s *Server) NoKeepAlive() *Server {
	s.KeepAlive = 0
	return s
}

// WithMaxConnections sets the concurrent connection ceiling.
func (s *Server) WithMaxConnections(max int) *Server {
	s.MaxConnections = max
	return s
}

// WithBacklog sets the listen backlog.
func (s *Server) WithBacklog(n int) *Server {
	s.Backlog = n
	return s
}

// WithReadTimeout bounds per-request reads.
func (s *Server) WithReadTimeout(d time.Duration) *Server {
	s.ReadTimeout = d
	return s
}

// WithWriteTimeout bounds per-response writes.
func (s *Server) WithWriteTimeout(d time.Duration) *Server {
	s.WriteTimeout = d
	return s
}

// WithShutdownTimeout sets the drain budget.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.ShutdownTimeout = d
	return s
}

// WithTLS enables TLS termination.
func (s *Server) WithTLS(tls TLS) *Server {
	s.TLS = &tls
	return s
}

// WithHTTP2 enables the HTTP/2 listener.
func (s *Server) WithHTTP2(h2 HTTP2) *Server {
	s.HTTP2 = &h2
	return s
}

// WithHTTP3 records HTTP/3 settings for outer layers.
func (s *Server) WithHTTP3(h3 HTTP3) *Server {
	s.HTTP3 = &h3
	return s
}

// WithCluster enables multiple accept loops.
func (s *Server) WithCluster(c Cluster) *Server {
	s.Cluster = &c
	return s
}
