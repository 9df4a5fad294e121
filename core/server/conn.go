package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"

	cellohttp "github.com/jagadeesh32/cello/core/http"
)

const connReadBufferSize = 8192

// serveConn runs one HTTP/1.1 keep-alive loop. Requests on the same
// connection are completed fully (including after-middleware) before the
// next one is read, matching HTTP/1.1 semantics; pipelined requests are
// therefore answered in arrival order. The connection count is decremented
// exactly once however the task ends (normal close, protocol error, or
// panic), and a panic never escapes to other tasks or the accept loop.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in connection task",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
		conn.Close()
		s.metrics.DecConnections()
	}()

	br := bufio.NewReaderSize(conn, connReadBufferSize)

	for {
		if deadline := s.readDeadline(); !deadline.IsZero() {
			_ = conn.SetReadDeadline(deadline)
		}

		raw, err := cellohttp.ReadRequest(br, s.cfg.MaxHeaderBytes)
		if err != nil {
			if !benignClose(err) {
				s.logger.Warn("connection read error",
					zap.String("peer", conn.RemoteAddr().String()),
					zap.Error(err),
				)
				if errors.Is(err, cellohttp.ErrMalformedRequest) {
					s.writeResponse(conn, cellohttp.Error(400, "bad request"))
				}
			}
			return
		}

		wire := s.handleExchange(ctx, raw)

		if s.cfg.WriteTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		}
		if _, err := conn.Write(wire); err != nil {
			if !benignClose(err) {
				s.logger.Warn("connection write error",
					zap.String("peer", conn.RemoteAddr().String()),
					zap.Error(err),
				)
			}
			return
		}

		if raw.ConnectionClose() || s.cfg.KeepAlive == 0 || s.shutdown.IsShuttingDown() {
			return
		}
	}
}

// handleExchange runs one request through the pipeline and serializes the
// wire response. The started/finished pairing is restored by defer even
// when a handler panics; the panic then resumes to the connection-level
// recover, so a misbehaving handler can never leave the drain counter
// permanently raised.
func (s *Server) handleExchange(ctx context.Context, raw *cellohttp.RawRequest) []byte {
	s.shutdown.RequestStarted()
	start := time.Now()
	defer func() {
		s.metrics.RecordLatency(time.Since(start))
		s.shutdown.RequestFinished()
	}()

	resp, fast := s.dispatch(ctx, raw, true)

	// Any unconsumed body bytes are discarded so the next request on
	// the connection starts at a frame boundary. Skipped bodies are
	// never counted as received.
	raw.DiscardBody()

	if fast != nil {
		return fast
	}
	return s.buildWire(resp)
}

// readDeadline derives the deadline for reading the next request: the
// keep-alive idle budget when configured, otherwise the read timeout.
func (s *Server) readDeadline() time.Time {
	switch {
	case s.cfg.KeepAlive > 0:
		return time.Now().Add(s.cfg.KeepAlive)
	case s.cfg.ReadTimeout > 0:
		return time.Now().Add(s.cfg.ReadTimeout)
	default:
		return time.Time{}
	}
}

func (s *Server) writeResponse(conn net.Conn, resp *cellohttp.Response) {
	if s.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	_, _ = conn.Write(s.buildWire(resp))
}

// benignClose reports whether err is an expected peer-initiated close or
// idle timeout; those end the connection task silently.
func benignClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
