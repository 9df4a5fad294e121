package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jagadeesh32/cello/config"
	"github.com/jagadeesh32/cello/core/handler"
	cellohttp "github.com/jagadeesh32/cello/core/http"
	"github.com/jagadeesh32/cello/core/router"
)

// startServer runs a server on an ephemeral port and returns it with a
// stop function that blocks until Run returns.
func startServer(t *testing.T, cfg *config.Server, opts Options) (*Server, func()) {
	t.Helper()

	srv := New(cfg, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	select {
	case <-srv.Ready():
	case err := <-done:
		t.Fatalf("server exited before ready: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}

	return srv, func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("server did not stop")
		}
	}
}

func pingOptions() Options {
	r := router.New()
	reg := handler.NewRegistry()
	r.Add("GET", "/ping", reg.Register(func(_ context.Context, _ *cellohttp.Request, _ *handler.Dependencies) (handler.Outcome, error) {
		return handler.RawJSON(`{"ok":true}`), nil
	}))
	r.Add("GET", "/slow", reg.Register(func(_ context.Context, _ *cellohttp.Request, _ *handler.Dependencies) (handler.Outcome, error) {
		time.Sleep(200 * time.Millisecond)
		return handler.RawJSON(`{"slow":true}`), nil
	}))
	return Options{Router: r, Handlers: reg}
}

// routedOptions builds Options with a single registered route.
func routedOptions(method, path string, fn handler.Func) Options {
	r := router.New()
	reg := handler.NewRegistry()
	r.Add(method, path, reg.Register(fn))
	return Options{Router: r, Handlers: reg}
}

// readResponse parses one HTTP/1.1 response off the reader.
func readResponse(t *testing.T, br *bufio.Reader) (status int, headers map[string]string, body string) {
	t.Helper()

	statusLine, err := br.ReadString('\n')
	require.NoError(t, err)
	parts := strings.SplitN(strings.TrimRight(statusLine, "\r\n"), " ", 3)
	require.GreaterOrEqual(t, len(parts), 2)
	status, err = strconv.Atoi(parts[1])
	require.NoError(t, err)

	headers = map[string]string{}
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ": ")
		require.True(t, ok, "bad header line %q", line)
		headers[key] = value
	}

	length, err := strconv.Atoi(headers["Content-Length"])
	require.NoError(t, err)
	buf := make([]byte, length)
	_, err = io.ReadFull(br, buf)
	require.NoError(t, err)
	return status, headers, string(buf)
}

func TestServer_ServesKeepAliveRequests(t *testing.T) {
	srv, stop := startServer(t, config.New("127.0.0.1", 0), pingOptions())
	defer stop()

	conn, err := net.Dial("tcp", srv.BoundAddr())
	require.NoError(t, err)
	defer conn.Close()
	br := bufio.NewReader(conn)

	for i := 0; i < 3; i++ {
		_, err = fmt.Fprintf(conn, "GET /ping HTTP/1.1\r\nHost: test\r\n\r\n")
		require.NoError(t, err)

		status, headers, body := readResponse(t, br)
		assert.Equal(t, 200, status)
		assert.Equal(t, "application/json", headers["Content-Type"])
		assert.Equal(t, `{"ok":true}`, body)
	}

	assert.Equal(t, uint64(3), srv.Metrics().TotalRequests())
}

func TestServer_UnknownRouteIs404(t *testing.T) {
	srv, stop := startServer(t, config.New("127.0.0.1", 0), pingOptions())
	defer stop()

	conn, err := net.Dial("tcp", srv.BoundAddr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = fmt.Fprintf(conn, "GET /nope HTTP/1.1\r\nHost: test\r\n\r\n")
	require.NoError(t, err)

	status, _, body := readResponse(t, bufio.NewReader(conn))
	assert.Equal(t, 404, status)
	assert.Equal(t, "Not Found: GET /nope", body)
}

func TestServer_ConnectionCloseHonored(t *testing.T) {
	srv, stop := startServer(t, config.New("127.0.0.1", 0), pingOptions())
	defer stop()

	conn, err := net.Dial("tcp", srv.BoundAddr())
	require.NoError(t, err)
	defer conn.Close()
	br := bufio.NewReader(conn)

	_, err = fmt.Fprintf(conn, "GET /ping HTTP/1.1\r\nHost: test\r\nConnection: close\r\n\r\n")
	require.NoError(t, err)

	status, _, _ := readResponse(t, br)
	assert.Equal(t, 200, status)

	// The server closes its end after the response.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = br.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_MalformedRequestGets400(t *testing.T) {
	srv, stop := startServer(t, config.New("127.0.0.1", 0), pingOptions())
	defer stop()

	conn, err := net.Dial("tcp", srv.BoundAddr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = fmt.Fprintf(conn, "GARBAGE\r\n\r\n")
	require.NoError(t, err)

	status, _, _ := readResponse(t, bufio.NewReader(conn))
	assert.Equal(t, 400, status)
}

func TestServer_ConnectionCountReturnsToBaseline(t *testing.T) {
	srv, stop := startServer(t, config.New("127.0.0.1", 0), pingOptions())
	defer stop()

	conn, err := net.Dial("tcp", srv.BoundAddr())
	require.NoError(t, err)

	_, err = fmt.Fprintf(conn, "GET /ping HTTP/1.1\r\nHost: test\r\n\r\n")
	require.NoError(t, err)
	readResponse(t, bufio.NewReader(conn))
	conn.Close()

	require.Eventually(t, func() bool {
		return srv.Metrics().ActiveConnections() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_ConnectionCeilingRejectsNewConnections(t *testing.T) {
	cfg := config.New("127.0.0.1", 0).WithMaxConnections(1)
	srv, stop := startServer(t, cfg, pingOptions())
	defer stop()

	first, err := net.Dial("tcp", srv.BoundAddr())
	require.NoError(t, err)
	defer first.Close()

	// A completed request proves the first connection is counted.
	_, err = fmt.Fprintf(first, "GET /ping HTTP/1.1\r\nHost: test\r\n\r\n")
	require.NoError(t, err)
	readResponse(t, bufio.NewReader(first))

	second, err := net.Dial("tcp", srv.BoundAddr())
	require.NoError(t, err)
	defer second.Close()

	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = second.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_ShutdownIsIdempotentAndStopsRun(t *testing.T) {
	srv, stop := startServer(t, config.New("127.0.0.1", 0), pingOptions())

	srv.Shutdown()
	srv.Shutdown()
	assert.True(t, srv.ShuttingDown())

	stop()

	_, err := net.Dial("tcp", srv.BoundAddr())
	assert.Error(t, err)
}

func TestServer_DrainWaitsForInFlightRequest(t *testing.T) {
	cfg := config.New("127.0.0.1", 0).WithShutdownTimeout(5 * time.Second)
	srv, stop := startServer(t, cfg, pingOptions())

	conn, err := net.Dial("tcp", srv.BoundAddr())
	require.NoError(t, err)
	defer conn.Close()
	br := bufio.NewReader(conn)

	_, err = fmt.Fprintf(conn, "GET /slow HTTP/1.1\r\nHost: test\r\n\r\n")
	require.NoError(t, err)

	// Give the request time to enter the handler, then shut down.
	time.Sleep(50 * time.Millisecond)
	srv.Shutdown()

	status, _, body := readResponse(t, br)
	assert.Equal(t, 200, status)
	assert.Equal(t, `{"slow":true}`, body)

	stop()
}

func TestServer_InFlightContextSurvivesShutdown(t *testing.T) {
	opts := routedOptions("GET", "/wait", func(ctx context.Context, _ *cellohttp.Request, _ *handler.Dependencies) (handler.Outcome, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(300 * time.Millisecond):
			return handler.RawJSON(`{"done":true}`), nil
		}
	})
	cfg := config.New("127.0.0.1", 0).WithShutdownTimeout(5 * time.Second)
	srv, stop := startServer(t, cfg, opts)

	conn, err := net.Dial("tcp", srv.BoundAddr())
	require.NoError(t, err)
	defer conn.Close()
	br := bufio.NewReader(conn)

	_, err = fmt.Fprintf(conn, "GET /wait HTTP/1.1\r\nHost: test\r\n\r\n")
	require.NoError(t, err)

	// Cancel the run context while the handler is still waiting. The
	// request context must not be canceled with it; drain gives the
	// handler time to finish and respond.
	time.Sleep(50 * time.Millisecond)
	stop()

	status, _, body := readResponse(t, br)
	assert.Equal(t, 200, status)
	assert.Equal(t, `{"done":true}`, body)
}

func TestServer_PanickingHandlerReleasesDrainCounter(t *testing.T) {
	opts := routedOptions("GET", "/boom", func(_ context.Context, _ *cellohttp.Request, _ *handler.Dependencies) (handler.Outcome, error) {
		panic("boom")
	})
	srv, stop := startServer(t, config.New("127.0.0.1", 0), opts)
	defer stop()

	conn, err := net.Dial("tcp", srv.BoundAddr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = fmt.Fprintf(conn, "GET /boom HTTP/1.1\r\nHost: test\r\n\r\n")
	require.NoError(t, err)

	// The connection-level recover closes the socket.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	require.Eventually(t, func() bool {
		return srv.Metrics().ActiveConnections() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), srv.shutdown.ActiveRequests())
}

func TestServer_ClusterListeners(t *testing.T) {
	cfg := config.New("127.0.0.1", 0).WithCluster(config.Cluster{Listeners: 2})
	srv, stop := startServer(t, cfg, pingOptions())
	defer stop()

	for i := 0; i < 4; i++ {
		conn, err := net.Dial("tcp", srv.BoundAddr())
		require.NoError(t, err)

		_, err = fmt.Fprintf(conn, "GET /ping HTTP/1.1\r\nHost: test\r\n\r\n")
		require.NoError(t, err)

		status, _, _ := readResponse(t, bufio.NewReader(conn))
		assert.Equal(t, 200, status)
		conn.Close()
	}
}

func TestHTTPHandler_ServesSameRoutes(t *testing.T) {
	ts := newTestServer()
	ts.route("GET", "/users/{id}", func(_ context.Context, req *cellohttp.Request, _ *handler.Dependencies) (handler.Outcome, error) {
		return handler.Structured{Value: map[string]string{"id": req.Param("id")}}, nil
	})

	rec := httptest.NewRecorder()
	ts.HTTPHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/users/42?verbose=1", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"id":"42"}`, rec.Body.String())
}

func TestHTTPHandler_404(t *testing.T) {
	ts := newTestServer()

	rec := httptest.NewRecorder()
	ts.HTTPHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/absent", nil))

	assert.Equal(t, 404, rec.Code)
	assert.Equal(t, "Not Found: GET /absent", rec.Body.String())
}
