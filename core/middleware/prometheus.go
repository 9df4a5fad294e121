package middleware

import (
	"bytes"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	cellohttp "github.com/jagadeesh32/cello/core/http"
)

// Prometheus is the cross-cutting instrumentation hook. It observes every
// completed request and serves the exposition endpoint itself, so the
// server core needs no extra route or listener for scraping.
type Prometheus struct {
	endpoint string
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestSize     *prometheus.HistogramVec
	responseSize    *prometheus.HistogramVec
}

// NewPrometheus creates the hook. endpoint defaults to "/metrics" and
// namespace to "cello".
func NewPrometheus(endpoint, namespace string) *Prometheus {
	if endpoint == "" {
		endpoint = "/metrics"
	}
	if namespace == "" {
		namespace = "cello"
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Prometheus{
		endpoint: endpoint,
		registry: registry,
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		requestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_size_bytes",
				Help:      "HTTP request size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		responseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
	}
}

// Endpoint returns the exposition path.
func (p *Prometheus) Endpoint() string { return p.endpoint }

// Registry exposes the underlying registry so applications can register
// their own collectors alongside the built-in ones.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Before serves the exposition endpoint; every other request continues.
func (p *Prometheus) Before(req *cellohttp.Request) (Action, error) {
	if req.Method != "GET" || req.Path != p.endpoint {
		return Continue(), nil
	}

	families, err := p.registry.Gather()
	if err != nil {
		return Action{}, NewFailure(500, "metrics gather failed")
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return Action{}, NewFailure(500, "metrics encoding failed")
		}
	}

	resp := cellohttp.NewResponse(200)
	resp.SetHeader("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	resp.SetBody(buf.Bytes())
	return Stop(resp), nil
}

// After observes the completed exchange. Failures here are swallowed by
// the dispatcher, so it never fails a request.
func (p *Prometheus) After(req *cellohttp.Request, resp *cellohttp.Response) error {
	status := strconv.Itoa(resp.Status)
	p.requestsTotal.WithLabelValues(req.Method, req.Path, status).Inc()
	p.requestDuration.WithLabelValues(req.Method, req.Path).Observe(time.Since(req.ReceivedAt).Seconds())
	p.requestSize.WithLabelValues(req.Method, req.Path).Observe(float64(req.BodySize()))
	p.responseSize.WithLabelValues(req.Method, req.Path).Observe(float64(len(resp.Body)))
	return nil
}
