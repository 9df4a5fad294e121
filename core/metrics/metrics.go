// Package metrics holds the process-wide server counters. Counters are
// plain atomics shared by every connection task; exactness under race is
// not required, only approximate observability. The latency sample buffer
// is the single mutex-guarded structure and is never combined with the
// counters under one lock.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// latencyCapacity bounds the sample ring; the oldest entry is evicted
	// once the ring is full.
	latencyCapacity = 1000
	// latencySampleMask samples 1-in-64 requests, keeping the write lock
	// off the hot path. Latency averages are statistical, not exact.
	latencySampleMask = 63
)

// ServerMetrics tracks request-serving activity for the process lifetime.
type ServerMetrics struct {
	totalRequests     atomic.Uint64
	activeConnections atomic.Int64
	bytesReceived     atomic.Uint64
	bytesSent         atomic.Uint64
	totalErrors       atomic.Uint64

	startTime time.Time

	mu         sync.Mutex
	latencies  [latencyCapacity]time.Duration
	latHead    int
	latCount   int
	latTotalNs int64
}

// New creates metrics anchored at the current time.
func New() *ServerMetrics {
	return &ServerMetrics{startTime: time.Now()}
}

// IncRequests counts one received request.
func (m *ServerMetrics) IncRequests() { m.totalRequests.Add(1) }

// IncConnections counts one accepted connection.
func (m *ServerMetrics) IncConnections() { m.activeConnections.Add(1) }

// DecConnections pairs with IncConnections when a connection task ends.
func (m *ServerMetrics) DecConnections() { m.activeConnections.Add(-1) }

// AddBytesReceived accumulates request body bytes.
func (m *ServerMetrics) AddBytesReceived(n uint64) { m.bytesReceived.Add(n) }

// AddBytesSent accumulates response body bytes.
func (m *ServerMetrics) AddBytesSent(n uint64) { m.bytesSent.Add(n) }

// IncErrors counts one failed request or degraded read.
func (m *ServerMetrics) IncErrors() { m.totalErrors.Add(1) }

// TotalRequests returns the request count.
func (m *ServerMetrics) TotalRequests() uint64 { return m.totalRequests.Load() }

// ActiveConnections returns the live connection count.
func (m *ServerMetrics) ActiveConnections() int64 { return m.activeConnections.Load() }

// BytesReceived returns accumulated request body bytes.
func (m *ServerMetrics) BytesReceived() uint64 { return m.bytesReceived.Load() }

// BytesSent returns accumulated response body bytes.
func (m *ServerMetrics) BytesSent() uint64 { return m.bytesSent.Load() }

// TotalErrors returns the error count.
func (m *ServerMetrics) TotalErrors() uint64 { return m.totalErrors.Load() }

// RecordLatency samples one request duration into the bounded ring.
// Only every 64th request is recorded, so the lock never becomes a
// bottleneck under load.
func (m *ServerMetrics) RecordLatency(d time.Duration) {
	if m.totalRequests.Load()&latencySampleMask != 0 {
		return
	}
	m.mu.Lock()
	if m.latCount == latencyCapacity {
		m.latTotalNs -= int64(m.latencies[m.latHead])
	} else {
		m.latCount++
	}
	m.latencies[m.latHead] = d
	m.latTotalNs += int64(d)
	m.latHead = (m.latHead + 1) % latencyCapacity
	m.mu.Unlock()
}

// AvgLatency returns the mean of the sampled latencies.
func (m *ServerMetrics) AvgLatency() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latCount == 0 {
		return 0
	}
	return time.Duration(m.latTotalNs / int64(m.latCount))
}

// RequestsPerSecond derives throughput from the request counter and uptime.
func (m *ServerMetrics) RequestsPerSecond() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(m.totalRequests.Load()) / elapsed
}

// Uptime reports time since the metrics were created.
func (m *ServerMetrics) Uptime() time.Duration { return time.Since(m.startTime) }

// Snapshot is a non-destructive read of every metric, for external
// reporting.
type Snapshot struct {
	TotalRequests     uint64  `json:"total_requests"`
	ActiveConnections int64   `json:"active_connections"`
	BytesReceived     uint64  `json:"bytes_received"`
	BytesSent         uint64  `json:"bytes_sent"`
	TotalErrors       uint64  `json:"total_errors"`
	UptimeSecs        uint64  `json:"uptime_secs"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	AvgLatencyMs      float64 `json:"avg_latency_ms"`
}

// Snapshot captures all counters and derived values.
func (m *ServerMetrics) Snapshot() Snapshot {
	return Snapshot{
		TotalRequests:     m.totalRequests.Load(),
		ActiveConnections: m.activeConnections.Load(),
		BytesReceived:     m.bytesReceived.Load(),
		BytesSent:         m.bytesSent.Load(),
		TotalErrors:       m.totalErrors.Load(),
		UptimeSecs:        uint64(time.Since(m.startTime).Seconds()),
		RequestsPerSecond: m.RequestsPerSecond(),
		AvgLatencyMs:      float64(m.AvgLatency().Nanoseconds()) / 1e6,
	}
}
