package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()

	m.IncRequests()
	m.IncRequests()
	m.IncErrors()
	m.AddBytesReceived(100)
	m.AddBytesSent(250)

	assert.Equal(t, uint64(2), m.TotalRequests())
	assert.Equal(t, uint64(1), m.TotalErrors())
	assert.Equal(t, uint64(100), m.BytesReceived())
	assert.Equal(t, uint64(250), m.BytesSent())
}

func TestConnectionPairing(t *testing.T) {
	m := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncConnections()
			m.DecConnections()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), m.ActiveConnections())
}

func TestRecordLatency_Sampling(t *testing.T) {
	m := New()

	// Request count 0 satisfies the 1-in-64 sample gate.
	m.RecordLatency(10 * time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, m.AvgLatency())

	// A non-multiple of 64 is skipped.
	m.IncRequests()
	m.RecordLatency(90 * time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, m.AvgLatency())

	// Advance to the next multiple of 64; this one is recorded.
	for i := 0; i < 63; i++ {
		m.IncRequests()
	}
	m.RecordLatency(30 * time.Millisecond)
	assert.Equal(t, 20*time.Millisecond, m.AvgLatency())
}

func TestRecordLatency_RingEvictsOldest(t *testing.T) {
	m := New()

	// Request count stays 0 so every call passes the sample gate.
	for i := 0; i < latencyCapacity; i++ {
		m.RecordLatency(10 * time.Millisecond)
	}
	assert.Equal(t, 10*time.Millisecond, m.AvgLatency())

	// One more evicts an old 10ms sample rather than growing the ring.
	m.RecordLatency(10*time.Millisecond + time.Duration(latencyCapacity)*time.Millisecond)
	assert.Greater(t, m.AvgLatency(), 10*time.Millisecond)
}

func TestAvgLatency_EmptyIsZero(t *testing.T) {
	assert.Equal(t, time.Duration(0), New().AvgLatency())
}

func TestSnapshot(t *testing.T) {
	m := New()
	m.IncRequests()
	m.IncConnections()
	m.AddBytesReceived(10)
	m.AddBytesSent(20)
	m.IncErrors()

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.ActiveConnections)
	assert.Equal(t, uint64(10), snap.BytesReceived)
	assert.Equal(t, uint64(20), snap.BytesSent)
	assert.Equal(t, uint64(1), snap.TotalErrors)
	assert.GreaterOrEqual(t, snap.RequestsPerSecond, 0.0)
}

func TestUptime(t *testing.T) {
	m := New()
	time.Sleep(time.Millisecond)
	assert.Greater(t, m.Uptime(), time.Duration(0))
}
