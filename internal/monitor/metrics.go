// Package monitor collects execution metrics for the status endpoint and
// bridges protection-lost events to the alert channel.
package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/gateway"
)

// SystemMetrics tracks execution performance and counters.
type SystemMetrics struct {
	mu sync.RWMutex

	ExecutionLatency *LatencyHistogram
	VenueLatency     *LatencyHistogram
	DBLatency        *LatencyHistogram
	APILatency       *LatencyHistogram

	apiRequests     uint64
	apiErrors       uint64
	signalsReceived uint64
	signalsExecuted uint64
	signalsRejected uint64
	streamEvents    uint64
	reconnects      uint64
	errorsCount     uint64

	gatewayStats gateway.Stats
}

// LatencyHistogram tracks latency samples over a sliding window. Stats are
// recomputed lazily, only when samples changed since the last read.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		ExecutionLatency: NewLatencyHistogram(1000),
		VenueLatency:     NewLatencyHistogram(1000),
		DBLatency:        NewLatencyHistogram(1000),
		APILatency:       NewLatencyHistogram(1000),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts a duration to ms and records it.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementAPI counts handled HTTP requests.
func (m *SystemMetrics) IncrementAPI() {
	atomic.AddUint64(&m.apiRequests, 1)
}

// IncrementAPIErrors counts HTTP responses with status >= 400.
func (m *SystemMetrics) IncrementAPIErrors() {
	atomic.AddUint64(&m.apiErrors, 1)
}

// IncrementSignalsReceived counts every inbound signal.
func (m *SystemMetrics) IncrementSignalsReceived() {
	atomic.AddUint64(&m.signalsReceived, 1)
}

// IncrementSignalsExecuted counts signals that placed orders.
func (m *SystemMetrics) IncrementSignalsExecuted() {
	atomic.AddUint64(&m.signalsExecuted, 1)
}

// IncrementSignalsRejected counts signals stopped by a guard.
func (m *SystemMetrics) IncrementSignalsRejected() {
	atomic.AddUint64(&m.signalsRejected, 1)
}

// IncrementStreamEvents counts handled user-data stream frames.
func (m *SystemMetrics) IncrementStreamEvents() {
	atomic.AddUint64(&m.streamEvents, 1)
}

// IncrementReconnects counts stream reconnect attempts.
func (m *SystemMetrics) IncrementReconnects() {
	atomic.AddUint64(&m.reconnects, 1)
}

// IncrementErrors counts unexpected failures.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// MetricsSnapshot is a point-in-time view for the status endpoint.
type MetricsSnapshot struct {
	ExecutionLatency LatencyStats  `json:"execution_latency"`
	VenueLatency     LatencyStats  `json:"venue_latency"`
	DBLatency        LatencyStats  `json:"db_latency"`
	APILatency       LatencyStats  `json:"api_latency"`
	APIRequests      uint64        `json:"api_requests"`
	APIErrors        uint64        `json:"api_errors"`
	SignalsReceived  uint64        `json:"signals_received"`
	SignalsExecuted  uint64        `json:"signals_executed"`
	SignalsRejected  uint64        `json:"signals_rejected"`
	StreamEvents     uint64        `json:"stream_events"`
	Reconnects       uint64        `json:"reconnects"`
	ErrorsCount      uint64        `json:"errors_count"`
	GatewayPool      gateway.Stats `json:"gateway_pool"`
	GoroutineCount   int           `json:"goroutine_count"`
	HeapAlloc        uint64        `json:"heap_alloc_bytes"`
	Timestamp        time.Time     `json:"timestamp"`
}

// GetSnapshot returns the current metrics.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	gwStats := m.gatewayStats
	m.mu.RUnlock()

	return MetricsSnapshot{
		ExecutionLatency: m.ExecutionLatency.Stats(),
		VenueLatency:     m.VenueLatency.Stats(),
		DBLatency:        m.DBLatency.Stats(),
		APILatency:       m.APILatency.Stats(),
		APIRequests:      atomic.LoadUint64(&m.apiRequests),
		APIErrors:        atomic.LoadUint64(&m.apiErrors),
		SignalsReceived:  atomic.LoadUint64(&m.signalsReceived),
		SignalsExecuted:  atomic.LoadUint64(&m.signalsExecuted),
		SignalsRejected:  atomic.LoadUint64(&m.signalsRejected),
		StreamEvents:     atomic.LoadUint64(&m.streamEvents),
		Reconnects:       atomic.LoadUint64(&m.reconnects),
		ErrorsCount:      atomic.LoadUint64(&m.errorsCount),
		GatewayPool:      gwStats,
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        memStats.HeapAlloc,
		Timestamp:        time.Now(),
	}
}

// SetGatewayStats refreshes the pool counters shown in the snapshot.
func (m *SystemMetrics) SetGatewayStats(stats gateway.Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gatewayStats = stats
}

// Timer measures one operation into a histogram.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer starts a timer recording into h.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), histogram: h}
}

// Stop records the elapsed time.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
