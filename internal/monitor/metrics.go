package monitor

import (
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics counts what the bot did since start and how long the
// order, scan and API paths took.
type SystemMetrics struct {
	OrderLatency *LatencyHistogram
	ScanLatency  *LatencyHistogram
	APILatency   *LatencyHistogram

	orders   atomic.Uint64
	ticks    atomic.Uint64
	signals  atomic.Uint64
	errors   atomic.Uint64
	requests atomic.Uint64
	apiErrs  atomic.Uint64

	started time.Time
}

func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		OrderLatency: NewLatencyHistogram(1000),
		ScanLatency:  NewLatencyHistogram(200),
		APILatency:   NewLatencyHistogram(1000),
		started:      time.Now(),
	}
}

// LatencyHistogram is a fixed-size ring of millisecond samples. Stats are
// cached until the next Record.
type LatencyHistogram struct {
	mu    sync.Mutex
	ring  []float64
	next  int
	full  bool
	stats *LatencyStats
}

func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{ring: make([]float64, size)}
}

func (h *LatencyHistogram) Record(ms float64) {
	h.mu.Lock()
	h.ring[h.next] = ms
	h.next = (h.next + 1) % len(h.ring)
	if h.next == 0 {
		h.full = true
	}
	h.stats = nil
	h.mu.Unlock()
}

func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d) / float64(time.Millisecond))
}

func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stats != nil {
		return *h.stats
	}
	n := h.next
	if h.full {
		n = len(h.ring)
	}
	if n == 0 {
		return LatencyStats{}
	}

	sorted := slices.Clone(h.ring[:n])
	slices.Sort(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	pct := func(p float64) float64 { return sorted[int(float64(n-1)*p)] }
	h.stats = &LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   pct(0.50),
		P95:   pct(0.95),
		P99:   pct(0.99),
		Count: n,
	}
	return *h.stats
}

type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (m *SystemMetrics) IncrementOrders()    { m.orders.Add(1) }
func (m *SystemMetrics) IncrementTicks()     { m.ticks.Add(1) }
func (m *SystemMetrics) IncrementSignals()   { m.signals.Add(1) }
func (m *SystemMetrics) IncrementErrors()    { m.errors.Add(1) }
func (m *SystemMetrics) IncrementAPI()       { m.requests.Add(1) }
func (m *SystemMetrics) IncrementAPIErrors() { m.apiErrs.Add(1) }

type MetricsSnapshot struct {
	OrderLatency     LatencyStats `json:"order_latency"`
	ScanLatency      LatencyStats `json:"scan_latency"`
	APILatency       LatencyStats `json:"api_latency"`
	OrdersProcessed  uint64       `json:"orders_processed"`
	TicksProcessed   uint64       `json:"ticks_processed"`
	SignalsGenerated uint64       `json:"signals_generated"`
	ErrorsCount      uint64       `json:"errors_count"`
	APIRequests      uint64       `json:"api_requests"`
	APIErrors        uint64       `json:"api_errors"`
	TicksPerSecond   float64      `json:"ticks_per_second"`
	Goroutines       int          `json:"goroutines"`
	HeapAllocBytes   uint64       `json:"heap_alloc_bytes"`
	UptimeSeconds    float64      `json:"uptime_seconds"`
	Timestamp        time.Time    `json:"timestamp"`
}

func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	uptime := time.Since(m.started).Seconds()
	ticks := m.ticks.Load()

	snap := MetricsSnapshot{
		OrderLatency:     m.OrderLatency.Stats(),
		ScanLatency:      m.ScanLatency.Stats(),
		APILatency:       m.APILatency.Stats(),
		OrdersProcessed:  m.orders.Load(),
		TicksProcessed:   ticks,
		SignalsGenerated: m.signals.Load(),
		ErrorsCount:      m.errors.Load(),
		APIRequests:      m.requests.Load(),
		APIErrors:        m.apiErrs.Load(),
		Goroutines:       runtime.NumGoroutine(),
		HeapAllocBytes:   mem.HeapAlloc,
		UptimeSeconds:    uptime,
		Timestamp:        time.Now(),
	}
	if uptime > 0 {
		snap.TicksPerSecond = float64(ticks) / uptime
	}
	return snap
}

// Timer measures one operation into a histogram.
type Timer struct {
	start time.Time
	h     *LatencyHistogram
}

func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), h: h}
}

func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.h != nil {
		t.h.RecordDuration(elapsed)
	}
	return elapsed
}
