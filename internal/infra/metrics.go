package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	eventsProcessed atomic.Uint64
	staleRejected   atomic.Uint64
	crossedBooks    atomic.Uint64
	subscriberPanic atomic.Uint64
	ordersExecuted  atomic.Uint64
	cacheEvictions  atomic.Uint64
	reconnects      atomic.Uint64
	errorsTotal     atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
}

// RecordEvent records an event processing with latency.
func (m *Metrics) RecordEvent(latencyNs int64) {
	m.eventsProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordStaleRejected counts an update discarded by the freshness check.
func (m *Metrics) RecordStaleRejected() {
	m.staleRejected.Add(1)
}

// RecordCrossedBook counts a bid/ask invariant violation after a merge.
func (m *Metrics) RecordCrossedBook() {
	m.crossedBooks.Add(1)
}

// RecordSubscriberPanic counts a recovered subscriber callback failure.
func (m *Metrics) RecordSubscriberPanic() {
	m.subscriberPanic.Add(1)
}

// RecordOrderExecuted counts an order reaching a terminal state.
func (m *Metrics) RecordOrderExecuted() {
	m.ordersExecuted.Add(1)
}

// RecordCacheEviction counts one batch eviction of the executed cache.
func (m *Metrics) RecordCacheEviction() {
	m.cacheEvictions.Add(1)
}

// RecordReconnect counts a streaming reconnect with full re-snapshot.
func (m *Metrics) RecordReconnect() {
	m.reconnects.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	EventsProcessed   uint64
	StaleRejected     uint64
	CrossedBooks      uint64
	SubscriberPanics  uint64
	OrdersExecuted    uint64
	CacheEvictions    uint64
	Reconnects        uint64
	ErrorsTotal       uint64
	AvgLatencyNs      int64
	ActiveConnections int32
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avg int64
	if count := m.latencyCount.Load(); count > 0 {
		avg = m.latencySumNs.Load() / int64(count)
	}
	return MetricsSnapshot{
		EventsProcessed:   m.eventsProcessed.Load(),
		StaleRejected:     m.staleRejected.Load(),
		CrossedBooks:      m.crossedBooks.Load(),
		SubscriberPanics:  m.subscriberPanic.Load(),
		OrdersExecuted:    m.ordersExecuted.Load(),
		CacheEvictions:    m.cacheEvictions.Load(),
		Reconnects:        m.reconnects.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		AvgLatencyNs:      avg,
		ActiveConnections: m.activeConnections.Load(),
		Timestamp:         time.Now(),
	}
}
