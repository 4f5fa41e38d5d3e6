package infra

import (
	"sync"
	"testing"
)

func TestMetricsSnapshot(t *testing.T) {
	m := &Metrics{}

	m.RecordEvent(100)
	m.RecordEvent(300)
	m.RecordStaleRejected()
	m.RecordCrossedBook()
	m.RecordOrderExecuted()
	m.RecordCacheEviction()
	m.RecordReconnect()
	m.IncrementConnections()
	m.IncrementConnections()
	m.DecrementConnections()

	s := m.Snapshot()
	if s.EventsProcessed != 2 {
		t.Errorf("expected 2 events, got %d", s.EventsProcessed)
	}
	if s.AvgLatencyNs != 200 {
		t.Errorf("expected avg latency 200ns, got %d", s.AvgLatencyNs)
	}
	if s.StaleRejected != 1 || s.CrossedBooks != 1 || s.OrdersExecuted != 1 {
		t.Errorf("counter mismatch: %+v", s)
	}
	if s.ActiveConnections != 1 {
		t.Errorf("expected 1 active connection, got %d", s.ActiveConnections)
	}
}

func TestMetricsConcurrent(t *testing.T) {
	m := &Metrics{}
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordEvent(1)
				m.RecordError()
			}
		}()
	}
	wg.Wait()

	s := m.Snapshot()
	if s.EventsProcessed != 1000 || s.ErrorsTotal != 1000 {
		t.Errorf("lost updates under concurrency: %+v", s)
	}
}
