package hub

import (
	"fmt"
	"sync"
)

// Metrics counts hub activity for periodic logging.
type Metrics struct {
	mu         sync.Mutex
	registered uint64
	routed     uint64
	dropped    uint64
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Registered uint64
	Routed     uint64
	Dropped    uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncRegistered() {
	m.mu.Lock()
	m.registered++
	m.mu.Unlock()
}

func (m *Metrics) IncRouted() {
	m.mu.Lock()
	m.routed++
	m.mu.Unlock()
}

func (m *Metrics) IncDropped() {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Registered: m.registered,
		Routed:     m.routed,
		Dropped:    m.dropped,
	}
}

func (m *Metrics) String() string {
	s := m.Snapshot()
	return fmt.Sprintf("sessions=%d routed=%d dropped=%d", s.Registered, s.Routed, s.Dropped)
}
