package realtime

import (
	"fmt"
	"sync"
)

// Metrics counts connection activity for diagnostics.
type Metrics struct {
	mu        sync.Mutex
	sent      int
	queued    int
	replayed  int
	discarded int
	connects  int
}

func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) IncSent()      { m.mu.Lock(); m.sent++; m.mu.Unlock() }
func (m *Metrics) IncQueued()    { m.mu.Lock(); m.queued++; m.mu.Unlock() }
func (m *Metrics) IncReplayed()  { m.mu.Lock(); m.replayed++; m.mu.Unlock() }
func (m *Metrics) IncDiscarded() { m.mu.Lock(); m.discarded++; m.mu.Unlock() }
func (m *Metrics) IncConnects()  { m.mu.Lock(); m.connects++; m.mu.Unlock() }

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Sent:      m.sent,
		Queued:    m.queued,
		Replayed:  m.replayed,
		Discarded: m.discarded,
		Connects:  m.connects,
	}
}

// MetricsSnapshot is printed in the /stats command output.
type MetricsSnapshot struct {
	Sent      int
	Queued    int
	Replayed  int
	Discarded int
	Connects  int
}

func (s MetricsSnapshot) String() string {
	return fmt.Sprintf("sent=%d queued=%d replayed=%d discarded=%d connects=%d",
		s.Sent, s.Queued, s.Replayed, s.Discarded, s.Connects)
}
