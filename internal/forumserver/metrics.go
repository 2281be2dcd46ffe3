package forumserver

import "sync/atomic"

// Metrics captures lightweight in-process counters for observability.
type Metrics struct {
	Requests         atomic.Uint64
	LoginAttempts    atomic.Uint64
	RegisterAttempts atomic.Uint64
	HealthChecks     atomic.Uint64
	MessagesStored   atomic.Uint64
	PostsCreated     atomic.Uint64
	WSUpgrades       atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Requests         uint64
	LoginAttempts    uint64
	RegisterAttempts uint64
	HealthChecks     uint64
	MessagesStored   uint64
	PostsCreated     uint64
	WSUpgrades       uint64
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Requests:         m.Requests.Load(),
		LoginAttempts:    m.LoginAttempts.Load(),
		RegisterAttempts: m.RegisterAttempts.Load(),
		HealthChecks:     m.HealthChecks.Load(),
		MessagesStored:   m.MessagesStored.Load(),
		PostsCreated:     m.PostsCreated.Load(),
		WSUpgrades:       m.WSUpgrades.Load(),
	}
}
