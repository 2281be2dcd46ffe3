package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"forum-chat/internal/envelope"
	"forum-chat/internal/event"
)

const (
	defaultBackoffBase = time.Second
	defaultBackoffCap  = 30 * time.Second
	defaultMaxAttempts = 10
	defaultSendGap     = 10 * time.Millisecond
	dialTimeout        = 10 * time.Second
)

// Session identifies the authenticated user that owns the connection.
type Session struct {
	UserID      int64
	DisplayName string
	Token       string
}

// Options configure a Manager. Zero values fall back to the defaults of the
// browser client this replaces (1s base, 30s cap, 10 attempts).
type Options struct {
	URL         string
	Dial        Dialer
	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxAttempts int
	SendGap     time.Duration

	// Online reports a definite network-availability signal. nil means no
	// signal exists; retries are only held back by an explicit false.
	Online  func() bool
	Metrics *Metrics
}

type queuedFrame struct {
	data       []byte
	enqueuedAt time.Time
}

// Manager owns the single real-time connection of a session: connect,
// heartbeat-free backoff reconnection, outbound queueing while disconnected,
// and inbound dispatch. All other components reach the wire only through
// Send and OnEvent.
type Manager struct {
	opts Options

	mu        sync.Mutex
	state     State
	session   Session
	url       string
	transport Transport
	queue     []queuedFrame
	nextDelay time.Duration
	lastDelay time.Duration
	attempts  int
	retry     *time.Timer
	gen       int
	draining  bool

	writeMu sync.Mutex

	handlersMu sync.Mutex
	handlers   map[string]*event.Feed[envelope.Envelope]

	states *event.Feed[State]
}

// NewManager returns a stopped Manager; call Start to connect.
func NewManager(opts Options) *Manager {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = defaultBackoffCap
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.SendGap < 0 {
		opts.SendGap = defaultSendGap
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	return &Manager{
		opts:     opts,
		handlers: make(map[string]*event.Feed[envelope.Envelope]),
		states:   event.NewFeed[State](),
	}
}

// Start opens the transport for session. Failures never surface as errors;
// they feed the retry loop and, ultimately, a terminal CLOSED state event.
func (m *Manager) Start(session Session) {
	m.mu.Lock()
	if m.state != StateClosed {
		m.mu.Unlock()
		return
	}
	m.session = session
	m.url = endpointURL(m.opts.URL, session.UserID)
	m.gen++
	gen := m.gen
	m.attempts = 0
	m.nextDelay = m.opts.BackoffBase
	m.state = StateConnecting
	m.mu.Unlock()

	m.states.Publish(StateConnecting)
	go m.connect(gen)
}

// Stop closes the transport, cancels any pending reconnect timer, and drops
// the outbound queue: the next Start begins a new logical session.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.gen++
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	t := m.transport
	m.transport = nil
	m.queue = nil
	changed := m.state != StateClosed
	m.state = StateClosed
	m.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	if changed {
		m.states.Publish(StateClosed)
	}
}

// Metrics exposes the manager's counters.
func (m *Manager) Metrics() *Metrics {
	return m.opts.Metrics
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the session passed to the last Start.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// QueueLen reports how many frames are waiting for the next OPEN.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// OnEvent registers handler for one inbound envelope type. Handlers fire in
// registration order; the returned function removes the registration.
func (m *Manager) OnEvent(typ string, handler func(envelope.Envelope)) func() {
	m.handlersMu.Lock()
	feed := m.handlers[typ]
	if feed == nil {
		feed = event.NewFeed[envelope.Envelope]()
		m.handlers[typ] = feed
	}
	m.handlersMu.Unlock()
	return feed.Subscribe(handler)
}

// OnStateChange subscribes to connection state transitions.
func (m *Manager) OnStateChange(handler func(State)) func() {
	return m.states.Subscribe(handler)
}

// Send serializes an envelope and transmits it immediately when the
// connection is open and the queue is empty; otherwise it appends to the
// FIFO outbound queue. Returns true when the frame went out on the wire,
// false when it was queued.
func (m *Manager) Send(typ string, payload any) bool {
	env, err := envelope.Encode(typ, payload)
	if err != nil {
		log.Printf("realtime send %s: %v", typ, err)
		return false
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("realtime send %s: %v", typ, err)
		return false
	}

	m.mu.Lock()
	if m.state != StateOpen || m.draining || len(m.queue) > 0 {
		m.queue = append(m.queue, queuedFrame{data: data, enqueuedAt: time.Now()})
		m.mu.Unlock()
		m.opts.Metrics.IncQueued()
		return false
	}
	t := m.transport
	gen := m.gen
	m.mu.Unlock()

	m.writeMu.Lock()
	err = t.WriteMessage(data)
	m.writeMu.Unlock()
	if err != nil {
		m.mu.Lock()
		m.queue = append([]queuedFrame{{data: data, enqueuedAt: time.Now()}}, m.queue...)
		m.mu.Unlock()
		m.opts.Metrics.IncQueued()
		m.transportLost(gen, err)
		return false
	}
	m.opts.Metrics.IncSent()
	return true
}

func (m *Manager) connect(gen int) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	t, err := m.opts.Dial(ctx, m.currentURL())
	cancel()

	m.mu.Lock()
	if gen != m.gen || m.state == StateClosed {
		m.mu.Unlock()
		if t != nil {
			_ = t.Close()
		}
		return
	}
	if err != nil {
		next := m.armRetryLocked(gen)
		m.mu.Unlock()
		log.Printf("realtime connect: %v", err)
		if next == StateClosed {
			log.Printf("realtime: giving up after %d attempts", m.opts.MaxAttempts)
		}
		m.states.Publish(next)
		return
	}
	m.transport = t
	m.state = StateOpen
	m.attempts = 0
	m.nextDelay = m.opts.BackoffBase
	m.mu.Unlock()

	m.opts.Metrics.IncConnects()
	m.states.Publish(StateOpen)
	go m.readLoop(t, gen)
	go m.drainQueue(gen)
}

func (m *Manager) currentURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

func (m *Manager) readLoop(t Transport, gen int) {
	for {
		data, err := t.ReadMessage()
		if err != nil {
			m.transportLost(gen, err)
			return
		}
		m.dispatch(data)
	}
}

// dispatch parses one inbound frame. A malformed frame is logged and
// discarded without touching the connection.
func (m *Manager) dispatch(data []byte) {
	var env envelope.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("realtime: discarding malformed frame: %v", err)
		m.opts.Metrics.IncDiscarded()
		return
	}
	if env.Type == "" {
		log.Printf("realtime: discarding frame without type")
		m.opts.Metrics.IncDiscarded()
		return
	}
	m.handlersMu.Lock()
	feed := m.handlers[env.Type]
	m.handlersMu.Unlock()
	if feed != nil {
		feed.Publish(env)
	}
}

// transportLost funnels every connection-level failure into the retry state
// machine. Stale generations (after Stop or a newer connection) and repeat
// reports for a connection already in retry are ignored.
func (m *Manager) transportLost(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen || m.state == StateClosed || m.state == StateReconnecting {
		m.mu.Unlock()
		return
	}
	if m.transport != nil {
		_ = m.transport.Close()
		m.transport = nil
	}
	next := m.armRetryLocked(gen)
	m.mu.Unlock()

	if err != nil {
		log.Printf("realtime transport: %v", err)
	}
	if next == StateClosed {
		log.Printf("realtime: giving up after %d attempts", m.opts.MaxAttempts)
	}
	m.states.Publish(next)
}

// armRetryLocked consumes one attempt and either arms the backoff timer
// (StateReconnecting) or parks the manager for good (StateClosed). The
// caller holds mu and publishes the returned state after unlocking.
func (m *Manager) armRetryLocked(gen int) State {
	m.attempts++
	if m.attempts > m.opts.MaxAttempts {
		m.state = StateClosed
		m.gen++
		return StateClosed
	}
	delay := m.nextDelay
	if delay > m.opts.BackoffCap {
		delay = m.opts.BackoffCap
	}
	m.nextDelay = delay * 2
	if m.nextDelay > m.opts.BackoffCap {
		m.nextDelay = m.opts.BackoffCap
	}
	m.lastDelay = delay
	m.state = StateReconnecting
	m.retry = time.AfterFunc(delay, func() { m.retryFired(gen) })
	return StateReconnecting
}

func (m *Manager) retryFired(gen int) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	if m.opts.Online != nil && !m.opts.Online() {
		// Definite offline signal: hold at the current delay without
		// consuming an attempt.
		delay := m.lastDelay
		m.retry = time.AfterFunc(delay, func() { m.retryFired(gen) })
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.mu.Unlock()

	m.states.Publish(StateConnecting)
	go m.connect(gen)
}

// drainQueue flushes queued frames in FIFO order with a small pacing gap.
// A failed write puts the frame back at the head and stops the drain; it
// resumes on the next OPEN transition.
func (m *Manager) drainQueue(gen int) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateOpen || m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	m.mu.Unlock()

	for {
		m.mu.Lock()
		if gen != m.gen || m.state != StateOpen || len(m.queue) == 0 {
			m.draining = false
			m.mu.Unlock()
			return
		}
		frame := m.queue[0]
		m.queue = m.queue[1:]
		t := m.transport
		m.mu.Unlock()

		m.writeMu.Lock()
		err := t.WriteMessage(frame.data)
		m.writeMu.Unlock()
		if err != nil {
			m.mu.Lock()
			m.queue = append([]queuedFrame{frame}, m.queue...)
			m.draining = false
			m.mu.Unlock()
			m.transportLost(gen, err)
			return
		}
		m.opts.Metrics.IncReplayed()
		if m.opts.SendGap > 0 {
			time.Sleep(m.opts.SendGap)
		}
	}
}

func endpointURL(base string, userID int64) string {
	if base == "" {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%suserId=%d", base, sep, userID)
}
