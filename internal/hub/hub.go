package hub

import (
	"encoding/json"
	"log"
	"sort"
	"sync"

	"forum-chat/internal/envelope"
)

// Conn is the transport side of one attached session. Satisfied by a gorilla
// websocket connection through a thin wrapper.
type Conn interface {
	WriteMessage(data []byte) error
	Close() error
}

const sessionSendBuffer = 64

// Session is one attached real-time connection. A user may hold several at
// once (multiple tabs); presence tracks the user, not the session.
type Session struct {
	UserID int64

	hub  *Hub
	conn Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// writePump serializes all writes for the session. It exits when the send
// channel closes or a write fails.
func (s *Session) writePump() {
	for data := range s.send {
		if err := s.conn.WriteMessage(data); err != nil {
			log.Printf("hub write to user %d: %v", s.UserID, err)
			s.hub.Unregister(s)
			return
		}
	}
}

// enqueue hands a frame to the session's writer without blocking. A full
// buffer means the consumer is stuck; the frame is dropped. The closed check
// and the channel send share the session mutex so detach cannot close the
// channel between them.
func (s *Session) enqueue(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// detach marks the session closed, then releases the writer and the
// transport. The flag flips under the mutex before close, so a concurrent
// enqueue either completed its send already or sees closed and backs off.
// Safe to call more than once.
func (s *Session) detach() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.send)
	_ = s.conn.Close()
}

// Hub is the server-side registry of attached sessions. It fans chat and
// typing frames out to their receiver, maintains the online set, and pushes
// presence transitions to everyone.
type Hub struct {
	mu       sync.RWMutex
	sessions map[int64]map[*Session]struct{}

	metrics *Metrics
}

func New() *Hub {
	return &Hub{
		sessions: make(map[int64]map[*Session]struct{}),
		metrics:  NewMetrics(),
	}
}

// Metrics exposes the hub's counters.
func (h *Hub) Metrics() *Metrics {
	return h.metrics
}

// Register attaches a session for userID. The first session of a user
// announces them online to everyone else; the new session always receives a
// full presence snapshot so its client starts from known state.
func (h *Hub) Register(userID int64, conn Conn) *Session {
	sess := &Session{
		UserID: userID,
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sessionSendBuffer),
	}

	h.mu.Lock()
	set := h.sessions[userID]
	first := len(set) == 0
	if set == nil {
		set = make(map[*Session]struct{})
		h.sessions[userID] = set
	}
	set[sess] = struct{}{}
	h.mu.Unlock()

	go sess.writePump()
	h.metrics.IncRegistered()

	if first {
		h.broadcast(mustEncode(envelope.TypeOnlineStatus, envelope.OnlineStatus{
			UserID: userID, IsOnline: true,
		}), userID)
	}
	h.sendToSession(sess, mustEncode(envelope.TypePresenceSnapshot, envelope.PresenceSnapshot{
		UserIDs: h.OnlineUserIDs(),
	}))
	return sess
}

// Unregister detaches a session. The last session of a user announces them
// offline.
func (h *Hub) Unregister(sess *Session) {
	h.mu.Lock()
	set := h.sessions[sess.UserID]
	if _, ok := set[sess]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, sess)
	last := len(set) == 0
	if last {
		delete(h.sessions, sess.UserID)
	}
	h.mu.Unlock()

	sess.detach()

	if last {
		h.broadcast(mustEncode(envelope.TypeOnlineStatus, envelope.OnlineStatus{
			UserID: sess.UserID, IsOnline: false,
		}), sess.UserID)
	}
}

// HandleFrame routes one inbound frame from senderID. Chat and typing frames
// go to their receiver only; the sender never gets an echo. Anything else,
// including a frame claiming another sender, is discarded.
func (h *Hub) HandleFrame(senderID int64, data []byte) {
	var env envelope.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("hub: discarding malformed frame from user %d: %v", senderID, err)
		h.metrics.IncDropped()
		return
	}
	switch env.Type {
	case envelope.TypeChatMessage:
		var msg envelope.ChatMessage
		if err := envelope.Decode(env, &msg); err != nil || msg.SenderID != senderID {
			h.metrics.IncDropped()
			return
		}
		h.SendToUser(msg.ReceiverID, env)
	case envelope.TypeTyping:
		var typ envelope.Typing
		if err := envelope.Decode(env, &typ); err != nil || typ.SenderID != senderID {
			h.metrics.IncDropped()
			return
		}
		h.SendToUser(typ.ReceiverID, env)
	default:
		log.Printf("hub: discarding frame type %q from user %d", env.Type, senderID)
		h.metrics.IncDropped()
	}
}

// SendToUser delivers an envelope to every session of userID.
func (h *Hub) SendToUser(userID int64, env envelope.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("hub marshal: %v", err)
		return
	}
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions[userID]))
	for sess := range h.sessions[userID] {
		sessions = append(sessions, sess)
	}
	h.mu.RUnlock()

	for _, sess := range sessions {
		if sess.enqueue(data) {
			h.metrics.IncRouted()
		} else {
			log.Printf("hub: dropping frame for slow session of user %d", userID)
			h.metrics.IncDropped()
		}
	}
}

// Broadcast delivers an envelope to every online user except exceptUserID;
// pass 0 to reach everyone. Used for new_post and new_comment announcements.
func (h *Hub) Broadcast(env envelope.Envelope, exceptUserID int64) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("hub marshal: %v", err)
		return
	}
	h.broadcast(data, exceptUserID)
}

func (h *Hub) broadcast(data []byte, exceptUserID int64) {
	h.mu.RLock()
	var sessions []*Session
	for userID, set := range h.sessions {
		if userID == exceptUserID {
			continue
		}
		for sess := range set {
			sessions = append(sessions, sess)
		}
	}
	h.mu.RUnlock()

	for _, sess := range sessions {
		if sess.enqueue(data) {
			h.metrics.IncRouted()
		} else {
			log.Printf("hub: dropping broadcast for slow session of user %d", sess.UserID)
			h.metrics.IncDropped()
		}
	}
}

func (h *Hub) sendToSession(sess *Session, data []byte) {
	if sess.enqueue(data) {
		h.metrics.IncRouted()
	} else {
		h.metrics.IncDropped()
	}
}

// OnlineUserIDs returns the ids of users with at least one session,
// ascending.
func (h *Hub) OnlineUserIDs() []int64 {
	h.mu.RLock()
	out := make([]int64, 0, len(h.sessions))
	for userID := range h.sessions {
		out = append(out, userID)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsOnline reports whether userID has an attached session.
func (h *Hub) IsOnline(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID]) > 0
}

// Shutdown detaches every session without presence announcements.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	var all []*Session
	for _, set := range h.sessions {
		for sess := range set {
			all = append(all, sess)
		}
	}
	h.sessions = make(map[int64]map[*Session]struct{})
	h.mu.Unlock()

	for _, sess := range all {
		sess.detach()
	}
}

// mustEncode wraps payloads whose marshalling cannot fail at runtime.
func mustEncode(typ string, payload any) []byte {
	env, err := envelope.Encode(typ, payload)
	if err != nil {
		log.Printf("hub encode %s: %v", typ, err)
		return nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("hub marshal %s: %v", typ, err)
		return nil
	}
	return data
}
