package chatstore

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"forum-chat/internal/event"
)

// reconcileWindow bounds the content/time fallback used to match a server
// echo against an optimistic local message when no correlation id is
// available.
const reconcileWindow = 5 * time.Second

// DeliveryState tracks the lifecycle of a message as seen by this client.
type DeliveryState int

const (
	DeliveryPending DeliveryState = iota
	DeliveryConfirmed
	DeliveryFailed
)

func (s DeliveryState) String() string {
	switch s {
	case DeliveryPending:
		return "pending"
	case DeliveryConfirmed:
		return "confirmed"
	case DeliveryFailed:
		return "failed"
	}
	return "unknown"
}

// Message is one direct message. A pending message is a client-only
// optimistic placeholder; once confirmed it is immutable.
type Message struct {
	ID            int64         `json:"id"`
	CorrelationID string        `json:"correlationId,omitempty"`
	SenderID      int64         `json:"senderId"`
	ReceiverID    int64         `json:"receiverId"`
	Content       string        `json:"content"`
	ImageURL      string        `json:"imageUrl,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	Delivery      DeliveryState `json:"-"`
}

// Conversation is the per-peer ordered history, ascending by
// (createdAt, id).
type Conversation struct {
	PeerID       int64
	Messages     []Message
	HasMoreOlder bool
	OldestOffset int
	UnreadCount  int
}

// HistoryFetcher is the REST collaborator boundary for paged history.
type HistoryFetcher interface {
	Messages(ctx context.Context, peerID int64, limit, offset int) ([]Message, error)
}

// Cache optionally persists confirmed messages so a backlog survives
// restarts. Append must be idempotent per (peer, message id).
type Cache interface {
	Append(peerID int64, msg Message) error
	Recent(peerID int64, limit int) ([]Message, error)
}

const cacheSeedLimit = 50

// Store holds every PeerConversation of the session and merges the two
// message sources: REST-paged history and live-pushed frames.
type Store struct {
	selfID  int64
	fetcher HistoryFetcher
	cache   Cache

	mu    sync.Mutex
	convs map[int64]*Conversation

	changes *event.Feed[int64]
}

func NewStore(selfID int64, fetcher HistoryFetcher, cache Cache) *Store {
	return &Store{
		selfID:  selfID,
		fetcher: fetcher,
		cache:   cache,
		convs:   make(map[int64]*Conversation),
		changes: event.NewFeed[int64](),
	}
}

// OnChange subscribes to conversation updates; handlers receive the peer id
// whose conversation changed. Returns an unsubscribe handle.
func (s *Store) OnChange(handler func(peerID int64)) func() {
	return s.changes.Subscribe(handler)
}

// Conversation returns a snapshot of the peer's conversation. It never
// fetches implicitly; an unopened conversation comes back empty.
func (s *Store) Conversation(peerID int64) Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[peerID]
	if !ok {
		return Conversation{PeerID: peerID}
	}
	out := *conv
	out.Messages = make([]Message, len(conv.Messages))
	copy(out.Messages, conv.Messages)
	return out
}

// Peers lists every peer with a conversation, ascending.
func (s *Store) Peers() []int64 {
	s.mu.Lock()
	out := make([]int64, 0, len(s.convs))
	for id := range s.convs {
		out = append(out, id)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LoadHistory fetches one page of older messages and merges it in. A failed
// fetch leaves existing state untouched; retry is the caller's call.
func (s *Store) LoadHistory(ctx context.Context, peerID int64, limit, offset int) error {
	page, err := s.fetcher.Messages(ctx, peerID, limit, offset)
	if err != nil {
		return fmt.Errorf("load history for peer %d: %w", peerID, err)
	}
	sortAscending(page)

	s.mu.Lock()
	conv := s.conversationLocked(peerID)
	for _, msg := range page {
		msg.Delivery = DeliveryConfirmed
		if s.containsLocked(conv, msg) {
			continue
		}
		insertOrdered(conv, msg)
		s.writeThrough(peerID, msg)
	}
	conv.HasMoreOlder = len(page) == limit
	if end := offset + len(page); end > conv.OldestOffset {
		conv.OldestOffset = end
	}
	s.mu.Unlock()

	s.changes.Publish(peerID)
	return nil
}

// AppendLive inserts a server-pushed message into the conversation keyed by
// the non-session participant. A matching optimistic pending message is
// reconciled in place rather than duplicated.
func (s *Store) AppendLive(msg Message) {
	peerID := msg.SenderID
	if peerID == s.selfID {
		peerID = msg.ReceiverID
	}
	msg.Delivery = DeliveryConfirmed

	s.mu.Lock()
	conv := s.conversationLocked(peerID)
	switch {
	case s.reconcileLocked(conv, msg):
		// replaced the pending placeholder
	case s.containsLocked(conv, msg):
		s.mu.Unlock()
		return
	default:
		insertOrdered(conv, msg)
		if msg.SenderID == peerID {
			conv.UnreadCount++
		}
	}
	s.writeThrough(peerID, msg)
	s.mu.Unlock()

	s.changes.Publish(peerID)
}

// AppendPending adds an optimistic local message before persistence
// completes.
func (s *Store) AppendPending(peerID int64, msg Message) {
	msg.Delivery = DeliveryPending
	s.mu.Lock()
	conv := s.conversationLocked(peerID)
	insertOrdered(conv, msg)
	s.mu.Unlock()
	s.changes.Publish(peerID)
}

// ConfirmPending swaps the pending message identified by correlationID for
// its server-confirmed form (authoritative id and timestamp).
func (s *Store) ConfirmPending(peerID int64, correlationID string, confirmed Message) bool {
	confirmed.Delivery = DeliveryConfirmed
	if confirmed.CorrelationID == "" {
		confirmed.CorrelationID = correlationID
	}
	s.mu.Lock()
	conv := s.conversationLocked(peerID)
	idx := indexByCorrelation(conv, correlationID)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	conv.Messages = append(conv.Messages[:idx], conv.Messages[idx+1:]...)
	if !s.containsLocked(conv, confirmed) {
		insertOrdered(conv, confirmed)
	}
	s.writeThrough(peerID, confirmed)
	s.mu.Unlock()

	s.changes.Publish(peerID)
	return true
}

// FailPending marks the pending message as failed. It stays visible so the
// user can retry; it is never silently dropped.
func (s *Store) FailPending(peerID int64, correlationID string) bool {
	s.mu.Lock()
	conv := s.conversationLocked(peerID)
	idx := indexByCorrelation(conv, correlationID)
	if idx < 0 || conv.Messages[idx].Delivery == DeliveryConfirmed {
		s.mu.Unlock()
		return false
	}
	conv.Messages[idx].Delivery = DeliveryFailed
	s.mu.Unlock()

	s.changes.Publish(peerID)
	return true
}

// RetryPending flips a failed message back to pending and returns a copy
// for the new persistence attempt.
func (s *Store) RetryPending(peerID int64, correlationID string) (Message, bool) {
	s.mu.Lock()
	conv := s.conversationLocked(peerID)
	idx := indexByCorrelation(conv, correlationID)
	if idx < 0 || conv.Messages[idx].Delivery != DeliveryFailed {
		s.mu.Unlock()
		return Message{}, false
	}
	conv.Messages[idx].Delivery = DeliveryPending
	msg := conv.Messages[idx]
	s.mu.Unlock()

	s.changes.Publish(peerID)
	return msg, true
}

// MarkRead clears the unread counter when the conversation is opened.
func (s *Store) MarkRead(peerID int64) {
	s.mu.Lock()
	conv, ok := s.convs[peerID]
	if !ok || conv.UnreadCount == 0 {
		s.mu.Unlock()
		return
	}
	conv.UnreadCount = 0
	s.mu.Unlock()
	s.changes.Publish(peerID)
}

// Open primes the conversation, seeding from the local cache when the
// in-memory history is still empty.
func (s *Store) Open(peerID int64) Conversation {
	s.mu.Lock()
	conv := s.conversationLocked(peerID)
	if len(conv.Messages) == 0 && s.cache != nil {
		if cached, err := s.cache.Recent(peerID, cacheSeedLimit); err == nil {
			for _, msg := range cached {
				msg.Delivery = DeliveryConfirmed
				if !s.containsLocked(conv, msg) {
					insertOrdered(conv, msg)
				}
			}
		} else {
			log.Printf("conversation cache read for peer %d: %v", peerID, err)
		}
	}
	out := *conv
	out.Messages = make([]Message, len(conv.Messages))
	copy(out.Messages, conv.Messages)
	s.mu.Unlock()
	return out
}

// Evict drops all conversations; used at logout.
func (s *Store) Evict() {
	s.mu.Lock()
	s.convs = make(map[int64]*Conversation)
	s.mu.Unlock()
}

func (s *Store) conversationLocked(peerID int64) *Conversation {
	conv, ok := s.convs[peerID]
	if !ok {
		conv = &Conversation{PeerID: peerID}
		s.convs[peerID] = conv
	}
	return conv
}

func (s *Store) containsLocked(conv *Conversation, msg Message) bool {
	for i := range conv.Messages {
		m := &conv.Messages[i]
		if msg.ID != 0 && m.ID == msg.ID {
			return true
		}
		if msg.CorrelationID != "" && m.CorrelationID == msg.CorrelationID && m.Delivery == DeliveryConfirmed {
			return true
		}
	}
	return false
}

// reconcileLocked matches a pushed message to an optimistic pending one,
// first by correlation id, then by the (sender, receiver, content) heuristic
// inside the reconcile window.
func (s *Store) reconcileLocked(conv *Conversation, msg Message) bool {
	idx := -1
	if msg.CorrelationID != "" {
		for i := range conv.Messages {
			m := &conv.Messages[i]
			if m.Delivery != DeliveryConfirmed && m.CorrelationID == msg.CorrelationID {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		for i := range conv.Messages {
			m := &conv.Messages[i]
			if m.Delivery != DeliveryPending {
				continue
			}
			if m.SenderID != msg.SenderID || m.ReceiverID != msg.ReceiverID || m.Content != msg.Content {
				continue
			}
			delta := msg.CreatedAt.Sub(m.CreatedAt)
			if delta < 0 {
				delta = -delta
			}
			if delta <= reconcileWindow {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return false
	}
	conv.Messages = append(conv.Messages[:idx], conv.Messages[idx+1:]...)
	if !s.containsLocked(conv, msg) {
		insertOrdered(conv, msg)
	}
	return true
}

func (s *Store) writeThrough(peerID int64, msg Message) {
	if s.cache == nil || msg.ID == 0 {
		return
	}
	if err := s.cache.Append(peerID, msg); err != nil {
		log.Printf("conversation cache append for peer %d: %v", peerID, err)
	}
}

func indexByCorrelation(conv *Conversation, correlationID string) int {
	if correlationID == "" {
		return -1
	}
	for i := range conv.Messages {
		if conv.Messages[i].CorrelationID == correlationID {
			return i
		}
	}
	return -1
}

func insertOrdered(conv *Conversation, msg Message) {
	i := len(conv.Messages)
	for i > 0 && less(msg, conv.Messages[i-1]) {
		i--
	}
	conv.Messages = append(conv.Messages, Message{})
	copy(conv.Messages[i+1:], conv.Messages[i:])
	conv.Messages[i] = msg
}

func less(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func sortAscending(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return less(msgs[i], msgs[j]) })
}
