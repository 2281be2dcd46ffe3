package delivery

import (
	"context"
	"strings"
	"sync"
	"time"

	"forum-chat/internal/chatstore"
	"forum-chat/internal/envelope"
	"forum-chat/internal/event"
	"forum-chat/internal/realtime"
	"forum-chat/internal/restapi"
)

const defaultTypingIdle = 2 * time.Second

// Sender is the outbound half of the connection manager.
type Sender interface {
	Send(typ string, payload any) bool
	State() realtime.State
}

// Persister is the REST half of a message send.
type Persister interface {
	SendMessage(ctx context.Context, req restapi.SendMessageRequest) (chatstore.Message, error)
}

// Coordinator runs the dual-path send: REST persistence is authoritative,
// the live frame is the fast path for the recipient. It also owns the typing
// indicator debounce.
type Coordinator struct {
	selfID int64
	store  *chatstore.Store
	api    Persister
	conn   Sender

	typingIdle time.Duration

	mu           sync.Mutex
	typingPeer   int64
	typingActive bool
	typingTimer  *time.Timer

	typing *event.Feed[envelope.Typing]
}

// Option tweaks coordinator behavior; used by tests to shrink timers.
type Option func(*Coordinator)

func WithTypingIdle(d time.Duration) Option {
	return func(c *Coordinator) { c.typingIdle = d }
}

func NewCoordinator(selfID int64, store *chatstore.Store, api Persister, conn Sender, opts ...Option) *Coordinator {
	c := &Coordinator{
		selfID:     selfID,
		store:      store,
		api:        api,
		conn:       conn,
		typingIdle: defaultTypingIdle,
		typing:     event.NewFeed[envelope.Typing](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendMessage runs the optimistic send for one direct message. Blank content
// with no attachment is a silent no-op. The returned correlation id
// identifies the message for retry; a non-nil error means the message is
// parked in the failed state, still visible.
func (c *Coordinator) SendMessage(ctx context.Context, peerID int64, content, imageURL string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" && imageURL == "" {
		return "", nil
	}
	corrID := envelope.NewCorrelationID()
	c.store.AppendPending(peerID, chatstore.Message{
		CorrelationID: corrID,
		SenderID:      c.selfID,
		ReceiverID:    peerID,
		Content:       content,
		ImageURL:      imageURL,
		CreatedAt:     time.Now(),
	})
	return corrID, c.persist(ctx, peerID, corrID, content, imageURL)
}

// Retry re-runs persistence for a failed message. Unknown or non-failed
// correlation ids return false without side effects.
func (c *Coordinator) Retry(ctx context.Context, peerID int64, corrID string) (bool, error) {
	msg, ok := c.store.RetryPending(peerID, corrID)
	if !ok {
		return false, nil
	}
	return true, c.persist(ctx, peerID, corrID, msg.Content, msg.ImageURL)
}

func (c *Coordinator) persist(ctx context.Context, peerID int64, corrID, content, imageURL string) error {
	confirmed, err := c.api.SendMessage(ctx, restapi.SendMessageRequest{
		ReceiverID:    peerID,
		Content:       content,
		ImageURL:      imageURL,
		CorrelationID: corrID,
	})
	if err != nil {
		c.store.FailPending(peerID, corrID)
		return err
	}
	c.store.ConfirmPending(peerID, corrID, confirmed)

	c.conn.Send(envelope.TypeChatMessage, envelope.ChatMessage{
		ID:            confirmed.ID,
		CorrelationID: confirmed.CorrelationID,
		SenderID:      confirmed.SenderID,
		ReceiverID:    confirmed.ReceiverID,
		Content:       confirmed.Content,
		ImageURL:      confirmed.ImageURL,
		CreatedAt:     confirmed.CreatedAt,
	})
	c.stopTyping(peerID)
	return nil
}

// NotifyTyping reports one keystroke in the conversation with peerID. The
// first keystroke emits typing=true; the stop frame follows after the idle
// window with no further keystrokes. Typing frames are best effort and are
// never queued for replay.
func (c *Coordinator) NotifyTyping(peerID int64) {
	c.mu.Lock()
	if c.typingActive && c.typingPeer != peerID {
		c.sendTypingLocked(c.typingPeer, false)
		c.typingActive = false
	}
	if !c.typingActive {
		c.typingPeer = peerID
		c.typingActive = true
		c.sendTypingLocked(peerID, true)
	}
	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.typingTimer = time.AfterFunc(c.typingIdle, func() { c.stopTyping(peerID) })
	c.mu.Unlock()
}

// StopTyping ends the indicator immediately, as when the input is cleared or
// the conversation is switched away.
func (c *Coordinator) StopTyping(peerID int64) {
	c.stopTyping(peerID)
}

func (c *Coordinator) stopTyping(peerID int64) {
	c.mu.Lock()
	if !c.typingActive || c.typingPeer != peerID {
		c.mu.Unlock()
		return
	}
	c.typingActive = false
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	c.sendTypingLocked(peerID, false)
	c.mu.Unlock()
}

// sendTypingLocked emits a typing frame only on an open connection; a stale
// indicator replayed after a reconnect is worse than a missing one.
func (c *Coordinator) sendTypingLocked(peerID int64, isTyping bool) {
	if c.conn.State() != realtime.StateOpen {
		return
	}
	c.conn.Send(envelope.TypeTyping, envelope.Typing{
		SenderID:   c.selfID,
		ReceiverID: peerID,
		IsTyping:   isTyping,
	})
}

// OnPeerTyping subscribes to inbound typing indicators.
func (c *Coordinator) OnPeerTyping(handler func(envelope.Typing)) func() {
	return c.typing.Subscribe(handler)
}

// Bind routes inbound chat and typing frames from the connection manager
// into the store and the typing feed. The returned function removes both
// registrations.
func (c *Coordinator) Bind(conn interface {
	OnEvent(string, func(envelope.Envelope)) func()
}) func() {
	offChat := conn.OnEvent(envelope.TypeChatMessage, func(env envelope.Envelope) {
		var msg envelope.ChatMessage
		if err := envelope.Decode(env, &msg); err != nil {
			return
		}
		c.store.AppendLive(chatstore.Message{
			ID:            msg.ID,
			CorrelationID: msg.CorrelationID,
			SenderID:      msg.SenderID,
			ReceiverID:    msg.ReceiverID,
			Content:       msg.Content,
			ImageURL:      msg.ImageURL,
			CreatedAt:     msg.CreatedAt,
		})
	})
	offTyping := conn.OnEvent(envelope.TypeTyping, func(env envelope.Envelope) {
		var typ envelope.Typing
		if err := envelope.Decode(env, &typ); err != nil {
			return
		}
		c.typing.Publish(typ)
	})
	return func() {
		offChat()
		offTyping()
	}
}
