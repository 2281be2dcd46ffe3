package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"forum-chat/internal/chatstore"
	"forum-chat/internal/envelope"
	"forum-chat/internal/realtime"
	"forum-chat/internal/restapi"
)

type fakePersister struct {
	mu     sync.Mutex
	reqs   []restapi.SendMessageRequest
	err    error
	nextID int64
}

func (p *fakePersister) SendMessage(ctx context.Context, req restapi.SendMessageRequest) (chatstore.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if p.err != nil {
		return chatstore.Message{}, p.err
	}
	p.nextID++
	return chatstore.Message{
		ID:            p.nextID,
		CorrelationID: req.CorrelationID,
		SenderID:      1,
		ReceiverID:    req.ReceiverID,
		Content:       req.Content,
		ImageURL:      req.ImageURL,
		CreatedAt:     time.Now(),
	}, nil
}

type sentFrame struct {
	typ     string
	payload []byte
}

type fakeSender struct {
	mu     sync.Mutex
	state  realtime.State
	frames []sentFrame
}

func (s *fakeSender) Send(typ string, payload any) bool {
	data, _ := json.Marshal(payload)
	s.mu.Lock()
	s.frames = append(s.frames, sentFrame{typ: typ, payload: data})
	s.mu.Unlock()
	return true
}

func (s *fakeSender) State() realtime.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSender) typingFrames() []envelope.Typing {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []envelope.Typing
	for _, f := range s.frames {
		if f.typ == envelope.TypeTyping {
			var t envelope.Typing
			json.Unmarshal(f.payload, &t)
			out = append(out, t)
		}
	}
	return out
}

func (s *fakeSender) countType(typ string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.frames {
		if f.typ == typ {
			n++
		}
	}
	return n
}

func newTestCoordinator(persister *fakePersister, sender *fakeSender) (*Coordinator, *chatstore.Store) {
	store := chatstore.NewStore(1, nil, nil)
	c := NewCoordinator(1, store, persister, sender, WithTypingIdle(30*time.Millisecond))
	return c, store
}

func TestSendMessageConfirmsAndEmitsLiveFrame(t *testing.T) {
	persister := &fakePersister{}
	sender := &fakeSender{state: realtime.StateOpen}
	c, store := newTestCoordinator(persister, sender)

	corrID, err := c.SendMessage(context.Background(), 2, "  hello  ", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if corrID == "" {
		t.Fatalf("expected a correlation id")
	}
	if persister.reqs[0].Content != "hello" {
		t.Fatalf("content not trimmed: %q", persister.reqs[0].Content)
	}

	conv := store.Conversation(2)
	if len(conv.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(conv.Messages))
	}
	if m := conv.Messages[0]; m.Delivery != chatstore.DeliveryConfirmed || m.ID != 1 {
		t.Fatalf("message not confirmed: %+v", m)
	}
	if got := sender.countType(envelope.TypeChatMessage); got != 1 {
		t.Fatalf("expected 1 live chat frame, got %d", got)
	}
}

func TestSendMessageBlankContentIsNoOp(t *testing.T) {
	persister := &fakePersister{}
	sender := &fakeSender{state: realtime.StateOpen}
	c, store := newTestCoordinator(persister, sender)

	corrID, err := c.SendMessage(context.Background(), 2, "   ", "")
	if err != nil || corrID != "" {
		t.Fatalf("blank send should be silent, got corr=%q err=%v", corrID, err)
	}
	if len(persister.reqs) != 0 {
		t.Fatalf("blank send must not reach the API")
	}
	if len(store.Conversation(2).Messages) != 0 {
		t.Fatalf("blank send must not append")
	}
}

func TestSendMessageFailureKeepsMessageVisibleAsFailed(t *testing.T) {
	persister := &fakePersister{err: errors.New("500")}
	sender := &fakeSender{state: realtime.StateOpen}
	c, store := newTestCoordinator(persister, sender)

	corrID, err := c.SendMessage(context.Background(), 2, "doomed", "")
	if err == nil {
		t.Fatalf("expected persistence error")
	}
	conv := store.Conversation(2)
	if len(conv.Messages) != 1 || conv.Messages[0].Delivery != chatstore.DeliveryFailed {
		t.Fatalf("failed message must stay visible: %+v", conv.Messages)
	}
	if got := sender.countType(envelope.TypeChatMessage); got != 0 {
		t.Fatalf("failed send must not emit a live frame")
	}

	// Retry succeeds once the server recovers.
	persister.err = nil
	ok, err := c.Retry(context.Background(), 2, corrID)
	if !ok || err != nil {
		t.Fatalf("retry: ok=%v err=%v", ok, err)
	}
	conv = store.Conversation(2)
	if conv.Messages[0].Delivery != chatstore.DeliveryConfirmed {
		t.Fatalf("retried message should confirm: %+v", conv.Messages[0])
	}
}

func TestRetryUnknownCorrelationIsNoOp(t *testing.T) {
	persister := &fakePersister{}
	sender := &fakeSender{state: realtime.StateOpen}
	c, _ := newTestCoordinator(persister, sender)

	ok, err := c.Retry(context.Background(), 2, "missing")
	if ok || err != nil {
		t.Fatalf("unknown retry: ok=%v err=%v", ok, err)
	}
	if len(persister.reqs) != 0 {
		t.Fatalf("unknown retry must not hit the API")
	}
}

func TestTypingDebounceEmitsOneStartAndOneStop(t *testing.T) {
	sender := &fakeSender{state: realtime.StateOpen}
	c, _ := newTestCoordinator(&fakePersister{}, sender)

	c.NotifyTyping(2)
	c.NotifyTyping(2)
	c.NotifyTyping(2)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if frames := sender.typingFrames(); len(frames) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	frames := sender.typingFrames()
	if len(frames) != 2 {
		t.Fatalf("expected start+stop, got %+v", frames)
	}
	if !frames[0].IsTyping || frames[1].IsTyping {
		t.Fatalf("expected true then false, got %+v", frames)
	}
	if frames[0].ReceiverID != 2 {
		t.Fatalf("typing addressed to %d", frames[0].ReceiverID)
	}
}

func TestSwitchingConversationStopsOldIndicator(t *testing.T) {
	sender := &fakeSender{state: realtime.StateOpen}
	c, _ := newTestCoordinator(&fakePersister{}, sender)

	c.NotifyTyping(2)
	c.NotifyTyping(3)

	frames := sender.typingFrames()
	if len(frames) != 3 {
		t.Fatalf("expected start(2), stop(2), start(3), got %+v", frames)
	}
	if frames[1].ReceiverID != 2 || frames[1].IsTyping {
		t.Fatalf("second frame should stop peer 2: %+v", frames[1])
	}
	if frames[2].ReceiverID != 3 || !frames[2].IsTyping {
		t.Fatalf("third frame should start peer 3: %+v", frames[2])
	}
	c.StopTyping(3)
}

func TestTypingIsSuppressedWhileDisconnected(t *testing.T) {
	sender := &fakeSender{state: realtime.StateReconnecting}
	c, _ := newTestCoordinator(&fakePersister{}, sender)

	c.NotifyTyping(2)
	c.StopTyping(2)

	if frames := sender.typingFrames(); len(frames) != 0 {
		t.Fatalf("typing frames must not queue while disconnected: %+v", frames)
	}
}

func TestSuccessfulSendStopsTypingIndicator(t *testing.T) {
	sender := &fakeSender{state: realtime.StateOpen}
	c, _ := newTestCoordinator(&fakePersister{}, sender)

	c.NotifyTyping(2)
	if _, err := c.SendMessage(context.Background(), 2, "done typing", ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	frames := sender.typingFrames()
	if len(frames) != 2 || frames[1].IsTyping {
		t.Fatalf("send should emit typing stop, got %+v", frames)
	}
}

type fakeEvents struct {
	handlers map[string]func(envelope.Envelope)
}

func (f *fakeEvents) OnEvent(typ string, h func(envelope.Envelope)) func() {
	if f.handlers == nil {
		f.handlers = make(map[string]func(envelope.Envelope))
	}
	f.handlers[typ] = h
	return func() { delete(f.handlers, typ) }
}

func (f *fakeEvents) push(t *testing.T, typ string, payload any) {
	t.Helper()
	env, err := envelope.Encode(typ, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if h := f.handlers[typ]; h != nil {
		h(env)
	}
}

func TestBindRoutesInboundChatAndTyping(t *testing.T) {
	sender := &fakeSender{state: realtime.StateOpen}
	c, store := newTestCoordinator(&fakePersister{}, sender)

	var typed []envelope.Typing
	c.OnPeerTyping(func(typ envelope.Typing) { typed = append(typed, typ) })

	events := &fakeEvents{}
	off := c.Bind(events)

	events.push(t, envelope.TypeChatMessage, envelope.ChatMessage{
		ID: 12, SenderID: 2, ReceiverID: 1, Content: "hi there", CreatedAt: time.Now(),
	})
	events.push(t, envelope.TypeTyping, envelope.Typing{SenderID: 2, ReceiverID: 1, IsTyping: true})

	conv := store.Conversation(2)
	if len(conv.Messages) != 1 || conv.Messages[0].ID != 12 {
		t.Fatalf("inbound chat frame not stored: %+v", conv.Messages)
	}
	if conv.UnreadCount != 1 {
		t.Fatalf("inbound message should be unread")
	}
	if len(typed) != 1 || !typed[0].IsTyping {
		t.Fatalf("typing feed: %+v", typed)
	}

	off()
	events.push(t, envelope.TypeTyping, envelope.Typing{SenderID: 2, ReceiverID: 1, IsTyping: false})
	if len(typed) != 1 {
		t.Fatalf("unbind should stop delivery")
	}
}

func TestEchoOfOwnFrameDoesNotDuplicate(t *testing.T) {
	persister := &fakePersister{}
	sender := &fakeSender{state: realtime.StateOpen}
	c, store := newTestCoordinator(persister, sender)
	events := &fakeEvents{}
	c.Bind(events)

	corrID, err := c.SendMessage(context.Background(), 2, "once", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	// A server that echoes the sender's frame back must not create a twin.
	events.push(t, envelope.TypeChatMessage, envelope.ChatMessage{
		ID: 1, CorrelationID: corrID, SenderID: 1, ReceiverID: 2, Content: "once", CreatedAt: time.Now(),
	})

	conv := store.Conversation(2)
	if len(conv.Messages) != 1 {
		t.Fatalf("echo duplicated the message: %+v", conv.Messages)
	}
	if conv.UnreadCount != 0 {
		t.Fatalf("own echo must not count unread")
	}
}
