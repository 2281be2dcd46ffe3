package hub

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"forum-chat/internal/envelope"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	c.frames = append(c.frames, append([]byte(nil), data...))
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) envelopes(t *testing.T) []envelope.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]envelope.Envelope, 0, len(c.frames))
	for _, data := range c.frames {
		var env envelope.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("bad frame %q: %v", data, err)
		}
		out = append(out, env)
	}
	return out
}

func waitForFrames(t *testing.T, conn *fakeConn, n int) []envelope.Envelope {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if envs := conn.envelopes(t); len(envs) >= n {
			return envs
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames, have %d", n, len(conn.envelopes(t)))
	return nil
}

func countType(envs []envelope.Envelope, typ string) int {
	n := 0
	for _, env := range envs {
		if env.Type == typ {
			n++
		}
	}
	return n
}

func mustFrame(t *testing.T, typ string, payload any) []byte {
	t.Helper()
	env, err := envelope.Encode(typ, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestRegisterSendsSnapshotAndAnnouncesOnline(t *testing.T) {
	h := New()
	aliceConn := &fakeConn{}
	h.Register(1, aliceConn)

	envs := waitForFrames(t, aliceConn, 1)
	if envs[0].Type != envelope.TypePresenceSnapshot {
		t.Fatalf("first frame should be the snapshot, got %s", envs[0].Type)
	}

	bobConn := &fakeConn{}
	h.Register(2, bobConn)

	// Alice learns bob is online; bob gets a snapshot containing both.
	envs = waitForFrames(t, aliceConn, 2)
	var status envelope.OnlineStatus
	if err := envelope.Decode(envs[1], &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.UserID != 2 || !status.IsOnline {
		t.Fatalf("status = %+v", status)
	}

	bobEnvs := waitForFrames(t, bobConn, 1)
	var snap envelope.PresenceSnapshot
	if err := envelope.Decode(bobEnvs[0], &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.UserIDs) != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestSecondSessionDoesNotReannounce(t *testing.T) {
	h := New()
	watcher := &fakeConn{}
	h.Register(1, watcher)

	tab1 := &fakeConn{}
	tab2 := &fakeConn{}
	sess1 := h.Register(2, tab1)
	h.Register(2, tab2)

	envs := waitForFrames(t, watcher, 2)
	if got := countType(envs, envelope.TypeOnlineStatus); got != 1 {
		t.Fatalf("expected a single online announcement, got %d", got)
	}

	// Closing one of two sessions must not announce offline.
	h.Unregister(sess1)
	time.Sleep(20 * time.Millisecond)
	envs = watcher.envelopes(t)
	if got := countType(envs, envelope.TypeOnlineStatus); got != 1 {
		t.Fatalf("partial disconnect must stay silent, got %d announcements", got)
	}
	if !h.IsOnline(2) {
		t.Fatalf("user 2 still has a session")
	}
}

func TestLastUnregisterAnnouncesOffline(t *testing.T) {
	h := New()
	watcher := &fakeConn{}
	h.Register(1, watcher)

	conn := &fakeConn{}
	sess := h.Register(2, conn)
	waitForFrames(t, watcher, 2)

	h.Unregister(sess)
	envs := waitForFrames(t, watcher, 3)
	var status envelope.OnlineStatus
	if err := envelope.Decode(envs[2], &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.UserID != 2 || status.IsOnline {
		t.Fatalf("expected offline announcement, got %+v", status)
	}
	if h.IsOnline(2) {
		t.Fatalf("user 2 should be offline")
	}
}

func TestChatFrameGoesToReceiverOnly(t *testing.T) {
	h := New()
	aliceConn := &fakeConn{}
	bobConn := &fakeConn{}
	carolConn := &fakeConn{}
	h.Register(1, aliceConn)
	h.Register(2, bobConn)
	h.Register(3, carolConn)
	waitForFrames(t, aliceConn, 3)
	waitForFrames(t, bobConn, 2)
	waitForFrames(t, carolConn, 1)

	h.HandleFrame(1, mustFrame(t, envelope.TypeChatMessage, envelope.ChatMessage{
		ID: 10, SenderID: 1, ReceiverID: 2, Content: "hi bob", CreatedAt: time.Now(),
	}))

	bobEnvs := waitForFrames(t, bobConn, 3)
	if countType(bobEnvs, envelope.TypeChatMessage) != 1 {
		t.Fatalf("bob should receive the chat frame")
	}
	time.Sleep(20 * time.Millisecond)
	if countType(aliceConn.envelopes(t), envelope.TypeChatMessage) != 0 {
		t.Fatalf("sender must not get an echo")
	}
	if countType(carolConn.envelopes(t), envelope.TypeChatMessage) != 0 {
		t.Fatalf("third parties must not see direct messages")
	}
}

func TestSpoofedSenderIsDropped(t *testing.T) {
	h := New()
	bobConn := &fakeConn{}
	h.Register(2, bobConn)
	waitForFrames(t, bobConn, 1)

	// User 3 claims to be user 1.
	h.HandleFrame(3, mustFrame(t, envelope.TypeChatMessage, envelope.ChatMessage{
		SenderID: 1, ReceiverID: 2, Content: "forged",
	}))

	time.Sleep(20 * time.Millisecond)
	if countType(bobConn.envelopes(t), envelope.TypeChatMessage) != 0 {
		t.Fatalf("spoofed frame must be dropped")
	}
	if h.Metrics().Snapshot().Dropped == 0 {
		t.Fatalf("drop should be counted")
	}
}

func TestMalformedFrameIsCounted(t *testing.T) {
	h := New()
	h.HandleFrame(1, []byte("{nope"))
	if h.Metrics().Snapshot().Dropped != 1 {
		t.Fatalf("malformed frame should be counted as dropped")
	}
}

func TestBroadcastSkipsAuthor(t *testing.T) {
	h := New()
	authorConn := &fakeConn{}
	readerConn := &fakeConn{}
	h.Register(1, authorConn)
	h.Register(2, readerConn)
	waitForFrames(t, authorConn, 2)
	waitForFrames(t, readerConn, 1)

	env, err := envelope.Encode(envelope.TypeNewPost, envelope.NewPost{PostID: 5, AuthorID: 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	h.Broadcast(env, 1)

	readerEnvs := waitForFrames(t, readerConn, 2)
	if countType(readerEnvs, envelope.TypeNewPost) != 1 {
		t.Fatalf("reader should get the announcement")
	}
	time.Sleep(20 * time.Millisecond)
	if countType(authorConn.envelopes(t), envelope.TypeNewPost) != 0 {
		t.Fatalf("author should not be notified of their own post")
	}
}

func TestTypingFrameRoutedToReceiver(t *testing.T) {
	h := New()
	bobConn := &fakeConn{}
	h.Register(2, bobConn)
	waitForFrames(t, bobConn, 1)

	h.HandleFrame(1, mustFrame(t, envelope.TypeTyping, envelope.Typing{
		SenderID: 1, ReceiverID: 2, IsTyping: true,
	}))

	envs := waitForFrames(t, bobConn, 2)
	if countType(envs, envelope.TypeTyping) != 1 {
		t.Fatalf("typing frame should reach the receiver")
	}
}

func TestFanOutDuringUnregisterDoesNotPanic(t *testing.T) {
	h := New()
	const sessionCount = 64
	sessions := make([]*Session, 0, sessionCount)
	for i := 0; i < sessionCount; i++ {
		sessions = append(sessions, h.Register(7, &fakeConn{}))
	}
	env, err := envelope.Encode(envelope.TypeChatMessage, envelope.ChatMessage{
		ID: 1, SenderID: 1, ReceiverID: 7, Content: "racing",
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					h.SendToUser(7, env)
					h.Broadcast(env, 0)
				}
			}
		}()
	}

	for _, sess := range sessions {
		h.Unregister(sess)
	}
	close(stop)
	wg.Wait()

	if h.IsOnline(7) {
		t.Fatalf("all sessions were unregistered")
	}
	// A repeat unregister of an already-detached session must stay inert.
	h.Unregister(sessions[0])
}

func TestShutdownClosesAllSessions(t *testing.T) {
	h := New()
	conn := &fakeConn{}
	h.Register(1, conn)
	h.Shutdown()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		conn.mu.Lock()
		closed := conn.closed
		conn.mu.Unlock()
		if closed {
			if h.IsOnline(1) {
				t.Fatalf("shutdown should clear the registry")
			}
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("connection not closed after shutdown")
}
