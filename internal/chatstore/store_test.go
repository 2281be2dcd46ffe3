package chatstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeFetcher struct {
	pages map[int][]Message // keyed by offset
	err   error
	calls int
}

func (f *fakeFetcher) Messages(ctx context.Context, peerID int64, limit, offset int) ([]Message, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.pages[offset], nil
}

type fakeCache struct {
	appended map[int64][]Message
	recent   map[int64][]Message
	readErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		appended: make(map[int64][]Message),
		recent:   make(map[int64][]Message),
	}
}

func (c *fakeCache) Append(peerID int64, msg Message) error {
	c.appended[peerID] = append(c.appended[peerID], msg)
	return nil
}

func (c *fakeCache) Recent(peerID int64, limit int) ([]Message, error) {
	if c.readErr != nil {
		return nil, c.readErr
	}
	return c.recent[peerID], nil
}

func at(sec int) time.Time {
	return time.Date(2026, 3, 1, 12, 0, sec, 0, time.UTC)
}

func contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestLoadHistoryOrdersAscending(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[int][]Message{
		0: {
			{ID: 3, SenderID: 2, ReceiverID: 1, Content: "third", CreatedAt: at(30)},
			{ID: 1, SenderID: 1, ReceiverID: 2, Content: "first", CreatedAt: at(10)},
			{ID: 2, SenderID: 2, ReceiverID: 1, Content: "second", CreatedAt: at(20)},
		},
	}}
	s := NewStore(1, fetcher, nil)

	if err := s.LoadHistory(context.Background(), 2, 10, 0); err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	conv := s.Conversation(2)
	got := contents(conv.Messages)
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch: got %v want %v", got, want)
		}
	}
	if conv.HasMoreOlder {
		t.Fatalf("short page must clear HasMoreOlder")
	}
}

func TestLoadHistoryOverlappingPagesDoNotDuplicate(t *testing.T) {
	// Offsets overlap by one row, as happens when a new message lands
	// between two page fetches.
	fetcher := &fakeFetcher{pages: map[int][]Message{
		0: {
			{ID: 4, SenderID: 2, ReceiverID: 1, Content: "d", CreatedAt: at(40)},
			{ID: 3, SenderID: 1, ReceiverID: 2, Content: "c", CreatedAt: at(30)},
		},
		2: {
			{ID: 3, SenderID: 1, ReceiverID: 2, Content: "c", CreatedAt: at(30)},
			{ID: 2, SenderID: 2, ReceiverID: 1, Content: "b", CreatedAt: at(20)},
		},
	}}
	s := NewStore(1, fetcher, nil)

	if err := s.LoadHistory(context.Background(), 2, 2, 0); err != nil {
		t.Fatalf("first page: %v", err)
	}
	if err := s.LoadHistory(context.Background(), 2, 2, 2); err != nil {
		t.Fatalf("second page: %v", err)
	}
	conv := s.Conversation(2)
	if len(conv.Messages) != 3 {
		t.Fatalf("expected 3 distinct messages, got %v", contents(conv.Messages))
	}
	if !conv.HasMoreOlder {
		t.Fatalf("full page should keep HasMoreOlder set")
	}
	if conv.OldestOffset != 4 {
		t.Fatalf("oldest offset = %d, want 4", conv.OldestOffset)
	}
}

func TestLoadHistoryFailureLeavesStateUntouched(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[int][]Message{
		0: {{ID: 1, SenderID: 2, ReceiverID: 1, Content: "kept", CreatedAt: at(10)}},
	}}
	s := NewStore(1, fetcher, nil)
	if err := s.LoadHistory(context.Background(), 2, 10, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	fetcher.err = errors.New("boom")
	if err := s.LoadHistory(context.Background(), 2, 10, 10); err == nil {
		t.Fatalf("expected fetch error to propagate")
	}
	conv := s.Conversation(2)
	if len(conv.Messages) != 1 || conv.Messages[0].Content != "kept" {
		t.Fatalf("failed fetch must not mutate conversation, got %v", contents(conv.Messages))
	}
	if conv.OldestOffset != 1 {
		t.Fatalf("offset changed after failed fetch: %d", conv.OldestOffset)
	}
}

func TestAppendLiveReconcilesByCorrelationID(t *testing.T) {
	s := NewStore(1, &fakeFetcher{}, nil)
	s.AppendPending(2, Message{
		CorrelationID: "c-1",
		SenderID:      1,
		ReceiverID:    2,
		Content:       "hi",
		CreatedAt:     at(10),
	})

	s.AppendLive(Message{
		ID:            77,
		CorrelationID: "c-1",
		SenderID:      1,
		ReceiverID:    2,
		Content:       "hi",
		CreatedAt:     at(11),
	})

	conv := s.Conversation(2)
	if len(conv.Messages) != 1 {
		t.Fatalf("echo must replace the optimistic message, got %d", len(conv.Messages))
	}
	m := conv.Messages[0]
	if m.ID != 77 || m.Delivery != DeliveryConfirmed {
		t.Fatalf("reconciled message not confirmed: %+v", m)
	}
	if conv.UnreadCount != 0 {
		t.Fatalf("own message must not count as unread")
	}
}

func TestAppendLiveHeuristicMatchWithoutCorrelationID(t *testing.T) {
	s := NewStore(1, &fakeFetcher{}, nil)
	s.AppendPending(2, Message{
		CorrelationID: "c-2",
		SenderID:      1,
		ReceiverID:    2,
		Content:       "same words",
		CreatedAt:     at(10),
	})

	s.AppendLive(Message{
		ID:         5,
		SenderID:   1,
		ReceiverID: 2,
		Content:    "same words",
		CreatedAt:  at(12),
	})

	conv := s.Conversation(2)
	if len(conv.Messages) != 1 || conv.Messages[0].ID != 5 {
		t.Fatalf("content/time heuristic should reconcile, got %v", conv.Messages)
	}
}

func TestAppendLiveOutsideWindowIsNewMessage(t *testing.T) {
	s := NewStore(1, &fakeFetcher{}, nil)
	s.AppendPending(2, Message{
		CorrelationID: "c-3",
		SenderID:      1,
		ReceiverID:    2,
		Content:       "dup words",
		CreatedAt:     at(0),
	})

	s.AppendLive(Message{
		ID:         9,
		SenderID:   1,
		ReceiverID: 2,
		Content:    "dup words",
		CreatedAt:  at(20),
	})

	conv := s.Conversation(2)
	if len(conv.Messages) != 2 {
		t.Fatalf("message outside the window must not reconcile, got %d", len(conv.Messages))
	}
}

func TestAppendLiveInboundIncrementsUnread(t *testing.T) {
	s := NewStore(1, &fakeFetcher{}, nil)
	s.AppendLive(Message{ID: 1, SenderID: 2, ReceiverID: 1, Content: "yo", CreatedAt: at(1)})
	s.AppendLive(Message{ID: 2, SenderID: 2, ReceiverID: 1, Content: "yo again", CreatedAt: at(2)})

	conv := s.Conversation(2)
	if conv.UnreadCount != 2 {
		t.Fatalf("unread = %d, want 2", conv.UnreadCount)
	}
	s.MarkRead(2)
	if got := s.Conversation(2).UnreadCount; got != 0 {
		t.Fatalf("unread after MarkRead = %d", got)
	}
}

func TestAppendLiveDuplicateIDIsDropped(t *testing.T) {
	s := NewStore(1, &fakeFetcher{}, nil)
	msg := Message{ID: 3, SenderID: 2, ReceiverID: 1, Content: "once", CreatedAt: at(3)}
	s.AppendLive(msg)
	s.AppendLive(msg)

	conv := s.Conversation(2)
	if len(conv.Messages) != 1 {
		t.Fatalf("duplicate id must be dropped, got %d", len(conv.Messages))
	}
	if conv.UnreadCount != 1 {
		t.Fatalf("duplicate must not bump unread, got %d", conv.UnreadCount)
	}
}

func TestConfirmAndFailPendingLifecycle(t *testing.T) {
	s := NewStore(1, &fakeFetcher{}, nil)
	s.AppendPending(2, Message{CorrelationID: "c-9", SenderID: 1, ReceiverID: 2, Content: "x", CreatedAt: at(1)})

	if !s.FailPending(2, "c-9") {
		t.Fatalf("FailPending should find the message")
	}
	conv := s.Conversation(2)
	if conv.Messages[0].Delivery != DeliveryFailed {
		t.Fatalf("state = %v, want failed", conv.Messages[0].Delivery)
	}

	msg, ok := s.RetryPending(2, "c-9")
	if !ok || msg.Delivery != DeliveryPending {
		t.Fatalf("RetryPending: ok=%v msg=%+v", ok, msg)
	}

	if !s.ConfirmPending(2, "c-9", Message{ID: 41, SenderID: 1, ReceiverID: 2, Content: "x", CreatedAt: at(2)}) {
		t.Fatalf("ConfirmPending should succeed")
	}
	conv = s.Conversation(2)
	if len(conv.Messages) != 1 || conv.Messages[0].ID != 41 || conv.Messages[0].Delivery != DeliveryConfirmed {
		t.Fatalf("confirm result: %+v", conv.Messages)
	}
	if s.FailPending(2, "c-9") {
		t.Fatalf("confirmed message must not flip to failed")
	}
}

func TestOpenSeedsFromCache(t *testing.T) {
	cache := newFakeCache()
	cache.recent[2] = []Message{
		{ID: 1, SenderID: 2, ReceiverID: 1, Content: "cached", CreatedAt: at(1)},
	}
	s := NewStore(1, &fakeFetcher{}, cache)

	conv := s.Open(2)
	if len(conv.Messages) != 1 || conv.Messages[0].Content != "cached" {
		t.Fatalf("open should seed from cache, got %v", contents(conv.Messages))
	}
	if conv.Messages[0].Delivery != DeliveryConfirmed {
		t.Fatalf("cached messages are confirmed by definition")
	}
}

func TestConfirmedMessagesWriteThroughCache(t *testing.T) {
	cache := newFakeCache()
	s := NewStore(1, &fakeFetcher{}, cache)
	s.AppendLive(Message{ID: 8, SenderID: 2, ReceiverID: 1, Content: "hi", CreatedAt: at(1)})

	if len(cache.appended[2]) != 1 || cache.appended[2][0].ID != 8 {
		t.Fatalf("confirmed message should reach the cache, got %+v", cache.appended)
	}
}

func TestOnChangePublishesPeerID(t *testing.T) {
	s := NewStore(1, &fakeFetcher{}, nil)
	var seen []int64
	off := s.OnChange(func(peerID int64) { seen = append(seen, peerID) })

	s.AppendLive(Message{ID: 1, SenderID: 3, ReceiverID: 1, Content: "a", CreatedAt: at(1)})
	off()
	s.AppendLive(Message{ID: 2, SenderID: 3, ReceiverID: 1, Content: "b", CreatedAt: at(2)})

	if len(seen) != 1 || seen[0] != 3 {
		t.Fatalf("change feed: %v", seen)
	}
}

func TestEvictDropsEverything(t *testing.T) {
	s := NewStore(1, &fakeFetcher{}, nil)
	s.AppendLive(Message{ID: 1, SenderID: 2, ReceiverID: 1, Content: "a", CreatedAt: at(1)})
	s.Evict()
	if peers := s.Peers(); len(peers) != 0 {
		t.Fatalf("evict left peers: %v", peers)
	}
}
