package presence

import (
	"sort"
	"sync"

	"forum-chat/internal/envelope"
	"forum-chat/internal/event"
)

// Change describes one presence edge transition.
type Change struct {
	UserID   int64
	IsOnline bool
}

// Tracker maintains the set of currently-online user ids, fed exclusively by
// inbound presence frames. It carries no persistence: the set is rebuilt
// from scratch each connection lifetime.
type Tracker struct {
	mu     sync.RWMutex
	online map[int64]struct{}
	seeded bool

	changes *event.Feed[Change]
}

func NewTracker() *Tracker {
	return &Tracker{
		online:  make(map[int64]struct{}),
		changes: event.NewFeed[Change](),
	}
}

// IsOnline reports whether userID is currently online.
func (t *Tracker) IsOnline(userID int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// Seeded reports whether a presence snapshot has arrived this connection
// lifetime. Until then an absent id means "unknown", not "offline".
func (t *Tracker) Seeded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.seeded
}

// OnChange subscribes to edge transitions; returns an unsubscribe handle.
func (t *Tracker) OnChange(handler func(Change)) func() {
	return t.changes.Subscribe(handler)
}

// Apply ingests one online_status frame. Repeat announcements for a user
// already in that state do not notify subscribers.
func (t *Tracker) Apply(userID int64, isOnline bool) {
	t.mu.Lock()
	_, present := t.online[userID]
	if present == isOnline {
		t.mu.Unlock()
		return
	}
	if isOnline {
		t.online[userID] = struct{}{}
	} else {
		delete(t.online, userID)
	}
	t.mu.Unlock()

	t.changes.Publish(Change{UserID: userID, IsOnline: isOnline})
}

// ApplySnapshot replaces the whole set from a server snapshot, firing one
// change per user whose visible state actually flips.
func (t *Tracker) ApplySnapshot(userIDs []int64) {
	next := make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		next[id] = struct{}{}
	}

	t.mu.Lock()
	var fired []Change
	for id := range next {
		if _, ok := t.online[id]; !ok {
			fired = append(fired, Change{UserID: id, IsOnline: true})
		}
	}
	for id := range t.online {
		if _, ok := next[id]; !ok {
			fired = append(fired, Change{UserID: id, IsOnline: false})
		}
	}
	t.online = next
	t.seeded = true
	t.mu.Unlock()

	sort.Slice(fired, func(i, j int) bool { return fired[i].UserID < fired[j].UserID })
	for _, c := range fired {
		t.changes.Publish(c)
	}
}

// Reset clears the set at the start of a new connection lifetime without
// notifying subscribers; the next snapshot re-seeds visible state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.online = make(map[int64]struct{})
	t.seeded = false
	t.mu.Unlock()
}

// Snapshot returns the online ids in ascending order.
func (t *Tracker) Snapshot() []int64 {
	t.mu.RLock()
	out := make([]int64, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Bind registers the tracker on a connection manager's presence events.
// The returned function removes both registrations.
func (t *Tracker) Bind(conn interface {
	OnEvent(string, func(envelope.Envelope)) func()
}) func() {
	offStatus := conn.OnEvent(envelope.TypeOnlineStatus, func(env envelope.Envelope) {
		var status envelope.OnlineStatus
		if err := envelope.Decode(env, &status); err != nil {
			return
		}
		t.Apply(status.UserID, status.IsOnline)
	})
	offSnapshot := conn.OnEvent(envelope.TypePresenceSnapshot, func(env envelope.Envelope) {
		var snap envelope.PresenceSnapshot
		if err := envelope.Decode(env, &snap); err != nil {
			return
		}
		t.ApplySnapshot(snap.UserIDs)
	})
	return func() {
		offStatus()
		offSnapshot()
	}
}
