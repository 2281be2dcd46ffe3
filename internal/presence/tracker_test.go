package presence

import (
	"testing"
)

func TestApplyFiresOnlyOnEdgeTransitions(t *testing.T) {
	tr := NewTracker()
	var changes []Change
	tr.OnChange(func(c Change) { changes = append(changes, c) })

	tr.Apply(7, true)
	tr.Apply(7, true)
	if len(changes) != 1 {
		t.Fatalf("repeat online announcement must not notify, got %d changes", len(changes))
	}
	if !tr.IsOnline(7) {
		t.Fatalf("user 7 should be online")
	}

	tr.Apply(7, false)
	tr.Apply(7, false)
	if len(changes) != 2 {
		t.Fatalf("expected exactly 2 edges, got %d", len(changes))
	}
	if changes[1].IsOnline {
		t.Fatalf("second edge should be offline")
	}
}

func TestUnknownUserIsOffline(t *testing.T) {
	tr := NewTracker()
	if tr.IsOnline(99) {
		t.Fatalf("unseen user must not report online")
	}
	if tr.Seeded() {
		t.Fatalf("tracker should not be seeded before a snapshot")
	}
}

func TestSnapshotSeedsAndDiffs(t *testing.T) {
	tr := NewTracker()
	tr.Apply(1, true)
	tr.Apply(2, true)

	var changes []Change
	tr.OnChange(func(c Change) { changes = append(changes, c) })

	tr.ApplySnapshot([]int64{2, 3})
	if !tr.Seeded() {
		t.Fatalf("snapshot should mark tracker seeded")
	}
	if got := tr.Snapshot(); len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("unexpected online set: %v", got)
	}
	// User 2 unchanged, user 1 went offline, user 3 came online.
	if len(changes) != 2 {
		t.Fatalf("expected 2 diff changes, got %+v", changes)
	}
}

func TestResetClearsWithoutNotifying(t *testing.T) {
	tr := NewTracker()
	tr.Apply(5, true)

	notified := 0
	tr.OnChange(func(Change) { notified++ })
	tr.Reset()

	if tr.IsOnline(5) {
		t.Fatalf("reset should clear the online set")
	}
	if notified != 0 {
		t.Fatalf("reset must not fire change handlers")
	}
	if tr.Seeded() {
		t.Fatalf("reset should drop the seeded flag")
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	tr := NewTracker()
	count := 0
	off := tr.OnChange(func(Change) { count++ })
	tr.Apply(1, true)
	off()
	tr.Apply(2, true)
	if count != 1 {
		t.Fatalf("expected one notification before unsubscribe, got %d", count)
	}
}
