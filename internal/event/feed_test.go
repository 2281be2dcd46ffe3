package event

import "testing"

func TestPublishReachesSubscribersInOrder(t *testing.T) {
	f := NewFeed[int]()
	var got []int
	f.Subscribe(func(v int) { got = append(got, v*10) })
	f.Subscribe(func(v int) { got = append(got, v*100) })

	f.Publish(3)
	if len(got) != 2 || got[0] != 30 || got[1] != 300 {
		t.Fatalf("got = %v", got)
	}
}

func TestUnsubscribeStopsDeliveryAndIsIdempotent(t *testing.T) {
	f := NewFeed[string]()
	calls := 0
	off := f.Subscribe(func(string) { calls++ })

	f.Publish("a")
	off()
	off()
	f.Publish("b")
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if f.Len() != 0 {
		t.Fatalf("len = %d, want 0", f.Len())
	}
}

func TestSubscribeUnsubscribeChurnDoesNotGrowState(t *testing.T) {
	f := NewFeed[int]()
	keep := f.Subscribe(func(int) {})
	for i := 0; i < 1000; i++ {
		off := f.Subscribe(func(int) {})
		off()
	}
	_ = keep

	f.mu.Lock()
	orderLen := len(f.order)
	f.mu.Unlock()
	if orderLen != 1 {
		t.Fatalf("order retained %d ids after churn, want 1", orderLen)
	}
	if f.Len() != 1 {
		t.Fatalf("len = %d, want 1", f.Len())
	}
}
