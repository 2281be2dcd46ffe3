package event

import "sync"

// Feed fans values out to subscribers. Subscribe returns an unsubscribe
// handle; handlers run synchronously in registration order on the
// publishing goroutine.
type Feed[T any] struct {
	mu      sync.Mutex
	nextID  int
	order   []int
	entries map[int]func(T)
}

func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{entries: make(map[int]func(T))}
}

// Subscribe registers handler and returns a function that removes it.
// Unsubscribing twice is harmless.
func (f *Feed[T]) Subscribe(handler func(T)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.entries[id] = handler
	f.order = append(f.order, id)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.entries[id]; !ok {
			return
		}
		delete(f.entries, id)
		for i, v := range f.order {
			if v == id {
				f.order = append(f.order[:i], f.order[i+1:]...)
				break
			}
		}
	}
}

// Publish invokes every live handler with v.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	handlers := make([]func(T), 0, len(f.entries))
	for _, id := range f.order {
		if h, ok := f.entries[id]; ok {
			handlers = append(handlers, h)
		}
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(v)
	}
}

// Len reports the number of live subscribers.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
