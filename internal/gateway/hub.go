package gateway

import (
	"context"
	"sync"
)

// Hub is an in-process Broadcaster. Handlers run on the publishing
// goroutine, outside the hub's lock.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]func(Change)
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[uint64]func(Change))}
}

func (h *Hub) Publish(_ context.Context, change Change) error {
	h.mu.Lock()
	handlers := make([]func(Change), 0, len(h.subs[change.Table]))
	for _, fn := range h.subs[change.Table] {
		handlers = append(handlers, fn)
	}
	h.mu.Unlock()

	for _, fn := range handlers {
		fn(change)
	}
	return nil
}

func (h *Hub) Subscribe(table string, fn func(Change)) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	if h.subs[table] == nil {
		h.subs[table] = make(map[uint64]func(Change))
	}
	h.subs[table][h.nextID] = fn
	return Subscription{ID: h.nextID, Table: table}, nil
}

func (h *Hub) Unsubscribe(sub Subscription) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subs[sub.Table], sub.ID)
	return nil
}
