package websocket

import (
	"sync"

	"github.com/google/uuid"
)

// Hub fans events out to subscribers from a single goroutine so every
// subscriber sees events in the order they were read off the wire.
type Hub struct {
	Broadcast chan Event

	mu          sync.RWMutex
	subscribers map[string]Handler
	order       []string
	done        chan struct{}
	stopOnce    sync.Once
}

func NewHub() *Hub {
	return &Hub{
		Broadcast:   make(chan Event, 64),
		subscribers: make(map[string]Handler),
		done:        make(chan struct{}),
	}
}

// Register adds fn and returns the id used to unregister it.
func (h *Hub) Register(fn Handler) string {
	id := uuid.NewString()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[id] = fn
	h.order = append(h.order, id)
	return id
}

// Unregister is safe to call from inside a handler.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[id]; !ok {
		return
	}
	delete(h.subscribers, id)
	for i, sid := range h.order {
		if sid == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Publish queues ev for delivery. It gives up when the hub has stopped or
// cancel is closed.
func (h *Hub) Publish(ev Event, cancel <-chan struct{}) bool {
	select {
	case h.Broadcast <- ev:
		return true
	case <-h.done:
		return false
	case <-cancel:
		return false
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return
		case ev := <-h.Broadcast:
			for _, fn := range h.snapshot() {
				fn(ev)
			}
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

func (h *Hub) snapshot() []Handler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Handler, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.subscribers[id])
	}
	return out
}
