package events

import (
	"sync"
)

// Hub fans events out to in-process subscribers such as websocket clients.
// A new subscriber first receives the last event.
type Hub struct {
	mu      sync.Mutex
	clients map[chan Event]struct{}
	last    *Event
	dropped uint64
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan Event]struct{})}
}

func (h *Hub) Name() string { return "hub" }

// Publish implements Publisher. Slow subscribers miss events rather than
// block the sender.
func (h *Hub) Publish(ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = &ev
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			h.dropped++
		}
	}
	return nil
}

// Subscribe registers a subscriber. The returned function unsubscribes and
// closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	h.mu.Lock()
	if h.last != nil {
		ch <- *h.last
	}
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
