package notify

import (
	"context"
	"sync"

	"uyim.org/internal/occupancy"
)

// Hub fan-outs notifications to connected SSE clients. Subscriptions are
// per recipient: a client only sees its own notices.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

type subscriber struct {
	userID string
	ch     chan occupancy.Notification
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber for userID and returns a channel which
// will receive its notifications. The channel is closed when the provided
// context ends.
func (h *Hub) Subscribe(ctx context.Context, userID string) <-chan occupancy.Notification {
	ch := make(chan occupancy.Notification, 16)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = subscriber{userID: userID, ch: ch}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish delivers the notification to the recipient's subscribers.
func (h *Hub) Publish(n occupancy.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.userID != n.RecipientID {
			continue
		}
		select {
		case sub.ch <- n:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
