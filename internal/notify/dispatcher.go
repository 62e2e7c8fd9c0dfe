package notify

import (
	"context"

	"uyim.org/internal/occupancy"
)

// Dispatcher is the engine's notifier: in-process SSE fan-out plus an
// optional queue for external consumers. Both legs are best-effort.
type Dispatcher struct {
	hub   *Hub
	queue *QueuePublisher
}

var _ occupancy.Notifier = (*Dispatcher)(nil)

func NewDispatcher(hub *Hub, queue *QueuePublisher) *Dispatcher {
	return &Dispatcher{hub: hub, queue: queue}
}

func (d *Dispatcher) Publish(ctx context.Context, n occupancy.Notification) {
	if d.hub != nil {
		d.hub.Publish(n)
	}
	if d.queue != nil {
		_ = d.queue.Publish(ctx, n)
	}
}
