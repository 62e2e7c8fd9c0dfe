package notify

import (
	"context"
	"testing"
	"time"

	"uyim.org/internal/occupancy"
)

func TestHubDeliversToRecipientOnly(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := h.Subscribe(ctx, "alice")
	bob := h.Subscribe(ctx, "bob")

	h.Publish(occupancy.Notification{RecipientID: "alice", Type: "ownership.approved"})

	select {
	case n := <-alice:
		if n.Type != "ownership.approved" {
			t.Fatalf("unexpected notification: %#v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("alice did not receive the notification")
	}
	select {
	case n := <-bob:
		t.Fatalf("bob must not receive alice's notification: %#v", n)
	default:
	}
}

func TestHubDropsWhenSubscriberIsSlow(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := h.Subscribe(ctx, "alice")
	// Overflow the buffer; Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish(occupancy.Notification{RecipientID: "alice"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected a full buffer, got %d", len(ch))
	}
}

func TestHubUnsubscribeOnContextEnd(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Subscribe(ctx, "alice")
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel was not closed after context end")
		}
	}
}

func TestDispatcherWithoutQueue(t *testing.T) {
	h := NewHub()
	d := NewDispatcher(h, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := h.Subscribe(ctx, "alice")
	d.Publish(context.Background(), occupancy.Notification{RecipientID: "alice"})

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not forward to the hub")
	}
}
