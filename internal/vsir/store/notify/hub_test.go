package notify

import (
	"context"
	"testing"
	"time"
)

func TestHubPublishCoalesces(t *testing.T) {
	h := NewHub(nil)
	ctx := context.Background()
	sub, err := h.Subscribe(ctx, Topic("u1", "vsirRecords"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	for i := 0; i < 5; i++ {
		h.Publish(ctx, Topic("u1", "vsirRecords"))
	}
	select {
	case <-sub.C():
	case <-time.After(time.Second):
		t.Fatal("expected a signal")
	}
	select {
	case <-sub.C():
		t.Fatal("signals should coalesce into one")
	default:
	}
}

func TestHubTopicsAreIsolated(t *testing.T) {
	h := NewHub(nil)
	ctx := context.Background()
	a, _ := h.Subscribe(ctx, Topic("u1", "psir"))
	b, _ := h.Subscribe(ctx, Topic("u2", "psir"))
	defer a.Close()
	defer b.Close()

	h.Publish(ctx, Topic("u1", "psir"))
	select {
	case <-b.C():
		t.Fatal("u2 must not see u1 changes")
	default:
	}
	select {
	case <-a.C():
	default:
		t.Fatal("u1 should be signalled")
	}
}

func TestHubCloseStopsDelivery(t *testing.T) {
	h := NewHub(nil)
	ctx := context.Background()
	topic := Topic("u1", "vendorDepts")
	sub, _ := h.Subscribe(ctx, topic)
	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	sub.Close()
	h.Publish(ctx, topic)
	select {
	case <-sub.C():
		t.Fatal("closed subscription received a signal")
	default:
	}
	if len(h.topics) != 0 {
		t.Fatalf("expected topic to be dropped, have %d", len(h.topics))
	}
}
