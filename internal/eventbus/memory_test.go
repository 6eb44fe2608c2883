package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryBusWildcardPubSub(t *testing.T) {
	bus := NewMemoryBus(nil, 16)
	ctx := context.Background()
	if err := bus.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer bus.Disconnect(ctx)

	var mu sync.Mutex
	var received []string
	done := make(chan struct{}, 3)

	_, err := bus.Subscribe(ctx, "sf.scan1.*", func(_ context.Context, e *Envelope) {
		mu.Lock()
		received = append(received, e.Topic)
		mu.Unlock()
		done <- struct{}{}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	topics := []string{"sf.scan1.IP_ADDRESS", "sf.scan1.DOMAIN_NAME", "sf.scan2.IP_ADDRESS"}
	for _, topic := range topics {
		if _, err := bus.Publish(ctx, NewEnvelope(topic, "scan1", "x", "test", nil)); err != nil {
			t.Fatalf("publish %s: %v", topic, err)
		}
	}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("expected exactly 2 deliveries, got %d: %v", len(received), received)
	}
	if received[0] != "sf.scan1.IP_ADDRESS" || received[1] != "sf.scan1.DOMAIN_NAME" {
		t.Fatalf("expected publish order preserved, got %v", received)
	}
}

func TestMemoryBusUnsubscribeIdempotent(t *testing.T) {
	bus := NewMemoryBus(nil, 4)
	ctx := context.Background()
	_ = bus.Connect(ctx)
	defer bus.Disconnect(ctx)

	id, _ := bus.Subscribe(ctx, "sf.>", func(context.Context, *Envelope) {})

	if err := bus.Unsubscribe(ctx, id); err != nil {
		t.Fatalf("first unsubscribe: %v", err)
	}
	if err := bus.Unsubscribe(ctx, id); err != nil {
		t.Fatalf("second unsubscribe should be a no-op, got: %v", err)
	}
}

func TestMemoryBusPublishNoSubscribersIsNotError(t *testing.T) {
	bus := NewMemoryBus(nil, 4)
	ctx := context.Background()
	_ = bus.Connect(ctx)
	defer bus.Disconnect(ctx)

	delivered, err := bus.Publish(ctx, NewEnvelope("sf.scan1.IP_ADDRESS", "scan1", "x", "test", nil))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if delivered {
		t.Fatal("expected delivered=false with no subscribers")
	}
}
