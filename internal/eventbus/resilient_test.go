package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poppopjmp/spiderfoot-sub008/internal/resilience"
)

// failingBus always fails Publish, used to exercise the circuit breaker.
type failingBus struct{}

func (failingBus) Connect(context.Context) error    { return nil }
func (failingBus) Disconnect(context.Context) error { return nil }
func (failingBus) Publish(context.Context, *Envelope) (bool, error) {
	return false, errors.New("boom")
}
func (failingBus) Subscribe(context.Context, string, EventHandler) (string, error) {
	return "", nil
}
func (failingBus) Unsubscribe(context.Context, string) error { return nil }

func TestResilientCircuitOpensAndRecovers(t *testing.T) {
	cfg := ResilientConfig{
		Backend: "test",
		CircuitBreaker: resilience.Config{
			MaxFailures: 2,
			Timeout:     100 * time.Millisecond,
			HalfOpenMax: 1,
		},
		Retry: resilience.RetryConfig{
			MaxAttempts:  1,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   2,
		},
		DLQCapacity: 10,
	}

	r := NewResilient(failingBus{}, cfg, nil, nil)
	ctx := context.Background()
	if err := r.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer r.Disconnect(ctx)

	for i := 0; i < 3; i++ {
		env := NewEnvelope("sf.scan1.IP_ADDRESS", "scan1", "x", "test", nil)
		if _, err := r.Publish(ctx, env); err == nil {
			t.Fatalf("publish %d: expected error", i)
		}
	}

	if got := r.DeadLetterQueue().Len(); got != 3 {
		t.Fatalf("expected DLQ size 3, got %d", got)
	}

	entries := r.DeadLetterQueue().Snapshot()
	if entries[2].Error != "circuit_open" {
		t.Fatalf("expected third entry reason circuit_open, got %q", entries[2].Error)
	}

	if r.cb.State() != resilience.StateOpen {
		t.Fatalf("expected circuit open after 2 consecutive failures, got %s", r.cb.State())
	}

	time.Sleep(150 * time.Millisecond)

	if r.cb.State() != resilience.StateHalfOpen {
		t.Fatalf("expected circuit half-open after recovery timeout, got %s", r.cb.State())
	}
}
