package eventbus

import (
	"context"
	"errors"
)

// Sentinel errors returned by Bus implementations.
var (
	// ErrNotConnected is returned by Publish/Subscribe when the bus has not
	// been connected, or has been disconnected.
	ErrNotConnected = errors.New("eventbus: not connected")
	// ErrTransport indicates the backend (Redis, NATS) is unreachable.
	ErrTransport = errors.New("eventbus: transport error")
	// ErrSubscriptionNotFound names an unknown subscription id. The backends
	// in this package do not return it from Unsubscribe: an unknown id
	// yields nil there, so a repeated call is a no-op.
	ErrSubscriptionNotFound = errors.New("eventbus: subscription not found")
)

// EventHandler is invoked by the bus's own scheduler, never on the
// publisher's call path.
type EventHandler func(ctx context.Context, envelope *Envelope)

// Bus is the capability interface every backend (in-memory, Redis Streams,
// NATS JetStream) and the resilient middleware wrapper implement. Backends
// are variants selected by configuration, not a class hierarchy.
type Bus interface {
	// Connect establishes backend resources. Idempotent.
	Connect(ctx context.Context) error
	// Disconnect cancels all dispatch loops and releases backend resources.
	// Idempotent.
	Disconnect(ctx context.Context) error
	// Publish delivers envelope to every subscription whose pattern matches
	// envelope.Topic. The returned bool is true if at least one subscriber
	// received it; false with a nil error means there were no matching
	// subscribers, which is a successful outcome, not a failure.
	Publish(ctx context.Context, envelope *Envelope) (bool, error)
	// Subscribe registers pattern/callback and returns an opaque
	// subscription id.
	Subscribe(ctx context.Context, pattern string, handler EventHandler) (string, error)
	// Unsubscribe drops a subscription. Idempotent: a second call for the
	// same id is a no-op.
	Unsubscribe(ctx context.Context, subscriptionID string) error
}

// Subscription is the bus's internal record of a (pattern, callback) pair.
// The bus holds non-owning references; callers own the subscription and are
// responsible for explicit teardown.
type Subscription struct {
	ID      string
	Pattern string
	Handler EventHandler
	Queue   chan *Envelope
	cancel  context.CancelFunc
}

// Stats summarizes a bus's in-process counters as totals, as returned by
// MemoryBus.Stats.
type Stats struct {
	Subscriptions int64
	Published     int64
	Delivered     int64
	Dropped       int64
}
