package eventbus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/poppopjmp/spiderfoot-sub008/internal/errors"
	"github.com/poppopjmp/spiderfoot-sub008/internal/logging"
)

// defaultQueueSize is the bounded capacity of each subscription's delivery
// queue when the caller does not specify one.
const defaultQueueSize = 256

// MemoryBus is the in-memory Bus backend. Each subscription owns a bounded
// channel; Publish enqueues to every matching subscription's channel and a
// per-subscription dispatch goroutine drains it and invokes the callback.
// If a queue is full, delivery to that subscription fails (dropped) while
// delivery to other matching subscriptions proceeds.
type MemoryBus struct {
	logger *logging.Logger

	mu            sync.RWMutex
	connected     bool
	subscriptions map[string]*Subscription
	queueSize     int

	published int64
	delivered int64
	dropped   int64
}

// NewMemoryBus creates an in-memory bus. queueSize <= 0 uses defaultQueueSize.
func NewMemoryBus(logger *logging.Logger, queueSize int) *MemoryBus {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &MemoryBus{
		logger:        logger,
		subscriptions: make(map[string]*Subscription),
		queueSize:     queueSize,
	}
}

// Connect marks the bus as accepting publishes and subscriptions. Idempotent.
func (b *MemoryBus) Connect(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

// Disconnect cancels every dispatch goroutine and clears subscriptions.
// Pending queued deliveries are dropped. Idempotent.
func (b *MemoryBus) Disconnect(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil
	}
	for _, sub := range b.subscriptions {
		sub.cancel()
	}
	b.subscriptions = make(map[string]*Subscription)
	b.connected = false
	return nil
}

// Publish enqueues envelope to every subscription whose pattern matches its
// topic. Returns true if at least one subscription received it.
func (b *MemoryBus) Publish(_ context.Context, envelope *Envelope) (bool, error) {
	b.mu.RLock()
	if !b.connected {
		b.mu.RUnlock()
		return false, ErrNotConnected
	}
	matches := make([]*Subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		if Match(sub.Pattern, envelope.Topic) {
			matches = append(matches, sub)
		}
	}
	b.mu.RUnlock()

	atomic.AddInt64(&b.published, 1)

	delivered := false
	for _, sub := range matches {
		select {
		case sub.Queue <- envelope:
			delivered = true
			atomic.AddInt64(&b.delivered, 1)
		default:
			atomic.AddInt64(&b.dropped, 1)
			if b.logger != nil {
				b.logger.WithFields(map[string]interface{}{
					"subscription_id": sub.ID,
					"topic":           envelope.Topic,
				}).Warn("subscription queue full, envelope dropped")
			}
		}
	}

	return delivered, nil
}

// Subscribe registers pattern/handler and starts its dispatch goroutine.
func (b *MemoryBus) Subscribe(_ context.Context, pattern string, handler EventHandler) (string, error) {
	if !ValidPattern(pattern) {
		return "", errors.InvalidTopic(pattern, "malformed subscription pattern")
	}

	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return "", ErrNotConnected
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		ID:      uuid.New().String(),
		Pattern: pattern,
		Handler: handler,
		Queue:   make(chan *Envelope, b.queueSize),
		cancel:  cancel,
	}
	b.subscriptions[sub.ID] = sub
	b.mu.Unlock()

	go b.dispatch(ctx, sub)

	return sub.ID, nil
}

func (b *MemoryBus) dispatch(ctx context.Context, sub *Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case envelope, ok := <-sub.Queue:
			if !ok {
				return
			}
			b.invoke(ctx, sub, envelope)
		}
	}
}

func (b *MemoryBus) invoke(ctx context.Context, sub *Subscription, envelope *Envelope) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.WithFields(map[string]interface{}{
				"subscription_id": sub.ID,
				"panic":           r,
			}).Error("subscriber handler panicked")
		}
	}()
	sub.Handler(ctx, envelope)
}

// Unsubscribe cancels the subscription's dispatch goroutine and drops its
// record. A second call for the same id is a no-op.
func (b *MemoryBus) Unsubscribe(_ context.Context, subscriptionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscriptions[subscriptionID]
	if !ok {
		return nil
	}
	sub.cancel()
	delete(b.subscriptions, subscriptionID)
	return nil
}

// Stats returns current per-topic-agnostic counters.
func (b *MemoryBus) Stats() Stats {
	b.mu.RLock()
	subCount := int64(len(b.subscriptions))
	b.mu.RUnlock()
	return Stats{
		Subscriptions: subCount,
		Published:     atomic.LoadInt64(&b.published),
		Delivered:     atomic.LoadInt64(&b.delivered),
		Dropped:       atomic.LoadInt64(&b.dropped),
	}
}
