package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/poppopjmp/spiderfoot-sub008/internal/logging"
	"github.com/poppopjmp/spiderfoot-sub008/internal/metrics"
	"github.com/poppopjmp/spiderfoot-sub008/internal/resilience"
)

// HealthState is the derived health of a Resilient bus.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// degradedDLQThreshold matches spec.md §4.2: DLQ size > 100 degrades health
// even when the circuit is closed.
const degradedDLQThreshold = 100

// Health is the latest cached health probe result, exposed synchronously.
type Health struct {
	State       HealthState
	CircuitOpen bool
	DLQSize     int
	CheckedAt   time.Time
}

// ResilientConfig configures the resilient middleware wrapper.
type ResilientConfig struct {
	Backend            string // label used on metrics and logs
	CircuitBreaker     resilience.Config
	Retry              resilience.RetryConfig
	DLQCapacity        int
	HealthCheckInterval time.Duration
}

// DefaultResilientConfig returns production defaults: three publish attempts
// with exponential backoff, a 1000-entry DLQ and a 30s health probe
// interval. Remote backends (Redis Streams, NATS JetStream) get the strict
// circuit breaker profile, since a flaky network backend should fail fast
// into the DLQ rather than keep retrying; the in-memory backend gets the
// default profile since its only failure mode is a full subscriber channel.
func DefaultResilientConfig(backend string, logger *logging.Logger) ResilientConfig {
	cb := resilience.DefaultBusCBConfig(logger)
	switch backend {
	case "redis", "nats":
		cb = resilience.StrictBusCBConfig(logger)
	}

	return ResilientConfig{
		Backend:             backend,
		CircuitBreaker:      cb,
		Retry:               resilience.DefaultRetryConfig(),
		DLQCapacity:         1000,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Resilient wraps any Bus with circuit breaking, retry-with-backoff, a
// dead-letter queue, metrics, and background health probing. It implements
// the Bus interface itself so it composes transparently over any backend.
type Resilient struct {
	inner  Bus
	cfg    ResilientConfig
	cb     *resilience.CircuitBreaker
	dlq    *DeadLetterQueue
	logger *logging.Logger
	m      *metrics.Metrics

	mu          sync.RWMutex
	lastHealth  Health
	connected   bool
	probeCancel context.CancelFunc

	publishedCount int64
	failedCount    int64
	subDeliveries  int64
	subErrors      int64
}

// NewResilient wraps inner with production concerns per spec.md §4.2.
func NewResilient(inner Bus, cfg ResilientConfig, logger *logging.Logger, m *metrics.Metrics) *Resilient {
	if cfg.DLQCapacity <= 0 {
		cfg.DLQCapacity = 1000
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}

	r := &Resilient{
		inner:  inner,
		cfg:    cfg,
		dlq:    NewDeadLetterQueue(cfg.DLQCapacity),
		logger: logger,
		m:      m,
	}

	cbCfg := cfg.CircuitBreaker
	cbCfg.OnStateChange = func(from, to resilience.State) {
		if logger != nil {
			logger.WithFields(map[string]interface{}{
				"backend":    cfg.Backend,
				"from_state": from.String(),
				"to_state":   to.String(),
			}).Warn("circuit breaker state changed")
		}
	}
	r.cb = resilience.New(cbCfg)

	return r
}

// Connect connects the inner backend and starts the health probe loop.
// Idempotent.
func (r *Resilient) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.connected {
		r.mu.Unlock()
		return nil
	}
	if err := r.inner.Connect(ctx); err != nil {
		r.mu.Unlock()
		return err
	}
	r.connected = true
	probeCtx, cancel := context.WithCancel(context.Background())
	r.probeCancel = cancel
	r.mu.Unlock()

	r.runProbe(probeCtx)
	go r.probeLoop(probeCtx)

	return nil
}

// Disconnect cancels the health probe loop and disconnects the inner backend.
// Idempotent.
func (r *Resilient) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	if !r.connected {
		r.mu.Unlock()
		return nil
	}
	if r.probeCancel != nil {
		r.probeCancel()
	}
	r.connected = false
	r.mu.Unlock()

	return r.inner.Disconnect(ctx)
}

// Publish runs the admission → retry → DLQ pipeline of spec.md §4.2.
func (r *Resilient) Publish(ctx context.Context, envelope *Envelope) (bool, error) {
	if r.cb.State() == resilience.StateOpen {
		r.dlq.Add(DeadLetterEntry{
			Envelope:  envelope,
			Error:     "circuit_open",
			Timestamp: time.Now().UTC(),
			Attempts:  0,
		})
		if r.m != nil {
			r.m.RecordBusDLQAdd(r.cfg.Backend, "circuit_open", r.dlq.Len())
			r.m.SetCircuitState(r.cfg.Backend, int(r.cb.State()))
		}
		return false, errors.New("circuit_open")
	}

	var (
		delivered bool
		lastErr   error
		attempts  int
	)

	retryErr := resilience.Retry(ctx, r.cfg.Retry, func() error {
		attempts++
		var innerErr error
		delivered, innerErr = r.inner.Publish(ctx, envelope)
		lastErr = innerErr
		return innerErr
	})

	if r.m != nil {
		r.m.SetCircuitState(r.cfg.Backend, int(r.cb.State()))
	}

	if retryErr != nil {
		_ = r.cb.Execute(ctx, func() error { return retryErr })
		r.dlq.Add(DeadLetterEntry{
			Envelope:  envelope,
			Error:     errString(lastErr, retryErr),
			Timestamp: time.Now().UTC(),
			Attempts:  attempts,
		})
		atomic.AddInt64(&r.failedCount, 1)
		if r.m != nil {
			r.m.RecordBusFailure(r.cfg.Backend, envelope.Topic)
			r.m.RecordBusDLQAdd(r.cfg.Backend, "retries_exhausted", r.dlq.Len())
		}
		if r.logger != nil {
			r.logger.LogEventDelivery(ctx, envelope.Topic, r.cfg.Backend, retryErr)
		}
		return false, retryErr
	}

	_ = r.cb.Execute(ctx, func() error { return nil })
	atomic.AddInt64(&r.publishedCount, 1)
	if r.m != nil {
		r.m.RecordBusPublish(r.cfg.Backend, envelope.Topic)
	}

	return delivered, nil
}

func errString(inner, retry error) string {
	if inner != nil {
		return inner.Error()
	}
	if retry != nil {
		return retry.Error()
	}
	return "unknown error"
}

// Subscribe wraps the caller's handler so every invocation increments a
// success or error counter before (for errors) being swallowed — subscriber
// failures never propagate to the publisher.
func (r *Resilient) Subscribe(ctx context.Context, pattern string, handler EventHandler) (string, error) {
	wrapped := func(ctx context.Context, envelope *Envelope) {
		defer func() {
			if rec := recover(); rec != nil {
				atomic.AddInt64(&r.subErrors, 1)
				if r.logger != nil {
					r.logger.WithFields(map[string]interface{}{
						"pattern": pattern,
						"panic":   rec,
					}).Error("subscriber handler panicked")
				}
			}
		}()
		handler(ctx, envelope)
		atomic.AddInt64(&r.subDeliveries, 1)
	}
	return r.inner.Subscribe(ctx, pattern, wrapped)
}

// Unsubscribe delegates to the inner bus.
func (r *Resilient) Unsubscribe(ctx context.Context, subscriptionID string) error {
	return r.inner.Unsubscribe(ctx, subscriptionID)
}

// DeadLetterQueue exposes the DLQ for inspection and replay.
func (r *Resilient) DeadLetterQueue() *DeadLetterQueue {
	return r.dlq
}

// Replay iterates the DLQ oldest-first, calling the inner Publish directly
// (bypassing circuit/retry). Successes are removed; failures are re-queued
// at the end.
func (r *Resilient) Replay(ctx context.Context) (replayed, failed int) {
	entries := r.dlq.Drain()
	for _, entry := range entries {
		delivered, err := r.inner.Publish(ctx, entry.Envelope)
		if err != nil {
			entry.Attempts++
			entry.Error = err.Error()
			entry.Timestamp = time.Now().UTC()
			r.dlq.Add(entry)
			failed++
			continue
		}
		_ = delivered
		replayed++
	}
	return replayed, failed
}

// Health returns the most recently cached health probe result.
func (r *Resilient) Health() Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastHealth
}

func (r *Resilient) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runProbe(ctx)
		}
	}
}

func (r *Resilient) runProbe(_ context.Context) {
	r.mu.RLock()
	connected := r.connected
	r.mu.RUnlock()

	state := r.cb.State()
	dlqSize := r.dlq.Len()

	var health HealthState
	switch {
	case !connected || state == resilience.StateOpen:
		health = HealthUnhealthy
	case state == resilience.StateHalfOpen || dlqSize > degradedDLQThreshold:
		health = HealthDegraded
	default:
		health = HealthHealthy
	}

	r.mu.Lock()
	r.lastHealth = Health{
		State:       health,
		CircuitOpen: state == resilience.StateOpen,
		DLQSize:     dlqSize,
		CheckedAt:   time.Now().UTC(),
	}
	r.mu.Unlock()
}
