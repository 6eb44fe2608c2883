package ratelimiter

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/poppopjmp/spiderfoot-sub008/internal/logging"
	"github.com/poppopjmp/spiderfoot-sub008/internal/metrics"
)

// Limiter admits or denies requests per opaque key (e.g. "api:shodan",
// "module:x", "client:ip", "endpoint:/path") under a shared Config. A global
// Enabled flag bypasses every check.
type Limiter struct {
	cfg     Config
	logger  *logging.Logger
	m       *metrics.Metrics
	Enabled bool

	mu     sync.Mutex
	states map[string]*keyState

	cron     *cron.Cron
	stopOnce sync.Once
}

// New builds a Limiter under cfg. idleCleanupCron schedules a cron job
// (shared scheduling idiom with the task manager) that reclaims per-key
// state idle past maxIdle; pass an empty cron spec to disable the job.
func New(cfg Config, idleCleanupCron string, maxIdle time.Duration, logger *logging.Logger, m *metrics.Metrics) *Limiter {
	// Requests<=0 is left alone: 0 is a meaningful config ("deny everything"),
	// not a misconfiguration to silently round up.
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Requests
	}

	l := &Limiter{
		cfg:     cfg,
		logger:  logger,
		m:       m,
		Enabled: true,
		states:  make(map[string]*keyState),
	}

	if idleCleanupCron != "" {
		c := cron.New()
		if _, err := c.AddFunc(idleCleanupCron, func() { l.Cleanup(maxIdle) }); err != nil {
			if logger != nil {
				logger.WithError(err).Warn("rate limiter idle cleanup schedule invalid, cleanup disabled")
			}
		} else {
			c.Start()
			l.cron = c
		}
	}

	return l
}

// Shutdown stops the idle-cleanup cron job.
func (l *Limiter) Shutdown() {
	l.stopOnce.Do(func() {
		if l.cron != nil {
			l.cron.Stop()
		}
	})
}

// Allow checks admission for key under the limiter's configured algorithm.
func (l *Limiter) Allow(key string) Result {
	if !l.Enabled {
		return Result{Allowed: true, Remaining: l.cfg.Requests, Limit: l.cfg.Requests, Window: l.cfg.Window}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.states[key]
	if !ok {
		state = &keyState{algorithm: l.cfg.Algorithm}
		l.states[key] = state
	}
	state.lastSeen = time.Now()

	var result Result
	switch l.cfg.Algorithm {
	case AlgorithmSlidingWindow:
		result = l.allowSlidingWindow(state)
	case AlgorithmFixedWindow:
		result = l.allowFixedWindow(state)
	default:
		result = l.allowTokenBucket(state)
	}

	if l.m != nil {
		l.m.RecordRateLimitCheck(string(l.cfg.Algorithm), result.Allowed)
	}
	return result
}

func (l *Limiter) allowTokenBucket(state *keyState) Result {
	now := time.Now()
	if state.lastRefill.IsZero() {
		state.tokens = float64(l.cfg.Burst)
		state.lastRefill = now
	}

	elapsed := now.Sub(state.lastRefill).Seconds()
	rate := float64(l.cfg.Requests) / l.cfg.Window.Seconds()
	state.tokens += elapsed * rate
	if state.tokens > float64(l.cfg.Burst) {
		state.tokens = float64(l.cfg.Burst)
	}
	state.lastRefill = now

	if state.tokens >= 1 {
		state.tokens--
		return Result{
			Allowed:   true,
			Remaining: int(state.tokens),
			Limit:     l.cfg.Requests,
			Window:    l.cfg.Window,
		}
	}

	retryAfter := time.Duration((1 - state.tokens) / rate * float64(time.Second))
	return Result{
		Allowed:    false,
		Remaining:  0,
		RetryAfter: retryAfter,
		Limit:      l.cfg.Requests,
		Window:     l.cfg.Window,
	}
}

func (l *Limiter) allowSlidingWindow(state *keyState) Result {
	now := time.Now()
	cutoff := now.Add(-l.cfg.Window)

	pruned := state.timestamps[:0]
	for _, ts := range state.timestamps {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}
	state.timestamps = pruned

	if len(state.timestamps) < l.cfg.Requests {
		state.timestamps = append(state.timestamps, now)
		return Result{
			Allowed:   true,
			Remaining: l.cfg.Requests - len(state.timestamps),
			Limit:     l.cfg.Requests,
			Window:    l.cfg.Window,
		}
	}

	oldest := state.timestamps[0]
	retryAfter := oldest.Sub(now.Add(-l.cfg.Window))
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Result{
		Allowed:    false,
		Remaining:  0,
		RetryAfter: retryAfter,
		Limit:      l.cfg.Requests,
		Window:     l.cfg.Window,
	}
}

func (l *Limiter) allowFixedWindow(state *keyState) Result {
	now := time.Now()
	if state.windowStart.IsZero() || now.Sub(state.windowStart) >= l.cfg.Window {
		state.windowStart = now
		state.count = 0
	}

	if state.count < l.cfg.Requests {
		state.count++
		return Result{
			Allowed:   true,
			Remaining: l.cfg.Requests - state.count,
			Limit:     l.cfg.Requests,
			Window:    l.cfg.Window,
		}
	}

	retryAfter := state.windowStart.Add(l.cfg.Window).Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Result{
		Allowed:    false,
		Remaining:  0,
		RetryAfter: retryAfter,
		Limit:      l.cfg.Requests,
		Window:     l.cfg.Window,
	}
}

// Wait blocks until key is admitted, sleeping for RetryAfter between
// attempts, then consumes the admission. Returns ctx.Err() if cancelled
// while waiting.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	for {
		result := l.Allow(key)
		if result.Allowed {
			return nil
		}
		wait := result.RetryAfter
		if wait <= 0 {
			wait = time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Cleanup removes per-key state whose last activity predates maxIdle.
func (l *Limiter) Cleanup(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, state := range l.states {
		if state.lastSeen.Before(cutoff) {
			delete(l.states, key)
			removed++
		}
	}
	return removed
}
