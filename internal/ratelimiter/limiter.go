// Package ratelimiter implements per-key request admission under three
// pluggable algorithms: token bucket, sliding window, and fixed window.
package ratelimiter

import "time"

// Algorithm selects the admission strategy for a key's state.
type Algorithm string

const (
	AlgorithmTokenBucket    Algorithm = "token_bucket"
	AlgorithmSlidingWindow  Algorithm = "sliding_window"
	AlgorithmFixedWindow    Algorithm = "fixed_window"
)

// Config describes a rate limit: max requests per window, the window
// length, burst capacity (token bucket only), and which algorithm governs
// the key.
type Config struct {
	Requests  int
	Window    time.Duration
	Burst     int
	Algorithm Algorithm
}

// Result is the outcome of an admission check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	Limit      int
	Window     time.Duration
}

// keyState is the algorithm-specific per-key state, guarded by the limiter's
// mutex.
type keyState struct {
	algorithm Algorithm
	lastSeen  time.Time

	// token bucket
	tokens     float64
	lastRefill time.Time

	// sliding window
	timestamps []time.Time

	// fixed window
	windowStart time.Time
	count       int
}
