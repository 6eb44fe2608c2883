package ratelimiter

import (
	"testing"
	"time"
)

func TestTokenBucketAllowsUpToBurstThenDenies(t *testing.T) {
	l := New(Config{Requests: 2, Window: time.Second, Burst: 2, Algorithm: AlgorithmTokenBucket}, "", 0, nil, nil)
	defer l.Shutdown()

	if r := l.Allow("client:1"); !r.Allowed {
		t.Fatal("expected first request to be allowed")
	}
	if r := l.Allow("client:1"); !r.Allowed {
		t.Fatal("expected second request to be allowed (within burst)")
	}
	r := l.Allow("client:1")
	if r.Allowed {
		t.Fatal("expected third request to be denied")
	}
	if r.RetryAfter <= 0 {
		t.Fatal("expected a positive retry-after on denial")
	}
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	l := New(Config{Requests: 10, Window: time.Second, Burst: 1, Algorithm: AlgorithmTokenBucket}, "", 0, nil, nil)
	defer l.Shutdown()

	if r := l.Allow("k"); !r.Allowed {
		t.Fatal("expected first request allowed")
	}
	if r := l.Allow("k"); r.Allowed {
		t.Fatal("expected immediate second request denied at burst=1")
	}

	time.Sleep(150 * time.Millisecond)
	if r := l.Allow("k"); !r.Allowed {
		t.Fatal("expected request allowed after refill window elapsed")
	}
}

func TestZeroRequestsDeniesEveryCall(t *testing.T) {
	l := New(Config{Requests: 0, Window: time.Second, Algorithm: AlgorithmFixedWindow}, "", 0, nil, nil)
	defer l.Shutdown()

	for i := 0; i < 3; i++ {
		if r := l.Allow("k"); r.Allowed {
			t.Fatalf("iteration %d: expected requests=0 to deny every call", i)
		}
	}
}

func TestSlidingWindowAdmitsUpToLimit(t *testing.T) {
	l := New(Config{Requests: 2, Window: 200 * time.Millisecond, Algorithm: AlgorithmSlidingWindow}, "", 0, nil, nil)
	defer l.Shutdown()

	if r := l.Allow("k"); !r.Allowed {
		t.Fatal("expected first allowed")
	}
	if r := l.Allow("k"); !r.Allowed {
		t.Fatal("expected second allowed")
	}
	if r := l.Allow("k"); r.Allowed {
		t.Fatal("expected third denied within window")
	}

	time.Sleep(250 * time.Millisecond)
	if r := l.Allow("k"); !r.Allowed {
		t.Fatal("expected admission after window slides past old entries")
	}
}

func TestFixedWindowResetsOnBoundary(t *testing.T) {
	l := New(Config{Requests: 1, Window: 100 * time.Millisecond, Algorithm: AlgorithmFixedWindow}, "", 0, nil, nil)
	defer l.Shutdown()

	if r := l.Allow("k"); !r.Allowed {
		t.Fatal("expected first request in window allowed")
	}
	if r := l.Allow("k"); r.Allowed {
		t.Fatal("expected second request in same window denied")
	}

	time.Sleep(150 * time.Millisecond)
	if r := l.Allow("k"); !r.Allowed {
		t.Fatal("expected request allowed in the next window")
	}
}

func TestDisabledBypassesAllChecks(t *testing.T) {
	l := New(Config{Requests: 1, Window: time.Second, Algorithm: AlgorithmFixedWindow}, "", 0, nil, nil)
	defer l.Shutdown()
	l.Enabled = false

	for i := 0; i < 5; i++ {
		if r := l.Allow("k"); !r.Allowed {
			t.Fatalf("iteration %d: expected disabled limiter to allow everything", i)
		}
	}
}

func TestCleanupRemovesIdleKeys(t *testing.T) {
	l := New(Config{Requests: 1, Window: time.Second, Algorithm: AlgorithmFixedWindow}, "", 0, nil, nil)
	defer l.Shutdown()

	l.Allow("stale")
	time.Sleep(20 * time.Millisecond)
	removed := l.Cleanup(10 * time.Millisecond)
	if removed != 1 {
		t.Fatalf("expected 1 idle key removed, got %d", removed)
	}
}
