package api

import (
	"testing"
	"time"
)

func TestIPRateLimiterPerIPBuckets(t *testing.T) {
	l := newIPRateLimiter(0.01, 2)

	if !l.take("10.0.0.1") || !l.take("10.0.0.1") {
		t.Fatal("burst of 2 should admit the first two requests")
	}
	if l.take("10.0.0.1") {
		t.Error("third request should be rejected before refill")
	}
	if !l.take("10.0.0.2") {
		t.Error("a different IP has its own bucket")
	}
}

func TestIPRateLimiterSweepsStaleBuckets(t *testing.T) {
	l := newIPRateLimiter(0.01, 2)
	l.take("10.0.0.1")
	l.take("10.0.0.2")

	// Age one bucket past the stale threshold and force a sweep on the
	// next take.
	l.mu.Lock()
	l.buckets["10.0.0.1"].lastSeen = time.Now().Add(-2 * staleAfter)
	l.lastSweep = time.Now().Add(-2 * sweepEvery)
	l.mu.Unlock()

	l.take("10.0.0.3")

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.buckets["10.0.0.1"]; ok {
		t.Error("stale bucket should have been swept")
	}
	if _, ok := l.buckets["10.0.0.2"]; !ok {
		t.Error("recently seen bucket should survive the sweep")
	}
}
