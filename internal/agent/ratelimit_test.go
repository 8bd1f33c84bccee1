package agent

import (
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("a") {
		t.Fatal("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Fatal("limits are per key")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(1, 50*time.Millisecond)
	defer rl.Stop()

	if !rl.Allow("a") || rl.Allow("a") {
		t.Fatal("expected one request per window")
	}
	time.Sleep(80 * time.Millisecond)
	if !rl.Allow("a") {
		t.Fatal("request should pass once the window has moved")
	}
}

func TestRateLimiterDefaultsAndStop(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(0, 0)
	if rl.limit != 10 || rl.window != time.Minute {
		t.Fatalf("unexpected defaults %d %s", rl.limit, rl.window)
	}
	rl.Stop()
	rl.Stop()
}
