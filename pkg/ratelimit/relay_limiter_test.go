package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestFixedWindowLimiterLocal(t *testing.T) {
	limiter := NewFixedWindowLimiter(nil, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !limiter.Allow(ctx, "login:1.2.3.4") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if limiter.Allow(ctx, "login:1.2.3.4") {
		t.Error("request over the limit should be denied")
	}

	// A different key gets its own window.
	if !limiter.Allow(ctx, "login:5.6.7.8") {
		t.Error("unrelated key should be allowed")
	}
}

func TestFixedWindowLimiterWindowReset(t *testing.T) {
	limiter := NewFixedWindowLimiter(nil, 1, 10*time.Millisecond)
	ctx := context.Background()

	if !limiter.Allow(ctx, "k") {
		t.Fatal("first request should be allowed")
	}
	if limiter.Allow(ctx, "k") {
		t.Fatal("second request in the same window should be denied")
	}

	time.Sleep(20 * time.Millisecond)
	if !limiter.Allow(ctx, "k") {
		t.Error("request after window reset should be allowed")
	}
}
