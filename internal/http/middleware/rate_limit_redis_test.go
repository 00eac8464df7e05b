package middleware

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLimiterForTest(t *testing.T) (*miniredis.Miniredis, Limiter) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, NewRedisFixedWindowLimiter(client, "test_rl")
}

func TestRedisLimiterCountsPerKey(t *testing.T) {
	_, limiter := newRedisLimiterForTest(t)
	ctx := context.Background()
	policy := RateLimitPolicy{Limit: 2, Window: time.Minute}

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "pin:10.0.0.1", policy)
		if err != nil || !d.Allowed {
			t.Fatalf("hit %d: allowed=%v err=%v", i+1, d.Allowed, err)
		}
	}
	d, err := limiter.Allow(ctx, "pin:10.0.0.1", policy)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected denial past the limit")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %s", d.RetryAfter)
	}

	// A different key has its own budget.
	d, err = limiter.Allow(ctx, "pin:10.0.0.2", policy)
	if err != nil || !d.Allowed {
		t.Fatalf("other key: allowed=%v err=%v", d.Allowed, err)
	}
}

func TestRedisLimiterResetsNextWindow(t *testing.T) {
	server, limiter := newRedisLimiterForTest(t)
	ctx := context.Background()
	policy := RateLimitPolicy{Limit: 1, Window: time.Second}

	if d, err := limiter.Allow(ctx, "k", policy); err != nil || !d.Allowed {
		t.Fatalf("first: allowed=%v err=%v", d.Allowed, err)
	}
	if d, _ := limiter.Allow(ctx, "k", policy); d.Allowed {
		t.Fatal("expected denial within the window")
	}

	// Jump past the bucket boundary; the key expires and the next bucket
	// starts fresh.
	server.FastForward(2 * time.Second)
	if d, err := limiter.Allow(ctx, "k", policy); err != nil || !d.Allowed {
		t.Fatalf("after window: allowed=%v err=%v", d.Allowed, err)
	}
}

func TestRedisLimiterSurfacesBackendErrors(t *testing.T) {
	server, limiter := newRedisLimiterForTest(t)
	server.Close()

	if _, err := limiter.Allow(context.Background(), "k", RateLimitPolicy{Limit: 1, Window: time.Minute}); err == nil {
		t.Fatal("expected an error from a dead backend")
	}
}
