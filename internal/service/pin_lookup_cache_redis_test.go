package service

import (
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newRedisClientForTest starts an in-process redis and a client against it.
// miniredis.RunT handles server shutdown.
func newRedisClientForTest(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}

func TestRedisPINLookupCacheRoundTrip(t *testing.T) {
	server, client := newRedisClientForTest(t)
	cache := NewRedisPINLookupCache(client, "test_pins")
	ctx := context.Background()

	miss, err := cache.IsKnownMiss(ctx, "reg_pin", "123456")
	if err != nil || miss {
		t.Fatalf("expected clean cache, got miss=%v err=%v", miss, err)
	}

	if err := cache.RememberMiss(ctx, "reg_pin", "123456", time.Minute); err != nil {
		t.Fatalf("remember: %v", err)
	}
	miss, err = cache.IsKnownMiss(ctx, "reg_pin", "123456")
	if err != nil || !miss {
		t.Fatalf("expected cached miss, got miss=%v err=%v", miss, err)
	}

	// PINs must not be stored as plaintext keys.
	for _, key := range server.Keys() {
		if strings.Contains(key, "123456") {
			t.Fatalf("found plaintext pin in redis key %q", key)
		}
	}

	// TTL expiry drops the entry.
	server.FastForward(2 * time.Minute)
	miss, err = cache.IsKnownMiss(ctx, "reg_pin", "123456")
	if err != nil || miss {
		t.Fatalf("expected expired entry, got miss=%v err=%v", miss, err)
	}
}

func TestRedisPINLookupCacheInvalidate(t *testing.T) {
	_, client := newRedisClientForTest(t)
	cache := NewRedisPINLookupCache(client, "test_pins")
	ctx := context.Background()

	if err := cache.RememberMiss(ctx, "reg_pin", "111111", time.Minute); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if err := cache.RememberMiss(ctx, "display_pin", "222222", time.Minute); err != nil {
		t.Fatalf("remember: %v", err)
	}

	if err := cache.Invalidate(ctx, "reg_pin"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	miss, err := cache.IsKnownMiss(ctx, "reg_pin", "111111")
	if err != nil || miss {
		t.Fatalf("expected reg_pin namespace cleared, got miss=%v err=%v", miss, err)
	}
	miss, err = cache.IsKnownMiss(ctx, "display_pin", "222222")
	if err != nil || !miss {
		t.Fatalf("expected display_pin namespace intact, got miss=%v err=%v", miss, err)
	}
}

func TestRedisPINLookupCacheNilClient(t *testing.T) {
	cache := NewRedisPINLookupCache(nil, "")
	ctx := context.Background()

	if err := cache.RememberMiss(ctx, "reg_pin", "123456", time.Minute); err != nil {
		t.Fatalf("remember on nil client: %v", err)
	}
	miss, err := cache.IsKnownMiss(ctx, "reg_pin", "123456")
	if err != nil || miss {
		t.Fatalf("expected nil client to behave as noop, got miss=%v err=%v", miss, err)
	}
	if err := cache.Invalidate(ctx, "reg_pin"); err != nil {
		t.Fatalf("invalidate on nil client: %v", err)
	}
}
