package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisFixedWindowLimiter counts hits per key in window-aligned buckets.
// Fixed windows allow up to 2x the limit across a boundary, which is fine
// for abuse throttling and keeps the limiter to one INCR round trip.
type redisFixedWindowLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisFixedWindowLimiter(client redis.UniversalClient, prefix string) Limiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &redisFixedWindowLimiter{client: client, prefix: prefix}
}

func (l *redisFixedWindowLimiter) Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := time.Now()
	windowSeconds := int64(policy.Window.Seconds())
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	bucket := now.Unix() / windowSeconds
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, bucket)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, policy.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}

	count := incr.Val()
	resetAt := time.Unix((bucket+1)*windowSeconds, 0)
	if count > int64(policy.Limit) {
		return Decision{
			Allowed:    false,
			RetryAfter: time.Until(resetAt),
			Remaining:  0,
			ResetAt:    resetAt,
		}, nil
	}
	return Decision{
		Allowed:   true,
		Remaining: policy.Limit - int(count),
		ResetAt:   resetAt,
	}, nil
}
