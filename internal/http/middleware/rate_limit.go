package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/polytech-platform/traffic-attendance-service/internal/http/response"
	"github.com/polytech-platform/traffic-attendance-service/internal/observability"
)

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	ResetAt    time.Time
}

type RateLimitPolicy struct {
	Limit  int
	Window time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error)
}

type FailureMode string

const (
	// FailOpen lets traffic through when the limiter backend is down.
	// Used for the broad API limiter where availability wins.
	FailOpen FailureMode = "fail_open"
	// FailClosed rejects when the backend is down. Used for PIN lookups,
	// where an open gate invites scanning.
	FailClosed FailureMode = "fail_closed"
)

// RateLimiter is the HTTP wrapper around a Limiter backend.
type RateLimiter struct {
	limiter Limiter
	policy  RateLimitPolicy
	mode    FailureMode
	scope   string
	keyFunc func(r *http.Request) string
}

func NewRateLimiter(limit int, window time.Duration, scope string) *RateLimiter {
	return NewRateLimiterWithBackend(NewLocalSlidingWindowLimiter(), limit, window, FailClosed, scope, nil)
}

func NewRateLimiterWithBackend(
	limiter Limiter,
	limit int,
	window time.Duration,
	mode FailureMode,
	scope string,
	keyFunc func(r *http.Request) string,
) *RateLimiter {
	if scope == "" {
		scope = "api"
	}
	if keyFunc == nil {
		keyFunc = clientIPKey
	}
	return &RateLimiter{
		limiter: limiter,
		policy:  normalizePolicy(RateLimitPolicy{Limit: limit, Window: window}),
		mode:    mode,
		scope:   scope,
		keyFunc: keyFunc,
	}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFunc(r)
			if key == "" {
				key = clientIPKey(r)
			}
			decision, err := rl.limiter.Allow(r.Context(), rl.scope+":"+key, rl.policy)
			if err != nil {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error")
				if rl.mode == FailOpen {
					slog.WarnContext(r.Context(), "rate limiter backend unavailable, allowing request",
						"scope", rl.scope, "error", err)
					next.ServeHTTP(w, r)
					return
				}
				writeRateLimitHeaders(w.Header(), rl.policy.Limit, 0, time.Now().Add(rl.policy.Window))
				w.Header().Set("Retry-After", retryAfterHeader(rl.policy.Window))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			writeRateLimitHeaders(w.Header(), rl.policy.Limit, decision.Remaining, decision.ResetAt)
			if !decision.Allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny")
				w.Header().Set("Retry-After", retryAfterHeader(decision.RetryAfter))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow")
			next.ServeHTTP(w, r)
		})
	}
}

// localSlidingWindowLimiter keeps per-key hit timestamps in memory. Suitable
// for a single instance; the Redis limiter covers fleets.
type localSlidingWindowLimiter struct {
	mu      sync.Mutex
	store   map[string][]time.Time
	cleanup time.Time
}

func NewLocalSlidingWindowLimiter() Limiter {
	return &localSlidingWindowLimiter{
		store:   make(map[string][]time.Time),
		cleanup: time.Now().Add(time.Minute),
	}
}

func (l *localSlidingWindowLimiter) Allow(_ context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.cleanup) {
		cutoff := now.Add(-2 * policy.Window)
		for k, hits := range l.store {
			if len(hits) == 0 || hits[len(hits)-1].Before(cutoff) {
				delete(l.store, k)
			}
		}
		l.cleanup = now.Add(policy.Window)
	}

	cutoff := now.Add(-policy.Window)
	hits := l.store[key]
	pruned := hits[:0]
	for _, hit := range hits {
		if hit.After(cutoff) {
			pruned = append(pruned, hit)
		}
	}

	if len(pruned) >= policy.Limit {
		retryAfter := pruned[0].Add(policy.Window).Sub(now)
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		l.store[key] = pruned
		return Decision{
			Allowed:    false,
			RetryAfter: retryAfter,
			Remaining:  0,
			ResetAt:    now.Add(retryAfter),
		}, nil
	}

	pruned = append(pruned, now)
	l.store[key] = pruned
	resetAt := pruned[0].Add(policy.Window)
	return Decision{
		Allowed:   true,
		Remaining: policy.Limit - len(pruned),
		ResetAt:   resetAt,
	}, nil
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds <= 0 {
		seconds = 1
	}
	return fmt.Sprintf("%d", seconds)
}

func writeRateLimitHeaders(h http.Header, limit, remaining int, resetAt time.Time) {
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", max(limit, 0)))
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", max(remaining, 0)))
	if resetAt.IsZero() {
		resetAt = time.Now().Add(time.Second)
	}
	h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))
}

func normalizePolicy(policy RateLimitPolicy) RateLimitPolicy {
	if policy.Limit <= 0 {
		policy.Limit = 1
	}
	if policy.Window <= 0 {
		policy.Window = time.Minute
	}
	return policy
}

func clientIPKey(r *http.Request) string {
	if ip := parseRequestIP(r); ip != nil {
		return ip.String()
	}
	return r.RemoteAddr
}
