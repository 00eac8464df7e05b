package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var errBackendDown = errors.New("backend down")

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func doRequest(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tablets", nil)
	req.RemoteAddr = remoteAddr
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	h := NewRateLimiter(3, time.Minute, "test").Middleware()(okHandler())

	for i := 0; i < 3; i++ {
		if rr := doRequest(h, "10.0.0.1:1234"); rr.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected 204, got %d", i+1, rr.Code)
		}
	}
	rr := doRequest(h, "10.0.0.1:1234")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 past the limit, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on denial")
	}
}

func TestRateLimiterKeysByClientIP(t *testing.T) {
	h := NewRateLimiter(1, time.Minute, "test").Middleware()(okHandler())

	if rr := doRequest(h, "10.0.0.1:1234"); rr.Code != http.StatusNoContent {
		t.Fatalf("first client: expected 204, got %d", rr.Code)
	}
	if rr := doRequest(h, "10.0.0.2:1234"); rr.Code != http.StatusNoContent {
		t.Fatalf("second client: expected independent budget, got %d", rr.Code)
	}
	if rr := doRequest(h, "10.0.0.1:1234"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("first client again: expected 429, got %d", rr.Code)
	}
}

func TestRateLimiterHonorsForwardedFor(t *testing.T) {
	h := NewRateLimiter(1, time.Minute, "test").Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tablets", nil)
	req.RemoteAddr = "127.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for repeated forwarded client, got %d", rr.Code)
	}
}

func TestLocalLimiterWindowSlides(t *testing.T) {
	limiter := NewLocalSlidingWindowLimiter()
	policy := RateLimitPolicy{Limit: 2, Window: 50 * time.Millisecond}

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(context.Background(), "k", policy)
		if err != nil || !d.Allowed {
			t.Fatalf("hit %d: allowed=%v err=%v", i+1, d.Allowed, err)
		}
	}
	if d, _ := limiter.Allow(context.Background(), "k", policy); d.Allowed {
		t.Fatal("expected denial at the limit")
	}

	time.Sleep(60 * time.Millisecond)
	if d, _ := limiter.Allow(context.Background(), "k", policy); !d.Allowed {
		t.Fatal("expected the window to slide open again")
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, RateLimitPolicy) (Decision, error) {
	return Decision{}, errBackendDown
}

func TestFailureModes(t *testing.T) {
	open := NewRateLimiterWithBackend(failingLimiter{}, 1, time.Minute, FailOpen, "test", nil).Middleware()(okHandler())
	if rr := doRequest(open, "10.0.0.1:1234"); rr.Code != http.StatusNoContent {
		t.Fatalf("fail-open: expected 204, got %d", rr.Code)
	}

	closed := NewRateLimiterWithBackend(failingLimiter{}, 1, time.Minute, FailClosed, "test", nil).Middleware()(okHandler())
	if rr := doRequest(closed, "10.0.0.1:1234"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("fail-closed: expected 429, got %d", rr.Code)
	}
}
