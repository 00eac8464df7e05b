package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(okHandler())
	rr := doRequest(h, "10.0.0.1:1234")

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := rr.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	h := CORS([]string{"https://portal.example.edu"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tablets", nil)
	req.Header.Set("Origin", "https://portal.example.edu")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://portal.example.edu" {
		t.Fatalf("expected origin echoed, got %q", got)
	}

	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected unknown origin rejected, got %q", got)
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	called := false
	h := CORS([]string{"*"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/tablets", nil)
	req.Header.Set("Origin", "https://portal.example.edu")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rr.Code)
	}
	if called {
		t.Fatal("expected preflight not to reach the handler")
	}
}

func TestBodyLimitRejectsOversizedPayload(t *testing.T) {
	h := BodyLimit(16)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader(strings.Repeat("x", 64)))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

func TestRequestIDEchoedToClient(t *testing.T) {
	h := RequestID(okHandler())
	rr := doRequest(h, "10.0.0.1:1234")
	if rr.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected X-Request-Id on the response")
	}
}
