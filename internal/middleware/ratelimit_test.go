package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func doRequest(h http.Handler, remoteAddr, xff string) int {
	req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
	req.RemoteAddr = remoteAddr
	if xff != "" {
		req.Header.Set("X-Forwarded-For", xff)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Code
}

func TestRateLimitMiddleware_AllowsWithinBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimitMiddleware(ctx, 10, 5)(okHandler)

	for i := 0; i < 5; i++ {
		if code := doRequest(handler, "192.168.1.1:12345", ""); code != http.StatusOK {
			t.Errorf("request %d: expected status 200, got %d", i+1, code)
		}
	}
}

func TestRateLimitMiddleware_BlocksOverLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimitMiddleware(ctx, 1, 2)(okHandler)

	for i := 0; i < 2; i++ {
		if code := doRequest(handler, "10.0.0.1:12345", ""); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, code)
		}
	}
	if code := doRequest(handler, "10.0.0.1:12345", ""); code != http.StatusTooManyRequests {
		t.Errorf("request 3: expected 429, got %d", code)
	}
	if code := doRequest(handler, "10.0.0.2:12345", ""); code != http.StatusOK {
		t.Errorf("other IP: expected 200, got %d", code)
	}
}

func TestRateLimitMiddleware_XForwardedForIgnored(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimitMiddleware(ctx, 1, 1)(okHandler)

	if code := doRequest(handler, "10.0.0.1:12345", "203.0.113.50"); code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", code)
	}
	if code := doRequest(handler, "10.0.0.1:12345", "198.51.100.99"); code != http.StatusTooManyRequests {
		t.Errorf("same RemoteAddr with different XFF: expected 429, got %d", code)
	}
}

func TestRateLimitMiddleware_WithMuxRouter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := mux.NewRouter()
	r.Use(RateLimitMiddleware(ctx, 1, 1))
	r.Handle("/notifications", okHandler).Methods(http.MethodGet)

	if code := doRequest(r, "10.0.0.1:12345", ""); code != http.StatusOK {
		t.Fatalf("mux request 1: expected 200, got %d", code)
	}
	if code := doRequest(r, "10.0.0.1:12345", ""); code != http.StatusTooManyRequests {
		t.Errorf("mux request 2: expected 429, got %d", code)
	}
}

func TestLimiterStoreEvictsIdle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newLimiterStore(ctx, 1, 1)

	now := time.Now()
	s.get("10.0.0.1", now.Add(-10*time.Minute))
	s.get("10.0.0.2", now)
	s.evict(now)

	if _, ok := s.limiters.Load("10.0.0.1"); ok {
		t.Error("expected idle limiter to be evicted")
	}
	if _, ok := s.limiters.Load("10.0.0.2"); !ok {
		t.Error("expected recent limiter to be kept")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		want       string
	}{
		{"with port", "192.168.1.1:8080", "192.168.1.1"},
		{"without port", "192.168.1.1", "192.168.1.1"},
		{"ipv6", "[::1]:8080", "::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
