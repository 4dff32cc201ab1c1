package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/httputil"
)

const limiterIdleTTL = 3 * time.Minute

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// limiterStore keeps one token bucket per client IP and evicts idle ones.
type limiterStore struct {
	limiters sync.Map
	rps      rate.Limit
	burst    int
}

func newLimiterStore(ctx context.Context, rps float64, burst int) *limiterStore {
	s := &limiterStore{rps: rate.Limit(rps), burst: burst}
	go s.evictLoop(ctx)
	return s
}

func (s *limiterStore) get(ip string, now time.Time) *rate.Limiter {
	v, ok := s.limiters.Load(ip)
	if !ok {
		v, _ = s.limiters.LoadOrStore(ip, &ipLimiter{limiter: rate.NewLimiter(s.rps, s.burst)})
	}
	entry := v.(*ipLimiter)
	entry.lastSeen.Store(now.UnixNano())
	return entry.limiter
}

func (s *limiterStore) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.evict(now)
		}
	}
}

func (s *limiterStore) evict(now time.Time) {
	cutoff := now.Add(-limiterIdleTTL).UnixNano()
	s.limiters.Range(func(key, value any) bool {
		if value.(*ipLimiter).lastSeen.Load() < cutoff {
			s.limiters.Delete(key)
		}
		return true
	})
}

// clientIP uses RemoteAddr only. X-Forwarded-For is client controlled and
// would let callers pick their own bucket.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// RateLimitMiddleware enforces a per-IP token bucket of rps sustained
// requests per second with the given burst. The eviction goroutine stops
// when ctx is done.
func RateLimitMiddleware(ctx context.Context, rps float64, burst int) mux.MiddlewareFunc {
	store := newLimiterStore(ctx, rps, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !store.get(clientIP(r), time.Now()).Allow() {
				httputil.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
