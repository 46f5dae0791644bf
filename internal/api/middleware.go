package api

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/campwatch/campwatch/internal/api/respond"
)

// TimingMiddleware reports server-side handling time in X-Process-Time.
func TimingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		ms := float64(time.Since(start).Microseconds()) / 1000.0
		w.Header().Set("X-Process-Time", fmt.Sprintf("%.2fms", ms))
	})
}

// clientLimiters holds one token bucket per client IP. Buckets are created
// lazily and never evicted; the admin API sees a handful of clients.
type clientLimiters struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rate    rate.Limit
	burst   int
}

func (l *clientLimiters) allow(ip string) bool {
	l.mu.Lock()
	bucket, ok := l.buckets[ip]
	if !ok {
		bucket = rate.NewLimiter(l.rate, l.burst)
		l.buckets[ip] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow()
}

// RateLimitMiddleware limits each client IP to requestsPerWindow requests
// per window, with a burst of half the window budget.
func RateLimitMiddleware(requestsPerWindow int, window time.Duration) func(http.Handler) http.Handler {
	limiters := &clientLimiters{
		buckets: make(map[string]*rate.Limiter),
		rate:    rate.Limit(float64(requestsPerWindow) / window.Seconds()),
		burst:   requestsPerWindow / 2,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, _ := net.SplitHostPort(r.RemoteAddr)
			if ip == "" {
				ip = r.RemoteAddr
			}

			if !limiters.allow(ip) {
				w.Header().Set("Retry-After", "60")
				respond.WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
