// internal/app/system/ratelimit/ratelimit.go
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Limiter counts requests per key in fixed windows. It is safe for
// concurrent use; expired windows are purged by go-cache's janitor.
type Limiter struct {
	counts *gocache.Cache
	limit  int
	window time.Duration
}

// New allows limit requests per key every window.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		counts: gocache.New(window, 2*window),
		limit:  limit,
		window: window,
	}
}

// Allow records one request for key and reports whether it is within the limit.
func (l *Limiter) Allow(key string) bool {
	// Add only succeeds for the first request of a window.
	if err := l.counts.Add(key, 1, l.window); err == nil {
		return l.limit >= 1
	}
	n, err := l.counts.IncrementInt(key, 1)
	if err != nil {
		// Window expired between Add and Increment.
		l.counts.Set(key, 1, l.window)
		return l.limit >= 1
	}
	return n <= l.limit
}

// Remaining returns how many requests are left for key in the current window.
func (l *Limiter) Remaining(key string) int {
	v, ok := l.counts.Get(key)
	if !ok {
		return l.limit
	}
	if rem := l.limit - v.(int); rem > 0 {
		return rem
	}
	return 0
}

// Middleware rejects requests over the per-IP limit with 429 and a JSON body.
// Allowed responses carry X-RateLimit-Remaining. onLimit, when non-nil, is
// called for each rejected request.
func (l *Limiter) Middleware(logger *zap.Logger, onLimit func(*http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			if !l.Allow(ip) {
				logger.Warn("rate limit exceeded",
					zap.String("ip", ip),
					zap.String("path", r.URL.Path))
				if onLimit != nil {
					onLimit(r)
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(l.window.Seconds())))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"message":"Too many requests, please try again later."}` + "\n"))
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(l.Remaining(ip)))
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the host part of r.RemoteAddr. Forwarding headers are
// client-controlled and never read here; deployments behind a trusted proxy
// mount middleware.RealIP ahead of the limiter so RemoteAddr is already the
// proxy-reported address.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
