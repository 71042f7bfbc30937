package app

import (
	"net"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// ipLimiter hands out one token bucket per client address. Buckets idle
// for longer than the cache expiry are dropped and start full again.
type ipLimiter struct {
	buckets *gocache.Cache
	every   time.Duration
	burst   int
}

func newIPLimiter(perMinute, burst int) *ipLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &ipLimiter{
		buckets: gocache.New(10*time.Minute, 20*time.Minute),
		every:   time.Minute / time.Duration(perMinute),
		burst:   burst,
	}
}

func (l *ipLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	if v, ok := l.buckets.Get(key); ok {
		return v.(*rate.Limiter).Allow()
	}
	limiter := rate.NewLimiter(rate.Every(l.every), l.burst)
	if err := l.buckets.Add(key, limiter, gocache.DefaultExpiration); err != nil {
		if v, ok := l.buckets.Get(key); ok {
			limiter = v.(*rate.Limiter)
		}
	}
	return limiter.Allow()
}

// limited rejects callers that exceed the auth rate with 429.
func (s *HTTPServer) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests, try again later", nil)
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
