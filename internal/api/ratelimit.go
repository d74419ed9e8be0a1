package api

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter implements per-key fixed-window rate limiting.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*window
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type window struct {
	count    int
	windowAt time.Time
}

// NewRateLimiter creates a RateLimiter and starts background cleanup.
// Call Stop to end the cleanup goroutine.
func NewRateLimiter() *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*window),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-rl.stop:
				return
			case <-ticker.C:
				rl.cleanup()
			}
		}
	}()
	return rl
}

// Stop ends background cleanup.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// Allow checks if the key is within the rate limit (limit per 1-minute window).
func (rl *RateLimiter) Allow(key string, limit int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok || now.Sub(b.windowAt) >= time.Minute {
		rl.buckets[key] = &window{count: 1, windowAt: now}
		return true
	}
	if b.count >= limit {
		return false
	}
	b.count++
	return true
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-2 * time.Minute)
	for k, b := range rl.buckets {
		if b.windowAt.Before(cutoff) {
			delete(rl.buckets, k)
		}
	}
}

// withRateLimit wraps a token-checked handler with per-client limiting for
// one endpoint class.
func (s *Server) withRateLimit(class string, limit int, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := getClient(r.Context())
		if client == "" {
			client = "ip:" + clientIP(r)
		}
		key := fmt.Sprintf("%s:%s", class, client)
		if !s.rateLimiter.Allow(key, limit) {
			s.metrics.RecordRateLimited()
			logFor(r.Context()).Warn("rate limited", "class", class, "client", client)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded")
			return
		}
		handler(w, r)
	}
}

// clientIP extracts the client IP from the request, checking X-Forwarded-For first.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First IP in the chain is the original client
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
