package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// Limiter provides per-client sliding window limiting.
type Limiter struct {
	window   time.Duration
	maxCalls int
	mu       sync.Mutex
	clients  map[string][]time.Time
	now      func() time.Time
}

// New creates a limiter with maxCalls per window.
func New(maxCalls int, window time.Duration) *Limiter {
	return &Limiter{
		window:   window,
		maxCalls: maxCalls,
		clients:  make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Allow checks and records a new request.
func (l *Limiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	windowStart := now.Add(-l.window)

	times := l.clients[client]
	// drop old timestamps
	pruned := times[:0]
	for _, t := range times {
		if t.After(windowStart) {
			pruned = append(pruned, t)
		}
	}
	if len(pruned) == 0 {
		delete(l.clients, client)
	} else {
		l.clients[client] = pruned
	}

	if len(pruned) >= l.maxCalls {
		return false
	}
	l.clients[client] = append(pruned, now)
	return true
}

// Middleware rejects clients over the limit with 429. Clients are keyed by
// RemoteAddr, so it belongs after middleware.RealIP.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientKey(r.RemoteAddr)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
