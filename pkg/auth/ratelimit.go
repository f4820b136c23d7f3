package auth

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/txn2/mcp-weather/pkg/jsonrpc"
	"github.com/txn2/mcp-weather/pkg/metrics"
)

// Rate limiter defaults.
const (
	DefaultRequestsPerSecond = 10
	DefaultBurst             = 20
	DefaultLimiterIdle       = 10 * time.Minute

	msgRateLimited = "Rate limit exceeded. Please slow down."
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter provides per-key token bucket limiting.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	rate      rate.Limit
	burst     int
	idle      time.Duration
	lastPrune time.Time
	now       func() time.Time
}

// NewRateLimiter creates a limiter allowing requestsPerSecond with the
// given burst per key. Keys idle longer than idle are forgotten.
func NewRateLimiter(requestsPerSecond float64, burst int, idle time.Duration) *RateLimiter {
	if idle <= 0 {
		idle = DefaultLimiterIdle
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		idle:     idle,
		now:      time.Now,
	}
}

// DefaultRateLimiter returns a limiter of 10 requests/second with burst 20.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(DefaultRequestsPerSecond, DefaultBurst, DefaultLimiterIdle)
}

// Allow reports whether a request for key may proceed.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	now := r.now()
	if now.Sub(r.lastPrune) >= r.idle {
		r.pruneLocked(now)
	}
	e, ok := r.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(r.rate, r.burst)}
		r.limiters[key] = e
	}
	e.lastSeen = now
	r.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// Cleanup removes limiters not used within maxAge.
func (r *RateLimiter) Cleanup(maxAge time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for k, e := range r.limiters {
		if now.Sub(e.lastSeen) > maxAge {
			delete(r.limiters, k)
		}
	}
}

// Len returns the number of tracked keys.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}

func (r *RateLimiter) pruneLocked(now time.Time) {
	r.lastPrune = now
	for k, e := range r.limiters {
		if now.Sub(e.lastSeen) > r.idle {
			delete(r.limiters, k)
		}
	}
}

// RateLimitMiddleware limits requests per authenticated tenant, falling
// back to the client address. Must run after Middleware.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := TenantID(r)
			if key == "" {
				key = remoteHost(r)
			}

			if !limiter.Allow(key) {
				metrics.RateLimited.Inc()
				w.Header().Set("Retry-After", strconv.Itoa(1))
				jsonrpc.WriteError(w, http.StatusTooManyRequests, jsonrpc.FromContext(r.Context()).ID(),
					jsonrpc.NewError(jsonrpc.CodeRateLimited, msgRateLimited, nil))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
