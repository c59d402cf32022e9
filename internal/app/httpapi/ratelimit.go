package httpapi

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter tracks one token bucket per client IP and evicts buckets that
// have been idle for a while. Eviction piggybacks on allow, so the limiter
// needs no background goroutine and nothing to shut down.
type clientLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*clientBucket
	rate      rate.Limit
	burst     int
	lastSweep time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const (
	bucketIdleTTL = 5 * time.Minute
	sweepInterval = time.Minute
)

func newClientLimiter(perSecond float64, burst int) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{
		limiters:  make(map[string]*clientBucket),
		rate:      rate.Limit(perSecond),
		burst:     burst,
		lastSweep: time.Now(),
	}
}

func (cl *clientLimiter) allow(client string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	now := time.Now()
	if now.Sub(cl.lastSweep) >= sweepInterval {
		cl.sweepLocked(now)
	}

	b, ok := cl.limiters[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(cl.rate, cl.burst)}
		cl.limiters[client] = b
	}
	b.lastSeen = now
	return b.limiter.Allow()
}

func (cl *clientLimiter) sweepLocked(now time.Time) {
	cutoff := now.Add(-bucketIdleTTL)
	for client, b := range cl.limiters {
		if b.lastSeen.Before(cutoff) {
			delete(cl.limiters, client)
		}
	}
	cl.lastSweep = now
}

// rateLimit wraps next with a per-client-IP token bucket. Over-limit requests
// get 429.
func rateLimit(perSecond float64, burst int, next http.Handler) http.Handler {
	cl := newClientLimiter(perSecond, burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			client = r.RemoteAddr
		}
		if !cl.allow(client) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
