package limits

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a per-client token bucket. Idle entries are dropped
// by Cleanup so the map does not grow with every IP ever seen.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	rps     rate.Limit
	burst   int
	ttl     time.Duration
}

func NewRateLimiter(rps float64, burst int, ttl time.Duration) *RateLimiter {
	return &RateLimiter{
		clients: map[string]*client{},
		rps:     rate.Limit(rps),
		burst:   burst,
		ttl:     ttl,
	}
}

func (rl *RateLimiter) Allow(ip string) bool {
	if rl.rps <= 0 {
		return true
	}
	rl.mu.Lock()
	c := rl.clients[ip]
	if c == nil {
		c = &client{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = time.Now()
	rl.mu.Unlock()
	return c.limiter.Allow()
}

func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for k, v := range rl.clients {
		if now.Sub(v.lastSeen) > rl.ttl {
			delete(rl.clients, k)
		}
	}
}

// ConnLimiter caps in-flight requests per client IP.
type ConnLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	limit  int
}

func NewConnLimiter(limit int) *ConnLimiter {
	return &ConnLimiter{counts: map[string]int{}, limit: limit}
}

func (cl *ConnLimiter) Allow(ip string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.limit > 0 && cl.counts[ip] >= cl.limit {
		return false
	}
	cl.counts[ip]++
	return true
}

func (cl *ConnLimiter) Done(ip string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.counts[ip] > 0 {
		cl.counts[ip]--
	}
	// Drop drained entries so the map does not track every IP ever seen.
	if cl.counts[ip] == 0 {
		delete(cl.counts, ip)
	}
}

func ClientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
