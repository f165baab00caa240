package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	sweepEvery = 5 * time.Minute
	staleAfter = 10 * time.Minute
)

// ipRateLimiter hands out one token bucket per client IP. Entries for
// IPs idle longer than staleAfter are swept inline on take() so no
// background goroutine is needed; a query API sees few distinct
// clients and the map stays small between sweeps.
type ipRateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	refill    rate.Limit
	burst     int
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newIPRateLimiter allows burst immediate requests per IP, refilling at
// perSecond tokens per second.
func newIPRateLimiter(perSecond float64, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		buckets:   make(map[string]*bucket),
		refill:    rate.Limit(perSecond),
		burst:     burst,
		lastSweep: time.Now(),
	}
}

// take consumes one token for ip, reporting whether the request may
// proceed.
func (l *ipRateLimiter) take(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.sweep(now)

	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.refill, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter.Allow()
}

// sweep drops buckets for IPs not seen recently. Caller holds the lock.
func (l *ipRateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) <= sweepEvery {
		return
	}
	for ip, b := range l.buckets {
		if now.Sub(b.lastSeen) > staleAfter {
			delete(l.buckets, ip)
		}
	}
	l.lastSweep = now
}

// rateLimitMiddleware rejects requests from IPs that have exhausted
// their token bucket with 429 and a Retry-After hint. A query can cost
// an embedding call plus a generation call upstream, so the limit sits
// in front of everything but the health endpoints.
func rateLimitMiddleware(l *ipRateLimiter, trustProxy bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, trustProxy)
			if !l.take(ip) {
				logger.Warn("rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
					"method", r.Method,
				)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP resolves the address used as the rate limit key. Proxy
// headers are consulted only when trustProxy is set, and their values
// must parse as IPs so a client cannot pick its own key with a crafted
// header. Without a trusted proxy only RemoteAddr counts.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip, ok := forwardedIP(r); ok {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// forwardedIP reads the client address a reverse proxy recorded,
// preferring X-Real-IP over the first entry of X-Forwarded-For.
func forwardedIP(r *http.Request) (string, bool) {
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
			return ip.String(), true
		}
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := xff
		if cut, _, ok := strings.Cut(xff, ","); ok {
			first = cut
		}
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String(), true
		}
	}
	return "", false
}
