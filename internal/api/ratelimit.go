package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientIdle is how long a client bucket survives without requests.
const clientIdle = 5 * time.Minute

// submitRoutes are the POST routes that start screening work or write files.
var submitRoutes = map[string]bool{
	"/api/v1/jobs":    true,
	"/api/v1/process": true,
	"/api/v1/uploads": true,
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// clientLimits hands out one token bucket per client address. Idle buckets
// are swept lazily on the request path.
type clientLimits struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	every     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func newClientLimits(perSecond int) *clientLimits {
	return &clientLimits{
		buckets: make(map[string]*bucket),
		every:   rate.Limit(perSecond),
		burst:   perSecond,
		now:     time.Now,
	}
}

func (c *clientLimits) allow(client string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastSweep) > clientIdle {
		for k, b := range c.buckets {
			if now.Sub(b.seen) > clientIdle {
				delete(c.buckets, k)
			}
		}
		c.lastSweep = now
	}

	b := c.buckets[client]
	if b == nil {
		b = &bucket{lim: rate.NewLimiter(c.every, c.burst)}
		c.buckets[client] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// RateLimit caps work-creating POSTs at perSecond requests per client, with a
// burst of the same size. Zero disables it.
func RateLimit(perSecond int) Middleware {
	if perSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limits := newClientLimits(perSecond)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && submitRoutes[r.URL.Path] && !limits.allow(clientIP(r)) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers the first X-Forwarded-For hop, then the remote host.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
