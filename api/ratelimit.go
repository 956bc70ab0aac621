package api

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"
)

// rateLimiter is a token-bucket set keyed by caller IP. One limiter guards
// one endpoint class (reads or mutations); budgets are per minute with the
// full budget as burst.
type rateLimiter struct {
	mu      sync.Mutex
	perMin  float64
	burst   float64
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newRateLimiter(perMin int) *rateLimiter {
	if perMin < 1 {
		perMin = 1
	}
	return &rateLimiter{
		perMin:  float64(perMin),
		burst:   float64(perMin),
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// allow takes one token for key. When the bucket is dry it reports how long
// until the next token accrues.
func (l *rateLimiter) allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, last: now}
		l.buckets[key] = b
		l.pruneLocked(now)
	}

	elapsed := now.Sub(b.last).Minutes()
	b.tokens = math.Min(l.burst, b.tokens+elapsed*l.perMin)
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	wait := time.Duration((1 - b.tokens) / l.perMin * float64(time.Minute))
	return false, wait
}

// pruneLocked drops buckets idle long enough to be full again. Called on
// inserts so the map cannot grow without bound.
func (l *rateLimiter) pruneLocked(now time.Time) {
	if len(l.buckets) < 4096 {
		return
	}
	for key, b := range l.buckets {
		if now.Sub(b.last) > 10*time.Minute {
			delete(l.buckets, key)
		}
	}
}

// middleware rejects over-budget callers with 429 and a Retry-After hint.
func (l *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := l.allow(clientIP(r))
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
			writeAPIError(w, http.StatusTooManyRequests, "rate-limited",
				"request budget exceeded; retry later", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the caller address; middleware.RealIP has already
// folded X-Forwarded-For into RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
