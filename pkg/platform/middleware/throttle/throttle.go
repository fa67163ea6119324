// Package throttle limits request rates per client key with token buckets.
package throttle

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	dErrors "backoffice/pkg/domain-errors"
	"backoffice/pkg/platform/httputil"
	"backoffice/pkg/platform/middleware/metadata"
	"backoffice/pkg/requestcontext"
)

const idleEviction = 10 * time.Minute

// KeyFunc selects the bucket for a request.
type KeyFunc func(r *http.Request) string

// ByClientIP buckets requests by the resolved client IP.
func ByClientIP(r *http.Request) string {
	if ip := requestcontext.ClientIP(r.Context()); ip != "" {
		return ip
	}
	return metadata.ClientIPFromRequest(r)
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter holds one token bucket per key.
type Limiter struct {
	limit rate.Limit
	burst int
	key   KeyFunc

	mu      sync.Mutex
	buckets map[string]*entry
	swept   time.Time
}

// PerMinute allows n requests per minute per key with a burst of n.
func PerMinute(n int, key KeyFunc) *Limiter {
	if n <= 0 {
		n = 1
	}
	return &Limiter{
		limit:   rate.Every(time.Minute / time.Duration(n)),
		burst:   n,
		key:     key,
		buckets: make(map[string]*entry),
	}
}

// Allow consumes a token for key at now.
func (l *Limiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) > idleEviction {
		for k, e := range l.buckets {
			if now.Sub(e.lastSeen) > idleEviction {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}

	e, ok := l.buckets[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Middleware rejects requests over the limit with 429.
func (l *Limiter) Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := l.key(r)
			if !l.Allow(key, time.Now()) {
				logger.WarnContext(r.Context(), "request throttled",
					"key", key,
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(r.Context()),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many attempts, try again later"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
