// Package request stamps every request with a correlation ID and a pinned
// request time.
package request

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"backoffice/pkg/requestcontext"
)

// HeaderRequestID is echoed on responses and accepted from trusted proxies.
const HeaderRequestID = "X-Request-ID"

const maxRequestIDLen = 128

// RequestID reuses an inbound X-Request-ID or mints a new one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(requestcontext.WithRequestID(r.Context(), id)))
	})
}

// Time pins one "now" for the request so tokens, job timestamps and audit
// events issued while serving it agree.
func Time(next http.Handler) http.Handler {
	return TimeWithClock(time.Now)(next)
}

// TimeWithClock is Time with an injectable clock.
func TimeWithClock(now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestcontext.WithTime(r.Context(), now())))
		})
	}
}
