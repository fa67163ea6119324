// Package metadata records the caller's IP and User-Agent on the request context.
package metadata

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"backoffice/pkg/requestcontext"
)

// Unknown is recorded when no address can be resolved.
const Unknown = "unknown"

// ClientMetadata stores the client IP and User-Agent. Apply it before
// anything that logs, throttles or audits by IP.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientMetadata(r.Context(), ClientIPFromRequest(r), r.Header.Get("User-Agent"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIPFromRequest prefers the first valid X-Forwarded-For hop, then
// X-Real-IP, then the socket peer. Values that do not parse as an IP are
// skipped so a malformed header cannot pick the throttle bucket.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, hop := range strings.Split(xff, ",") {
			if ip, ok := parseIP(hop); ok {
				return ip
			}
		}
	}
	if ip, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if ip, ok := parseIP(host); ok {
			return ip
		}
	}
	if ip, ok := parseIP(r.RemoteAddr); ok {
		return ip
	}
	return Unknown
}

func parseIP(raw string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
