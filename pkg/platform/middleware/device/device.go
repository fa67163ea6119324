// Package device derives a display label for the calling device from its User-Agent.
package device

import (
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"backoffice/pkg/requestcontext"
)

// Middleware stores a label such as "Chrome on Mac OS X" in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := DisplayName(r.Header.Get("User-Agent"))
		next.ServeHTTP(w, r.WithContext(requestcontext.WithDeviceName(r.Context(), name)))
	})
}

// DisplayName renders browser and OS from a User-Agent string.
func DisplayName(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "Unknown device"
	}

	ua := useragent.New(raw)
	browser, _ := ua.Browser()
	os := ua.OSInfo().Name

	switch {
	case ua.Bot():
		return "Bot"
	case browser != "" && os != "":
		return browser + " on " + os
	case browser != "":
		return browser
	case os != "":
		return os
	default:
		return "Unknown device"
	}
}
