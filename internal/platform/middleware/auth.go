// Package middleware authenticates bearer tokens into request actors and
// guards routes by permission.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"backoffice/internal/actor"
	dErrors "backoffice/pkg/domain-errors"
	"backoffice/pkg/platform/httputil"
	"backoffice/pkg/requestcontext"
)

// Authenticator turns a bearer token into an actor for a guard.
type Authenticator interface {
	Authenticate(ctx context.Context, guard, bearer string) (*actor.Actor, error)
}

const bearerPrefix = "Bearer "

// RequireActor rejects requests without a valid access token for guard and
// stores the resulting actor on the request context.
func RequireActor(auth Authenticator, guard string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
			if !ok || strings.TrimSpace(token) == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			a, err := auth.Authenticate(ctx, guard, strings.TrimSpace(token))
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"guard", guard,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(actor.WithContext(ctx, a)))
		})
	}
}

// RequirePermission admits actors satisfying perms under mode. It must run
// after RequireActor.
func RequirePermission(mode actor.PermissionMode, perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a := actor.FromContext(r.Context())
			if a == nil {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
				return
			}
			if !a.Satisfies(mode, perms...) {
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "not allowed to perform this action"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
