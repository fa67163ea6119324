package testutil

import (
	"net/http"

	"backoffice/internal/actor"
)

// WithActor places an actor on the request context the way the bearer-auth
// middleware does for authenticated requests.
func WithActor(req *http.Request, a *actor.Actor) *http.Request {
	return req.WithContext(actor.WithContext(req.Context(), a))
}

// AdminActor builds an admin-guard actor with the given type attribute and permissions.
func AdminActor(id, adminType string, permissions ...string) *actor.Actor {
	a := actor.New(id, "admin", permissions, map[string]any{"admin_type": adminType})
	a.SessionID = "session-" + id
	return a
}
