// Package actor models the authenticated identity driving a request.
//
// An Actor is rebuilt from a validated access token on every request and is
// never persisted or shared between requests.
package actor

import (
	"context"
	"slices"

	"github.com/samber/lo"
	"github.com/spf13/cast"
)

// Wildcard grants every permission.
const Wildcard = "*"

// PermissionMode selects how a list of required permissions is evaluated.
type PermissionMode int

const (
	// Any passes when at least one listed permission (or the wildcard) is held.
	Any PermissionMode = iota
	// All passes only when every listed permission is held.
	All
)

func (m PermissionMode) String() string {
	if m == All {
		return "all"
	}
	return "any"
}

// Actor is identity plus permissions plus free-form attributes.
type Actor struct {
	ID          string
	Guard       string
	SessionID   string
	Roles       []string
	Permissions map[string]struct{}
	Attributes  map[string]any
}

// New builds an actor with a normalized permission set.
func New(id, guard string, permissions []string, attributes map[string]any) *Actor {
	if attributes == nil {
		attributes = map[string]any{}
	}
	return &Actor{
		ID:          id,
		Guard:       guard,
		Permissions: lo.SliceToMap(permissions, func(p string) (string, struct{}) { return p, struct{}{} }),
		Attributes:  attributes,
	}
}

// HasPermission reports whether p is held directly or through the wildcard.
func (a *Actor) HasPermission(p string) bool {
	if a == nil {
		return false
	}
	if _, ok := a.Permissions[Wildcard]; ok {
		return true
	}
	_, ok := a.Permissions[p]
	return ok
}

// Satisfies evaluates required permissions under mode. An empty requirement
// list is satisfied by any authenticated actor.
func (a *Actor) Satisfies(mode PermissionMode, required ...string) bool {
	if a == nil {
		return false
	}
	if len(required) == 0 {
		return true
	}
	if mode == All {
		return lo.EveryBy(required, a.HasPermission)
	}
	return lo.SomeBy(required, a.HasPermission)
}

// PermissionList returns held permissions in sorted order.
func (a *Actor) PermissionList() []string {
	if a == nil {
		return nil
	}
	out := lo.Keys(a.Permissions)
	slices.Sort(out)
	return out
}

// Attribute returns an attribute coerced to string; missing or non-scalar values report false.
func (a *Actor) Attribute(key string) (string, bool) {
	if a == nil {
		return "", false
	}
	raw, ok := a.Attributes[key]
	if !ok || raw == nil {
		return "", false
	}
	s, err := cast.ToStringE(raw)
	if err != nil || s == "" {
		return "", false
	}
	return s, true
}

type contextKey struct{}

// WithContext stores the actor on ctx.
func WithContext(ctx context.Context, a *Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

// FromContext returns the request actor, or nil for anonymous requests.
func FromContext(ctx context.Context) *Actor {
	a, _ := ctx.Value(contextKey{}).(*Actor)
	return a
}
