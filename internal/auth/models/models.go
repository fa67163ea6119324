// Package models holds the session lifecycle types shared by the auth service,
// its stores and its HTTP layer.
package models

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"backoffice/internal/actor"
	dErrors "backoffice/pkg/domain-errors"
	pstrings "backoffice/pkg/platform/strings"
)

// Guard is a named authentication realm with its own token lifetimes and
// refresh cookie.
type Guard struct {
	Name       string
	TokenName  string
	CookieName string
	CookiePath string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// ClientType selects how the refresh token travels.
type ClientType string

const (
	// ClientWeb receives the refresh token as an HttpOnly cookie only.
	ClientWeb ClientType = "web"
	// ClientMobile receives the refresh token in the response body.
	ClientMobile ClientType = "mobile"
)

// ParseClientType defaults to web when empty.
func ParseClientType(s string) (ClientType, error) {
	switch ClientType(pstrings.LowerTrimmed(s)) {
	case "", ClientWeb:
		return ClientWeb, nil
	case ClientMobile:
		return ClientMobile, nil
	}
	return "", dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("unsupported client type %q", s))
}

// GrantKind is the shape of the permission set embedded in an access token.
type GrantKind string

const (
	GrantWildcard GrantKind = "wildcard"
	GrantExplicit GrantKind = "explicit"
	GrantAuthOnly GrantKind = "auth_only"
)

// ScopeGrant is the permission set carried by an access token.
type ScopeGrant struct {
	Kind   GrantKind
	Scopes []string
}

func WildcardGrant() ScopeGrant { return ScopeGrant{Kind: GrantWildcard} }

func AuthOnlyGrant() ScopeGrant { return ScopeGrant{Kind: GrantAuthOnly} }

// ExplicitGrant sorts and dedupes scopes. An empty list yields AuthOnly and a
// list containing the wildcard yields Wildcard.
func ExplicitGrant(scopes ...string) ScopeGrant {
	cleaned := pstrings.DedupeAndTrim(scopes)
	if len(cleaned) == 0 {
		return AuthOnlyGrant()
	}
	if slices.Contains(cleaned, actor.Wildcard) {
		return WildcardGrant()
	}
	slices.Sort(cleaned)
	return ScopeGrant{Kind: GrantExplicit, Scopes: cleaned}
}

// ParseGrant rebuilds a grant from token claims.
func ParseGrant(kind string, scopes []string) (ScopeGrant, error) {
	switch GrantKind(kind) {
	case GrantWildcard:
		return WildcardGrant(), nil
	case GrantAuthOnly:
		return AuthOnlyGrant(), nil
	case GrantExplicit:
		return ExplicitGrant(scopes...), nil
	}
	return ScopeGrant{}, fmt.Errorf("unknown grant kind %q", kind)
}

// Permissions is the actor permission list the grant expands to.
func (g ScopeGrant) Permissions() []string {
	switch g.Kind {
	case GrantWildcard:
		return []string{actor.Wildcard}
	case GrantExplicit:
		return slices.Clone(g.Scopes)
	}
	return nil
}

// Subject is an authenticated principal as a guard's provider describes it.
type Subject struct {
	ID         string
	Grant      ScopeGrant
	Attributes map[string]string
}

// RefreshRecord is the stored half of an opaque refresh token. Only the
// SHA-256 hash of the token is kept.
type RefreshRecord struct {
	ID         string     `json:"id"`
	TokenHash  string     `json:"token_hash"`
	SessionID  string     `json:"session_id"`
	SubjectID  string     `json:"subject_id"`
	Guard      string     `json:"guard"`
	ClientType ClientType `json:"client_type"`
	DeviceName string     `json:"device_name,omitempty"`
	ClientIP   string     `json:"client_ip,omitempty"`
	UserAgent  string     `json:"user_agent,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RotatedAt  *time.Time `json:"rotated_at,omitempty"`
	ReplacedBy string     `json:"replaced_by,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// Current reports whether the record can still be rotated at now.
func (r *RefreshRecord) Current(now time.Time) bool {
	return r.RotatedAt == nil && r.RevokedAt == nil && now.Before(r.ExpiresAt)
}

// TokenPair is what login and refresh hand back.
type TokenPair struct {
	TokenType        string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        string
	Grant            ScopeGrant
}

// LoginInput is a credential login attempt.
type LoginInput struct {
	Username   string
	Password   string
	ClientType ClientType
}

// Normalize trims the username and lowercases it.
func (in *LoginInput) Normalize() {
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
}
