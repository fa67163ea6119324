package datatable

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"backoffice/internal/actor"
)

// UnknownFilterMode decides what happens to parameters a contract does not declare.
type UnknownFilterMode int

const (
	UnknownFilterIgnore UnknownFilterMode = iota
	UnknownFilterWarn
	UnknownFilterError
)

func (m UnknownFilterMode) String() string {
	switch m {
	case UnknownFilterWarn:
		return "warn"
	case UnknownFilterError:
		return "error"
	default:
		return "ignore"
	}
}

// ParseUnknownFilterMode accepts ignore, warn or error (case-insensitive).
func ParseUnknownFilterMode(s string) (UnknownFilterMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ignore":
		return UnknownFilterIgnore, nil
	case "warn", "":
		return UnknownFilterWarn, nil
	case "error":
		return UnknownFilterError, nil
	}
	return UnknownFilterIgnore, fmt.Errorf("unknown filter mode %q", s)
}

// Timezone headers, checked in order.
var timezoneHeaders = []string{"X-Timezone", "Time-Zone"}

// Context is per-request and immutable for the request's lifetime.
type Context struct {
	DefaultPerPage    int
	MaxPerPage        int
	AppTimezone       *time.Location
	UserTimezone      *time.Location
	Actor             *actor.Actor
	UnknownFilterMode UnknownFilterMode
}

// Location is the zone used to interpret date filters.
func (c Context) Location() *time.Location {
	if c.UserTimezone != nil {
		return c.UserTimezone
	}
	if c.AppTimezone != nil {
		return c.AppTimezone
	}
	return time.UTC
}

// Settings are the process-wide defaults a Context is derived from.
type Settings struct {
	DefaultPerPage    int
	MaxPerPage        int
	AppTimezone       *time.Location
	UnknownFilterMode UnknownFilterMode
}

// ContextFor builds the Context for an inbound request: the actor placed by the
// auth middleware (if any) and the user timezone from headers.
func (s Settings) ContextFor(r *http.Request) Context {
	return Context{
		DefaultPerPage:    s.DefaultPerPage,
		MaxPerPage:        s.MaxPerPage,
		AppTimezone:       s.AppTimezone,
		UserTimezone:      TimezoneFromHeaders(r.Header),
		Actor:             actor.FromContext(r.Context()),
		UnknownFilterMode: s.UnknownFilterMode,
	}
}

// TimezoneFromHeaders returns the first loadable IANA zone named in the headers, or nil.
func TimezoneFromHeaders(h http.Header) *time.Location {
	for _, name := range timezoneHeaders {
		v := strings.TrimSpace(h.Get(name))
		if v == "" {
			continue
		}
		if loc, err := time.LoadLocation(v); err == nil {
			return loc
		}
	}
	return nil
}
