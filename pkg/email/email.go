// Package email normalizes and validates addresses supplied by operators.
package email

import (
	"net/mail"
	"strings"
	"unicode"
)

// Normalize trims and lowercases an address. Empty input reports false.
func Normalize(raw string) (string, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	return v, v != ""
}

// NormalizePtr normalizes an optional address, returning nil when nothing remains.
func NormalizePtr(raw *string) *string {
	if raw == nil {
		return nil
	}
	v, ok := Normalize(*raw)
	if !ok {
		return nil
	}
	return &v
}

// Valid reports whether v is a bare address (no display name).
func Valid(v string) bool {
	addr, err := mail.ParseAddress(v)
	return err == nil && addr.Address == v
}

// DisplayName derives a human name from the local part of addr, turning
// "jane.doe@example.com" into "Jane Doe". It returns fallback when addr has no
// usable local part.
func DisplayName(addr, fallback string) string {
	local, _, _ := strings.Cut(addr, "@")
	words := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+' || unicode.IsSpace(r)
	})
	if len(words) == 0 {
		return fallback
	}
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
