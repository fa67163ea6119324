// Package strings provides string manipulation utilities.
package strings

import (
	"strings"
)

// DedupeAndTrim removes duplicates and empty strings from a slice,
// trimming whitespace from each element. Order is preserved.
//
//	DedupeAndTrim([]string{" admin.read", "admin.read", ""}) // []string{"admin.read"}
func DedupeAndTrim(values []string) []string {
	return dedupe(values, strings.TrimSpace)
}

// DedupeAndTrimLower is like DedupeAndTrim but also lowercases each element.
// Used for case-insensitive values such as email recipients.
func DedupeAndTrimLower(values []string) []string {
	return dedupe(values, LowerTrimmed)
}

func dedupe(values []string, norm func(string) string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		n := norm(v)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		result = append(result, n)
	}
	return result
}

// TrimmedNonEmpty returns the trimmed value and whether anything is left.
func TrimmedNonEmpty(v string) (string, bool) {
	trimmed := strings.TrimSpace(v)
	return trimmed, trimmed != ""
}

// LowerTrimmed trims and lowercases v.
func LowerTrimmed(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
