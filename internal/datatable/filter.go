package datatable

import (
	"strings"
)

// Reserved parameter keys. They never count as unknown filters.
const (
	KeySearch      = "q"
	KeyPage        = "page"
	KeyPerPage     = "per_page"
	KeySortBy      = "sort_by"
	KeySortDir     = "sort_dir"
	KeyIncludeMeta = "include_meta"
)

const (
	prefixDateFrom = "f-date-from-"
	prefixDateTo   = "f-date-to-"
	prefixLike     = "f-like-"
	prefixExact    = "f-"
)

// Operator is the closed set of filter operations a key can express.
type Operator int

const (
	OpSearch Operator = iota
	OpEqual
	OpLike
	OpDateFrom
	OpDateTo
)

func (o Operator) String() string {
	switch o {
	case OpSearch:
		return "search"
	case OpEqual:
		return "eq"
	case OpLike:
		return "like"
	case OpDateFrom:
		return "date_from"
	case OpDateTo:
		return "date_to"
	}
	return "unknown"
}

// Filter is a parsed parameter: which field, which operator, which raw value.
type Filter struct {
	Key   string
	Field string
	Op    Operator
	Value string
}

// ExactKey, LikeKey, DateFromKey and DateToKey build keys in the filter naming convention.
func ExactKey(field string) string    { return prefixExact + field }
func LikeKey(field string) string     { return prefixLike + field }
func DateFromKey(field string) string { return prefixDateFrom + field }
func DateToKey(field string) string   { return prefixDateTo + field }

// ParseFilterKey splits a key into field and operator. Longer prefixes win so
// "f-like-email" is a like filter on email, not an exact filter on "like-email".
func ParseFilterKey(key string) (Filter, bool) {
	if key == KeySearch {
		return Filter{Key: key, Op: OpSearch}, true
	}

	for _, p := range []struct {
		prefix string
		op     Operator
	}{
		{prefixDateFrom, OpDateFrom},
		{prefixDateTo, OpDateTo},
		{prefixLike, OpLike},
		{prefixExact, OpEqual},
	} {
		if field, ok := strings.CutPrefix(key, p.prefix); ok {
			if !validField(field) {
				return Filter{}, false
			}
			return Filter{Key: key, Field: field, Op: p.op}, true
		}
	}
	return Filter{}, false
}

func isReserved(key string) bool {
	switch key {
	case KeySearch, KeyPage, KeyPerPage, KeySortBy, KeySortDir, KeyIncludeMeta:
		return true
	}
	return false
}

// validField accepts snake_case identifiers only; field names end up as column names.
func validField(field string) bool {
	if field == "" || len(field) > 64 {
		return false
	}
	for i, r := range field {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
