package datatable

import (
	"context"

	"backoffice/internal/actor"
)

// PredicateOp is the closed set of row predicates the record store must support.
type PredicateOp int

const (
	PredEq PredicateOp = iota
	PredNe
	PredLike
	PredGte
	PredLte
	PredIn
	PredNotIn
	PredSearch
	PredNever
)

// Predicate is one condition added to a query. Field names are validated
// snake_case identifiers; values are always bound parameters.
type Predicate struct {
	Op     PredicateOp
	Field  string
	Fields []string
	Value  any
	Values []any
}

func Eq(field string, v any) Predicate  { return Predicate{Op: PredEq, Field: field, Value: v} }
func Ne(field string, v any) Predicate  { return Predicate{Op: PredNe, Field: field, Value: v} }
func Like(field, v string) Predicate    { return Predicate{Op: PredLike, Field: field, Value: v} }
func Gte(field string, v any) Predicate { return Predicate{Op: PredGte, Field: field, Value: v} }
func Lte(field string, v any) Predicate { return Predicate{Op: PredLte, Field: field, Value: v} }
func In(field string, vs ...any) Predicate {
	return Predicate{Op: PredIn, Field: field, Values: vs}
}
func NotIn(field string, vs ...any) Predicate {
	return Predicate{Op: PredNotIn, Field: field, Values: vs}
}

// Search matches v case-insensitively against any of fields.
func Search(v string, fields ...string) Predicate {
	return Predicate{Op: PredSearch, Fields: fields, Value: v}
}

// Never matches no rows.
func Never() Predicate { return Predicate{Op: PredNever} }

// Query is the record-store capability the engine builds on. Implementations
// are immutable: every method returns a new query and leaves the receiver as is.
type Query[R any] interface {
	Where(p Predicate) Query[R]
	OrderBy(field string, dir SortDirection) Query[R]
	Count(ctx context.Context) (int64, error)
	// Fetch returns up to limit rows after skipping offset rows; limit <= 0 means no limit.
	Fetch(ctx context.Context, offset, limit int) ([]R, error)
}

// Schema lists what the engine may touch on a record type.
type Schema struct {
	// SearchColumns are matched by the "q" parameter.
	SearchColumns []string
	// Sortable fields accepted in Input.Sort.
	Sortable []string
	// DefaultSort applies when the request names none.
	DefaultSort Sort
	// MaxPerPage overrides Context.MaxPerPage when positive.
	MaxPerPage int
	// Columns maps filter field names to storage columns when they differ.
	Columns map[string]string
}

func (s Schema) column(field string) string {
	if c, ok := s.Columns[field]; ok {
		return c
	}
	return field
}

func (s Schema) sortable(field string) bool {
	for _, f := range s.Sortable {
		if f == field {
			return true
		}
	}
	return false
}

// Column renders one export column.
type Column[R any] struct {
	Header string
	Value  func(R) string
}

// Table is the registry-facing behavior of a record type: its query source,
// its authorization and row scoping hooks, and its export layout.
type Table[R any] interface {
	ScopeKey() string
	FilterRows() [][]FilterField
	Schema() Schema
	// Authorize is the coarse gate. It must return false when dctx has no actor.
	Authorize(input Input, dctx Context) (bool, error)
	// Scope narrows the base query with predicates derived from the actor.
	Scope(q Query[R], input Input, dctx Context) Query[R]
	Source(ctx context.Context) Query[R]
	ExportColumns() []Column[R]
}

// RequirePermissions is the usual Authorize body: false without an actor,
// otherwise the actor's permissions evaluated under mode.
func RequirePermissions(dctx Context, mode actor.PermissionMode, permissions ...string) bool {
	if dctx.Actor == nil {
		return false
	}
	return dctx.Actor.Satisfies(mode, permissions...)
}
