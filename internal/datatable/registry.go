package datatable

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/samber/lo"

	dErrors "backoffice/pkg/domain-errors"
)

// Entry is the row-type-erased view of a registered table used by the
// HTTP layer and the export paths.
type Entry interface {
	ScopeKey() string
	Meta(dctx Context) Meta
	// Check validates input and authorizes the caller without reading rows.
	Check(ctx context.Context, input Input, dctx Context) error
	// Export writes every matching row as CSV and returns the row count.
	Export(ctx context.Context, input Input, dctx Context, w io.Writer) (int, error)
}

type entry[R any] struct {
	table  Table[R]
	engine *Engine
}

func (en *entry[R]) ScopeKey() string { return en.table.ScopeKey() }

func (en *entry[R]) Meta(dctx Context) Meta {
	return describe(en.table.ScopeKey(), en.table.FilterRows(), en.table.Schema(), dctx)
}

func (en *entry[R]) Check(ctx context.Context, input Input, dctx Context) error {
	t := en.table
	if _, err := en.engine.plan(ctx, t.ScopeKey(), t.FilterRows(), t.Schema(), input, dctx); err != nil {
		return err
	}
	ok, err := t.Authorize(input, dctx)
	return en.engine.authorized(ctx, t.ScopeKey(), dctx, ok, err)
}

func (en *entry[R]) Export(ctx context.Context, input Input, dctx Context, w io.Writer) (int, error) {
	return writeCSV(ctx, en.engine, en.table, input, dctx, w)
}

// Builder collects table registrations. Build freezes them into a Registry
// that is safe for concurrent reads without locking.
type Builder struct {
	engine  *Engine
	entries map[string]Entry
	errs    []error
}

func NewBuilder(engine *Engine) *Builder {
	return &Builder{engine: engine, entries: make(map[string]Entry)}
}

// Register adds t under its scope key. Contract mistakes (duplicate keys,
// malformed filter keys) surface from Build.
func Register[R any](b *Builder, t Table[R]) {
	key := t.ScopeKey()
	if key == "" {
		b.errs = append(b.errs, errors.New("datatable registered with empty scope key"))
		return
	}
	if _, dup := b.entries[key]; dup {
		b.errs = append(b.errs, fmt.Errorf("datatable %q registered twice", key))
		return
	}
	if err := validateFilterRows(t.FilterRows()); err != nil {
		b.errs = append(b.errs, fmt.Errorf("datatable %q: %w", key, err))
		return
	}
	b.entries[key] = &entry[R]{table: t, engine: b.engine}
}

func (b *Builder) Build() (*Registry, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	entries := make(map[string]Entry, len(b.entries))
	for k, v := range b.entries {
		entries[k] = v
	}
	return &Registry{entries: entries}, nil
}

func validateFilterRows(rows [][]FilterField) error {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for _, f := range row {
			if f.Type == FieldDateRange && f.ToKey == "" {
				return fmt.Errorf("date range field %q has no upper bound key", f.Field)
			}
			for _, k := range f.Keys() {
				if _, ok := ParseFilterKey(k); !ok {
					return fmt.Errorf("malformed filter key %q", k)
				}
				if _, dup := seen[k]; dup {
					return fmt.Errorf("filter key %q declared twice", k)
				}
				seen[k] = struct{}{}
			}
		}
	}
	return nil
}

// Registry maps scope keys to tables. It is immutable after Build.
type Registry struct {
	entries map[string]Entry
}

func (r *Registry) Lookup(scopeKey string) (Entry, error) {
	e, ok := r.entries[scopeKey]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "unknown datatable")
	}
	return e, nil
}

// Keys lists registered scope keys in sorted order.
func (r *Registry) Keys() []string {
	keys := lo.Keys(r.entries)
	slices.Sort(keys)
	return keys
}

// TableFor returns the typed table registered under scopeKey.
func TableFor[R any](r *Registry, scopeKey string) (Table[R], error) {
	e, err := r.Lookup(scopeKey)
	if err != nil {
		return nil, err
	}
	typed, ok := e.(*entry[R])
	if !ok {
		return nil, dErrors.New(dErrors.CodeInternal, fmt.Sprintf("datatable %q has a different row type", scopeKey))
	}
	return typed.table, nil
}

// List runs a typed listing through a contract: the contract converts the
// request, the registry supplies the table.
func List[R, Q, E any](ctx context.Context, e *Engine, r *Registry, c ScopedContract[Q, E], req Q, dctx Context) (*Page[R], error) {
	t, err := TableFor[R](r, c.ScopeKey())
	if err != nil {
		return nil, err
	}
	input := c.QueryToInput(req)
	input.IncludeMeta = c.IncludeMeta(req)
	return Execute(ctx, e, t, input, dctx)
}
