package datatable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"backoffice/internal/datatable/metrics"
	dErrors "backoffice/pkg/domain-errors"
	"backoffice/pkg/requestcontext"
)

const (
	fallbackPerPage    = 30
	defaultExportBatch = 1000
)

// ErrForbidden is returned for every authorization failure. Callers cannot tell
// which gate refused them.
var ErrForbidden = dErrors.New(dErrors.CodeForbidden, "not allowed to access this resource")

// Page is one page of rows. Total and LastPage are only computed when the input
// asks for meta.
type Page[R any] struct {
	Data        []R         `json:"data"`
	Total       *int64      `json:"total,omitempty"`
	PerPage     int         `json:"per_page"`
	CurrentPage int         `json:"current_page"`
	LastPage    *int        `json:"last_page,omitempty"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// Diagnostics explain how the request was interpreted.
type Diagnostics struct {
	DurationMS        int64    `json:"duration_ms"`
	UnknownFilters    []string `json:"unknown_filters"`
	UnknownFilterMode string   `json:"unknown_filter_mode"`
}

// Meta describes a registered table for clients building filter forms.
type Meta struct {
	ScopeKey       string          `json:"scope_key"`
	DefaultPerPage int             `json:"default_per_page"`
	MaxPerPage     int             `json:"max_per_page"`
	Sortable       []string        `json:"sortable"`
	DefaultSort    *Sort           `json:"default_sort,omitempty"`
	FilterRows     [][]FilterField `json:"filter_rows"`
}

// Engine runs listings and exports for any registered table.
type Engine struct {
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	exportBatch int
}

type EngineOption func(*Engine)

func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithExportBatchSize sets how many rows an export fetches per round trip.
func WithExportBatchSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.exportBatch = n
		}
	}
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		logger:      slog.Default(),
		tracer:      otel.Tracer("backoffice/internal/datatable"),
		exportBatch: defaultExportBatch,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// plan is a validated request: predicates to add, sort to apply, page window.
type plan struct {
	predicates []Predicate
	sort       *Sort
	page       int
	perPage    int
	unknown    []string
}

// Execute authorizes, scopes, filters, sorts and paginates one listing.
func Execute[R any](ctx context.Context, e *Engine, t Table[R], input Input, dctx Context) (*Page[R], error) {
	start := time.Now()
	key := t.ScopeKey()
	ctx, span := e.tracer.Start(ctx, "datatable.query", trace.WithAttributes(
		attribute.String("datatable.scope_key", key),
		attribute.Bool("datatable.include_meta", input.IncludeMeta),
	))
	defer span.End()

	page, err := execute(ctx, e, t, input, dctx)
	e.metrics.ObserveQuery(key, start)
	if err != nil {
		e.metrics.IncQueryFailure(key, string(dErrors.CodeOf(err)))
		span.RecordError(err)
		return nil, err
	}
	page.Diagnostics.DurationMS = time.Since(start).Milliseconds()
	return page, nil
}

func execute[R any](ctx context.Context, e *Engine, t Table[R], input Input, dctx Context) (*Page[R], error) {
	p, err := e.plan(ctx, t.ScopeKey(), t.FilterRows(), t.Schema(), input, dctx)
	if err != nil {
		return nil, err
	}

	q, err := selectRows(ctx, e, t, input, dctx, p)
	if err != nil {
		return nil, err
	}

	result := &Page[R]{
		Data:        []R{},
		PerPage:     p.perPage,
		CurrentPage: p.page,
		Diagnostics: Diagnostics{
			UnknownFilters:    lo.Ternary(p.unknown == nil, []string{}, p.unknown),
			UnknownFilterMode: dctx.UnknownFilterMode.String(),
		},
	}

	if input.IncludeMeta {
		total, err := q.Count(ctx)
		if err != nil {
			return nil, dErrors.Upstream(err, "record store count failed")
		}
		last := lastPage(total, p.perPage)
		result.Total = &total
		result.LastPage = &last
		if p.page > last {
			return result, nil
		}
	}

	rows, err := applySort(q, p.sort).Fetch(ctx, (p.page-1)*p.perPage, p.perPage)
	if err != nil {
		return nil, dErrors.Upstream(err, "record store query failed")
	}
	if rows != nil {
		result.Data = rows
	}
	return result, nil
}

// selectRows runs the authorization gate, then scopes the source and applies
// the planned filters.
func selectRows[R any](ctx context.Context, e *Engine, t Table[R], input Input, dctx Context, p plan) (Query[R], error) {
	ok, err := t.Authorize(input, dctx)
	if err := e.authorized(ctx, t.ScopeKey(), dctx, ok, err); err != nil {
		return nil, err
	}
	q := t.Scope(t.Source(ctx), input, dctx)
	for _, pred := range p.predicates {
		q = q.Where(pred)
	}
	return q, nil
}

func (e *Engine) authorized(ctx context.Context, scopeKey string, dctx Context, ok bool, err error) error {
	if err != nil {
		var de *dErrors.Error
		if errors.As(err, &de) {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "authorization check failed")
	}
	if ok {
		return nil
	}
	actorID := ""
	if dctx.Actor != nil {
		actorID = dctx.Actor.ID
	}
	e.logger.InfoContext(ctx, "datatable access denied",
		"scope_key", scopeKey,
		"actor_id", actorID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return ErrForbidden
}

// plan validates parameters against the declared filter fields and resolves the
// unknown-filter policy, sort and page window.
func (e *Engine) plan(ctx context.Context, scopeKey string, rows [][]FilterField, schema Schema, input Input, dctx Context) (plan, error) {
	declared := make(map[string]FilterField)
	for _, row := range rows {
		for _, f := range row {
			for _, k := range f.Keys() {
				declared[k] = f
			}
		}
	}

	var p plan
	loc := dctx.Location()
	keys := lo.Keys(input.Params)
	slices.Sort(keys)

	for _, key := range keys {
		value := strings.TrimSpace(input.Params[key])
		if key == KeySearch {
			if value != "" && len(schema.SearchColumns) > 0 {
				p.predicates = append(p.predicates, Search(value, schema.SearchColumns...))
			}
			continue
		}
		if isReserved(key) {
			continue
		}
		field, ok := declared[key]
		if !ok {
			p.unknown = append(p.unknown, key)
			continue
		}
		if value == "" {
			continue
		}
		f, _ := ParseFilterKey(key)
		pred, err := buildPredicate(f, field, schema, value, loc)
		if err != nil {
			return plan{}, err
		}
		p.predicates = append(p.predicates, pred)
	}

	if input.Sort != nil {
		if schema.sortable(input.Sort.Field) {
			s := *input.Sort
			if s.Direction == "" {
				s.Direction = SortAsc
			}
			p.sort = &s
		} else {
			p.unknown = append(p.unknown, KeySortBy+"="+input.Sort.Field)
		}
	}
	if p.sort == nil && schema.DefaultSort.Field != "" {
		s := schema.DefaultSort
		p.sort = &s
	}

	if len(p.unknown) > 0 {
		e.metrics.AddUnknownFilters(scopeKey, dctx.UnknownFilterMode.String(), len(p.unknown))
		switch dctx.UnknownFilterMode {
		case UnknownFilterError:
			return plan{}, dErrors.New(dErrors.CodeBadRequest, "unknown filter: "+strings.Join(p.unknown, ", "))
		case UnknownFilterWarn:
			e.logger.WarnContext(ctx, "datatable request has unknown filters",
				"scope_key", scopeKey,
				"unknown_filters", p.unknown,
				"request_id", requestcontext.RequestID(ctx),
			)
		default:
			p.unknown = nil
		}
	}

	p.page, p.perPage = window(input.Pagination, schema, dctx)
	return p, nil
}

func buildPredicate(f Filter, field FilterField, schema Schema, value string, loc *time.Location) (Predicate, error) {
	col := schema.column(f.Field)
	switch f.Op {
	case OpEqual:
		if !field.allows(value) {
			return Predicate{}, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("invalid value for %s", f.Key))
		}
		return Eq(col, value), nil
	case OpLike:
		return Like(col, value), nil
	case OpDateFrom:
		t, _, err := parseDate(value, loc)
		if err != nil {
			return Predicate{}, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("invalid date for %s", f.Key))
		}
		return Gte(col, t.UTC()), nil
	case OpDateTo:
		t, dateOnly, err := parseDate(value, loc)
		if err != nil {
			return Predicate{}, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("invalid date for %s", f.Key))
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		return Lte(col, t.UTC()), nil
	}
	return Predicate{}, dErrors.New(dErrors.CodeBadRequest, "unsupported filter "+f.Key)
}

// parseDate accepts a calendar date in loc or an RFC3339 timestamp.
func parseDate(value string, loc *time.Location) (time.Time, bool, error) {
	if t, err := time.ParseInLocation(time.DateOnly, value, loc); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	return t, false, err
}

func window(pg Pagination, schema Schema, dctx Context) (int, int) {
	page := max(pg.Page, 1)

	perPage := pg.PerPage
	if perPage <= 0 {
		perPage = dctx.DefaultPerPage
	}
	if perPage <= 0 {
		perPage = fallbackPerPage
	}

	limit := dctx.MaxPerPage
	if schema.MaxPerPage > 0 {
		limit = schema.MaxPerPage
	}
	if limit > 0 && perPage > limit {
		perPage = limit
	}
	return page, perPage
}

func lastPage(total int64, perPage int) int {
	if total <= 0 {
		return 0
	}
	return int((total + int64(perPage) - 1) / int64(perPage))
}

func applySort[R any](q Query[R], s *Sort) Query[R] {
	if s == nil {
		return q
	}
	return q.OrderBy(s.Field, s.Direction)
}

func describe(scopeKey string, rows [][]FilterField, schema Schema, dctx Context) Meta {
	_, perPage := window(Pagination{}, schema, dctx)
	maxPerPage := dctx.MaxPerPage
	if schema.MaxPerPage > 0 {
		maxPerPage = schema.MaxPerPage
	}
	m := Meta{
		ScopeKey:       scopeKey,
		DefaultPerPage: perPage,
		MaxPerPage:     maxPerPage,
		Sortable:       lo.Ternary(schema.Sortable == nil, []string{}, schema.Sortable),
		FilterRows:     rows,
	}
	if schema.DefaultSort.Field != "" {
		s := schema.DefaultSort
		m.DefaultSort = &s
	}
	return m
}
