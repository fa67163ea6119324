// Package datatable registers admins with the datatable engine under the
// "admin.admin" scope key.
package datatable

import (
	"context"
	"strings"
	"time"

	"github.com/samber/lo"

	"backoffice/internal/actor"
	"backoffice/internal/admin/models"
	dt "backoffice/internal/datatable"
)

const ScopeKey = "admin.admin"

// QueryRequest is the listing request for admins.
type QueryRequest struct {
	dt.QueryRequestBase
	Filters
}

// EmailRequest is the email export request for admins.
type EmailRequest struct {
	dt.EmailExportRequestBase
	Filters
}

// Filters are shared by listings and exports.
type Filters struct {
	Q             *string `json:"q"`
	Email         *string `json:"email"`
	AdminType     *string `json:"admin_type"`
	CreatedAtFrom *string `json:"created_at_from"`
	CreatedAtTo   *string `json:"created_at_to"`
}

// Normalize lower-cases the case-insensitive fields. Empty values are dropped
// later by Params.Set.
func (f *Filters) Normalize() {
	for _, p := range []*string{f.Email, f.AdminType} {
		if p != nil {
			*p = strings.ToLower(strings.TrimSpace(*p))
		}
	}
}

// normalized returns a copy with its own normalized values, leaving the
// caller's request untouched.
func (f Filters) normalized() Filters {
	out := f
	for _, p := range []**string{&out.Email, &out.AdminType} {
		if *p != nil {
			v := **p
			*p = &v
		}
	}
	out.Normalize()
	return out
}

func (f Filters) apply(in dt.Input) dt.Input {
	f = f.normalized()
	in.Params.SetPtr(dt.KeySearch, f.Q)
	in.Params.SetPtr(dt.LikeKey("email"), f.Email)
	in.Params.SetPtr(dt.ExactKey("admin_type"), f.AdminType)
	in.Params.SetPtr(dt.DateFromKey("created_at"), f.CreatedAtFrom)
	in.Params.SetPtr(dt.DateToKey("created_at"), f.CreatedAtTo)
	return in
}

// Contract converts typed admin requests into engine input.
type Contract struct{}

func (Contract) ScopeKey() string { return ScopeKey }

func (Contract) QueryToInput(req QueryRequest) dt.Input {
	return req.Filters.apply(req.QueryRequestBase.ToInput())
}

func (Contract) EmailToInput(req EmailRequest) dt.Input {
	return req.Filters.apply(req.EmailExportRequestBase.ToInput())
}

func (Contract) EmailRecipients(req EmailRequest) []string { return req.Recipients }

func (Contract) EmailSubject(req EmailRequest) string { return req.Subject }

func (Contract) ExportFileName(req EmailRequest) string {
	return req.EmailExportRequestBase.ExportFileName
}

func (Contract) IncludeMeta(req QueryRequest) bool {
	return req.IncludeMeta == nil || *req.IncludeMeta
}

func (Contract) FilterRows() [][]dt.FilterField { return filterRows() }

func filterRows() [][]dt.FilterField {
	return [][]dt.FilterField{
		{
			{Field: "q", FilterKey: dt.KeySearch, Type: dt.FieldText, Label: "Keyword", Placeholder: "Search name/email"},
			{Field: "email", FilterKey: dt.LikeKey("email"), Type: dt.FieldText, Label: "Email", Placeholder: "Contains"},
		},
		{
			{
				Field:       "admin_type",
				FilterKey:   dt.ExactKey("admin_type"),
				Type:        dt.FieldSelect,
				Label:       "Admin Type",
				Placeholder: "Choose type",
				Options: lo.Map(models.Types, func(t models.AdminType, _ int) dt.FilterOption {
					return dt.FilterOption{Label: string(t), Value: string(t)}
				}),
			},
		},
		{
			{
				Field:     "created_at",
				FilterKey: dt.DateFromKey("created_at"),
				ToKey:     dt.DateToKey("created_at"),
				Type:      dt.FieldDateRange,
				Label:     "Created At",
			},
		},
	}
}

// Source is the query source for admins.
type Source interface {
	Query(ctx context.Context) dt.Query[models.Admin]
}

// Table is the registered admin record type.
type Table struct {
	source Source
}

func NewTable(source Source) *Table {
	return &Table{source: source}
}

func (t *Table) ScopeKey() string { return ScopeKey }

func (t *Table) FilterRows() [][]dt.FilterField { return filterRows() }

func (t *Table) Schema() dt.Schema {
	return dt.Schema{
		SearchColumns: []string{"name", "username", "email"},
		Sortable:      []string{"id", "username", "email", "name", "admin_type", "created_at", "updated_at"},
		DefaultSort:   dt.Sort{Field: "created_at", Direction: dt.SortDesc},
	}
}

func (t *Table) Authorize(_ dt.Input, dctx dt.Context) (bool, error) {
	return dt.RequirePermissions(dctx, actor.Any, models.PermAdminRead, models.PermAdminManage), nil
}

// Scope hides the tiers above the actor's own. Actors without a known tier see nothing.
func (t *Table) Scope(q dt.Query[models.Admin], _ dt.Input, dctx dt.Context) dt.Query[models.Admin] {
	raw, ok := dctx.Actor.Attribute(models.AttrAdminType)
	if !ok {
		return q.Where(dt.Never())
	}
	tier, err := models.ParseAdminType(raw)
	if err != nil {
		return q.Where(dt.Never())
	}
	hidden := tier.Hidden()
	if len(hidden) == 0 {
		return q
	}
	return q.Where(dt.NotIn("admin_type", lo.ToAnySlice(lo.Map(hidden, func(h models.AdminType, _ int) string {
		return string(h)
	}))...))
}

func (t *Table) Source(ctx context.Context) dt.Query[models.Admin] {
	return t.source.Query(ctx)
}

func (t *Table) ExportColumns() []dt.Column[models.Admin] {
	return []dt.Column[models.Admin]{
		{Header: "id", Value: func(a models.Admin) string { return a.ID.String() }},
		{Header: "username", Value: func(a models.Admin) string { return a.Username }},
		{Header: "email", Value: func(a models.Admin) string { return a.EmailValue() }},
		{Header: "name", Value: func(a models.Admin) string { return a.Name }},
		{Header: "admin_type", Value: func(a models.Admin) string { return string(a.AdminType) }},
		{Header: "abilities", Value: func(a models.Admin) string { return strings.Join(a.Permissions(), ",") }},
		{Header: "created_at", Value: func(a models.Admin) string { return a.CreatedAt.UTC().Format(time.RFC3339) }},
		{Header: "updated_at", Value: func(a models.Admin) string { return a.UpdatedAt.UTC().Format(time.RFC3339) }},
	}
}
