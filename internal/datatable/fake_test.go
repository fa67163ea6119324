package datatable

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"backoffice/internal/actor"
)

type person struct {
	ID        string
	Name      string
	Email     string
	Kind      string
	CreatedAt time.Time
}

func (p person) field(name string) any {
	switch name {
	case "id":
		return p.ID
	case "name":
		return p.Name
	case "email":
		return p.Email
	case "kind":
		return p.Kind
	case "created_at":
		return p.CreatedAt
	}
	panic("unknown field " + name)
}

// fakeQuery evaluates predicates over a slice in memory.
type fakeQuery struct {
	rows    []person
	preds   []Predicate
	order   *Sort
	log     *queryLog
	failErr error
}

type queryLog struct {
	mu      sync.Mutex
	fetches [][2]int
	counts  int
	preds   []Predicate
}

func (q *fakeQuery) Where(p Predicate) Query[person] {
	c := *q
	c.preds = append(slices.Clone(q.preds), p)
	return &c
}

func (q *fakeQuery) OrderBy(field string, dir SortDirection) Query[person] {
	c := *q
	c.order = &Sort{Field: field, Direction: dir}
	return &c
}

func (q *fakeQuery) Count(context.Context) (int64, error) {
	if q.failErr != nil {
		return 0, q.failErr
	}
	q.log.mu.Lock()
	q.log.counts++
	q.log.mu.Unlock()
	return int64(len(q.matching())), nil
}

func (q *fakeQuery) Fetch(_ context.Context, offset, limit int) ([]person, error) {
	if q.failErr != nil {
		return nil, q.failErr
	}
	q.log.mu.Lock()
	q.log.fetches = append(q.log.fetches, [2]int{offset, limit})
	q.log.preds = slices.Clone(q.preds)
	q.log.mu.Unlock()

	rows := q.matching()
	if q.order != nil {
		field, desc := q.order.Field, q.order.Direction == SortDesc
		slices.SortStableFunc(rows, func(a, b person) int {
			c := strings.Compare(fmt.Sprint(a.field(field)), fmt.Sprint(b.field(field)))
			if desc {
				return -c
			}
			return c
		})
	}
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, nil
}

func (q *fakeQuery) matching() []person {
	var out []person
	for _, r := range q.rows {
		if q.match(r) {
			out = append(out, r)
		}
	}
	return out
}

func (q *fakeQuery) match(r person) bool {
	for _, p := range q.preds {
		switch p.Op {
		case PredNever:
			return false
		case PredEq:
			if fmt.Sprint(r.field(p.Field)) != fmt.Sprint(p.Value) {
				return false
			}
		case PredLike:
			if !strings.Contains(strings.ToLower(fmt.Sprint(r.field(p.Field))), strings.ToLower(fmt.Sprint(p.Value))) {
				return false
			}
		case PredGte:
			if r.field(p.Field).(time.Time).Before(p.Value.(time.Time)) {
				return false
			}
		case PredLte:
			if r.field(p.Field).(time.Time).After(p.Value.(time.Time)) {
				return false
			}
		case PredNotIn:
			for _, v := range p.Values {
				if fmt.Sprint(r.field(p.Field)) == fmt.Sprint(v) {
					return false
				}
			}
		case PredSearch:
			hit := false
			for _, f := range p.Fields {
				if strings.Contains(strings.ToLower(fmt.Sprint(r.field(f))), strings.ToLower(fmt.Sprint(p.Value))) {
					hit = true
				}
			}
			if !hit {
				return false
			}
		}
	}
	return true
}

// peopleTable is a registered record type used across engine tests.
type peopleTable struct {
	rows      []person
	log       *queryLog
	failErr   error
	authErr   error
	maxPer    int
	sortable  []string
	permitted []string
}

func newPeopleTable(rows ...person) *peopleTable {
	return &peopleTable{rows: rows, log: &queryLog{}, sortable: []string{"name", "created_at"}}
}

func (t *peopleTable) ScopeKey() string { return "test.people" }

func (t *peopleTable) FilterRows() [][]FilterField {
	return [][]FilterField{
		{
			{Field: "q", FilterKey: KeySearch, Type: FieldText, Label: "Keyword"},
			{Field: "email", FilterKey: LikeKey("email"), Type: FieldText, Label: "Email"},
		},
		{
			{Field: "kind", FilterKey: ExactKey("kind"), Type: FieldSelect, Label: "Kind", Options: []FilterOption{
				{Label: "Staff", Value: "staff"},
				{Label: "Guest", Value: "guest"},
			}},
		},
		{
			{Field: "created_at", FilterKey: DateFromKey("created_at"), ToKey: DateToKey("created_at"), Type: FieldDateRange, Label: "Created At"},
		},
	}
}

func (t *peopleTable) Schema() Schema {
	return Schema{
		SearchColumns: []string{"name", "email"},
		Sortable:      t.sortable,
		DefaultSort:   Sort{Field: "name", Direction: SortAsc},
		MaxPerPage:    t.maxPer,
	}
}

func (t *peopleTable) Authorize(_ Input, dctx Context) (bool, error) {
	if t.authErr != nil {
		return false, t.authErr
	}
	return RequirePermissions(dctx, actor.Any, "people.read"), nil
}

// Scope hides guests from actors without the people.guests attribute.
func (t *peopleTable) Scope(q Query[person], _ Input, dctx Context) Query[person] {
	if v, ok := dctx.Actor.Attribute("sees_guests"); ok && v == "true" {
		return q
	}
	return q.Where(NotIn("kind", "guest"))
}

func (t *peopleTable) Source(context.Context) Query[person] {
	return &fakeQuery{rows: t.rows, log: t.log, failErr: t.failErr}
}

func (t *peopleTable) ExportColumns() []Column[person] {
	return []Column[person]{
		{Header: "id", Value: func(p person) string { return p.ID }},
		{Header: "name", Value: func(p person) string { return p.Name }},
		{Header: "email", Value: func(p person) string { return p.Email }},
	}
}

func reader(extra map[string]any) *actor.Actor {
	return actor.New("actor-1", "admin", []string{"people.read"}, extra)
}

func readerContext() Context {
	return Context{
		DefaultPerPage:    30,
		MaxPerPage:        500,
		Actor:             reader(map[string]any{"sees_guests": true}),
		UnknownFilterMode: UnknownFilterWarn,
	}
}

func day(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func samplePeople() []person {
	return []person{
		{ID: "1", Name: "Alice", Email: "alice@example.com", Kind: "staff", CreatedAt: day("2024-01-01T00:00:00Z")},
		{ID: "2", Name: "Bob", Email: "bob@corp.test", Kind: "staff", CreatedAt: day("2024-01-15T12:00:00Z")},
		{ID: "3", Name: "Carol", Email: "carol@example.com", Kind: "guest", CreatedAt: day("2024-01-31T23:59:59Z")},
		{ID: "4", Name: "Dave", Email: "dave@example.com", Kind: "staff", CreatedAt: day("2024-02-01T00:00:00Z")},
		{ID: "5", Name: "Eve", Email: "eve@corp.test", Kind: "guest", CreatedAt: day("2023-12-31T23:59:59Z")},
	}
}
