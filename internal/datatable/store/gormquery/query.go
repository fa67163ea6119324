// Package gormquery adapts a gorm model to the datatable Query capability.
package gormquery

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"backoffice/internal/datatable"
)

// Query is an immutable gorm-backed datatable.Query for model R.
type Query[R any] struct {
	db *gorm.DB
}

// New starts a query over the table of R.
func New[R any](db *gorm.DB) *Query[R] {
	var model R
	return &Query[R]{db: db.Session(&gorm.Session{NewDB: true}).Model(&model)}
}

func (q *Query[R]) derive(fn func(*gorm.DB) *gorm.DB) datatable.Query[R] {
	return &Query[R]{db: fn(q.db.Session(&gorm.Session{}))}
}

func (q *Query[R]) Where(p datatable.Predicate) datatable.Query[R] {
	return q.derive(func(db *gorm.DB) *gorm.DB {
		return apply(db, p)
	})
}

func (q *Query[R]) OrderBy(field string, dir datatable.SortDirection) datatable.Query[R] {
	return q.derive(func(db *gorm.DB) *gorm.DB {
		return db.Order(clause.OrderByColumn{
			Column: clause.Column{Name: field},
			Desc:   dir == datatable.SortDesc,
		})
	})
}

func (q *Query[R]) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := q.db.Session(&gorm.Session{}).WithContext(ctx).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func (q *Query[R]) Fetch(ctx context.Context, offset, limit int) ([]R, error) {
	db := q.db.Session(&gorm.Session{}).WithContext(ctx).Offset(offset)
	if limit > 0 {
		db = db.Limit(limit)
	}
	var rows []R
	if err := db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return rows, nil
}

// apply translates a predicate into a WHERE clause. Column names come from
// contracts and are validated identifiers; values are always bound.
func apply(db *gorm.DB, p datatable.Predicate) *gorm.DB {
	col := clause.Column{Name: p.Field}
	switch p.Op {
	case datatable.PredEq:
		return db.Where(clause.Eq{Column: col, Value: p.Value})
	case datatable.PredNe:
		return db.Where(clause.Neq{Column: col, Value: p.Value})
	case datatable.PredLike:
		return db.Where(fmt.Sprintf("LOWER(%s) LIKE ? ESCAPE '\\'", quote(db, p.Field)), likePattern(p.Value))
	case datatable.PredGte:
		return db.Where(clause.Gte{Column: col, Value: p.Value})
	case datatable.PredLte:
		return db.Where(clause.Lte{Column: col, Value: p.Value})
	case datatable.PredIn:
		if len(p.Values) == 0 {
			return db.Where("1 = 0")
		}
		return db.Where(clause.IN{Column: col, Values: p.Values})
	case datatable.PredNotIn:
		if len(p.Values) == 0 {
			return db
		}
		return db.Where(clause.Not(clause.IN{Column: col, Values: p.Values}))
	case datatable.PredSearch:
		if len(p.Fields) == 0 {
			return db
		}
		parts := make([]string, len(p.Fields))
		args := make([]any, len(p.Fields))
		pattern := likePattern(p.Value)
		for i, f := range p.Fields {
			parts[i] = fmt.Sprintf("LOWER(%s) LIKE ? ESCAPE '\\'", quote(db, f))
			args[i] = pattern
		}
		return db.Where("("+strings.Join(parts, " OR ")+")", args...)
	case datatable.PredNever:
		return db.Where("1 = 0")
	}
	return db.Where("1 = 0")
}

func quote(db *gorm.DB, field string) string {
	return db.Statement.Quote(field)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern builds a case-insensitive contains pattern with wildcards escaped.
func likePattern(v any) string {
	return "%" + likeEscaper.Replace(strings.ToLower(fmt.Sprint(v))) + "%"
}
