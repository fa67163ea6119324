package datatable

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"backoffice/internal/actor"
	dErrors "backoffice/pkg/domain-errors"
)

type EngineSuite struct {
	suite.Suite
	ctx    context.Context
	engine *Engine
	table  *peopleTable
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.engine = NewEngine()
	s.table = newPeopleTable(samplePeople()...)
}

func (s *EngineSuite) input(params map[string]string) Input {
	in := Input{Params: Params{}, IncludeMeta: true}
	for k, v := range params {
		in.Params.Set(k, v)
	}
	return in
}

func (s *EngineSuite) names(p *Page[person]) []string {
	out := make([]string, 0, len(p.Data))
	for _, r := range p.Data {
		out = append(out, r.Name)
	}
	return out
}

func (s *EngineSuite) TestAuthorization() {
	s.Run("no actor is forbidden", func() {
		dctx := readerContext()
		dctx.Actor = nil

		_, err := Execute(s.ctx, s.engine, s.table, s.input(nil), dctx)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.Empty(s.table.log.fetches, "rows must not be read before authorization")
	})

	s.Run("missing permission is forbidden", func() {
		dctx := readerContext()
		dctx.Actor = actor.New("a2", "admin", []string{"other.read"}, nil)

		_, err := Execute(s.ctx, s.engine, s.table, s.input(nil), dctx)
		s.ErrorIs(err, ErrForbidden)
	})

	s.Run("wildcard satisfies the gate", func() {
		dctx := readerContext()
		dctx.Actor = actor.New("a3", "admin", []string{actor.Wildcard}, nil)

		page, err := Execute(s.ctx, s.engine, s.table, s.input(nil), dctx)
		s.Require().NoError(err)
		s.Equal([]string{"Alice", "Bob", "Dave"}, s.names(page), "scope still hides guests")
	})

	s.Run("coded authorize error passes through", func() {
		s.table.authErr = dErrors.New(dErrors.CodeUnauthorized, "session revoked")
		defer func() { s.table.authErr = nil }()

		_, err := Execute(s.ctx, s.engine, s.table, s.input(nil), readerContext())
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("plain authorize error becomes internal", func() {
		s.table.authErr = errors.New("boom")
		defer func() { s.table.authErr = nil }()

		_, err := Execute(s.ctx, s.engine, s.table, s.input(nil), readerContext())
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *EngineSuite) TestScopeNarrowsRows() {
	dctx := readerContext()
	dctx.Actor = reader(nil)

	page, err := Execute(s.ctx, s.engine, s.table, s.input(nil), dctx)
	s.Require().NoError(err)
	s.Equal([]string{"Alice", "Bob", "Dave"}, s.names(page))
	s.EqualValues(3, *page.Total)
}

func (s *EngineSuite) TestFilters() {
	s.Run("keyword searches declared columns", func() {
		page, err := Execute(s.ctx, s.engine, s.table, s.input(map[string]string{"q": "corp"}), readerContext())
		s.Require().NoError(err)
		s.Equal([]string{"Bob", "Eve"}, s.names(page))
	})

	s.Run("like filter", func() {
		page, err := Execute(s.ctx, s.engine, s.table, s.input(map[string]string{"f-like-email": "EXAMPLE"}), readerContext())
		s.Require().NoError(err)
		s.Equal([]string{"Alice", "Carol", "Dave"}, s.names(page))
	})

	s.Run("select filter", func() {
		page, err := Execute(s.ctx, s.engine, s.table, s.input(map[string]string{"f-kind": "guest"}), readerContext())
		s.Require().NoError(err)
		s.Equal([]string{"Carol", "Eve"}, s.names(page))
	})

	s.Run("select value outside options", func() {
		_, err := Execute(s.ctx, s.engine, s.table, s.input(map[string]string{"f-kind": "robot"}), readerContext())
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("date range is inclusive to end of day", func() {
		page, err := Execute(s.ctx, s.engine, s.table, s.input(map[string]string{
			"f-date-from-created_at": "2024-01-01",
			"f-date-to-created_at":   "2024-01-31",
		}), readerContext())
		s.Require().NoError(err)
		s.Equal([]string{"Alice", "Bob", "Carol"}, s.names(page))
	})

	s.Run("malformed date", func() {
		_, err := Execute(s.ctx, s.engine, s.table, s.input(map[string]string{"f-date-from-created_at": "01/02/2024"}), readerContext())
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("empty values add no predicate", func() {
		in := s.input(nil)
		in.Params["f-kind"] = "  "

		page, err := Execute(s.ctx, s.engine, s.table, in, readerContext())
		s.Require().NoError(err)
		s.Len(page.Data, 5)
	})
}

func (s *EngineSuite) TestDateBoundsUseUserTimezone() {
	berlin, err := time.LoadLocation("Europe/Berlin")
	s.Require().NoError(err)
	dctx := readerContext()
	dctx.AppTimezone = time.UTC
	dctx.UserTimezone = berlin

	p, err := s.engine.plan(s.ctx, "test.people", s.table.FilterRows(), s.table.Schema(), s.input(map[string]string{
		"f-date-from-created_at": "2024-01-01",
		"f-date-to-created_at":   "2024-01-31",
	}), dctx)
	s.Require().NoError(err)
	s.Require().Len(p.predicates, 2)

	s.Equal(Gte("created_at", day("2023-12-31T23:00:00Z")), p.predicates[0])
	s.Equal(Lte("created_at", day("2024-01-31T22:59:59Z").Add(999999999*time.Nanosecond)), p.predicates[1])
}

func (s *EngineSuite) TestUnknownFilters() {
	params := map[string]string{"f-nickname": "x", "f-kind": "staff"}

	s.Run("ignore drops them silently", func() {
		dctx := readerContext()
		dctx.UnknownFilterMode = UnknownFilterIgnore

		page, err := Execute(s.ctx, s.engine, s.table, s.input(params), dctx)
		s.Require().NoError(err)
		s.Empty(page.Diagnostics.UnknownFilters)
		s.Equal("ignore", page.Diagnostics.UnknownFilterMode)
		s.Len(page.Data, 3)
	})

	s.Run("warn reports them in diagnostics", func() {
		page, err := Execute(s.ctx, s.engine, s.table, s.input(params), readerContext())
		s.Require().NoError(err)
		s.Equal([]string{"f-nickname"}, page.Diagnostics.UnknownFilters)
		s.Equal("warn", page.Diagnostics.UnknownFilterMode)
	})

	s.Run("error rejects the request", func() {
		dctx := readerContext()
		dctx.UnknownFilterMode = UnknownFilterError

		_, err := Execute(s.ctx, s.engine, s.table, s.input(params), dctx)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
		s.Contains(err.Error(), "f-nickname")
	})

	s.Run("unknown sort field follows the same policy", func() {
		in := s.input(nil)
		in.Sort = &Sort{Field: "password", Direction: SortDesc}

		page, err := Execute(s.ctx, s.engine, s.table, in, readerContext())
		s.Require().NoError(err)
		s.Equal([]string{"sort_by=password"}, page.Diagnostics.UnknownFilters)
		s.Equal("Alice", page.Data[0].Name, "default sort applies")
	})
}

func (s *EngineSuite) TestPagination() {
	s.Run("windows and totals", func() {
		in := s.input(nil)
		in.Pagination = Pagination{Page: 2, PerPage: 2}

		page, err := Execute(s.ctx, s.engine, s.table, in, readerContext())
		s.Require().NoError(err)
		s.Equal([]string{"Carol", "Dave"}, s.names(page))
		s.EqualValues(5, *page.Total)
		s.Equal(3, *page.LastPage)
		s.Equal(2, page.CurrentPage)
		s.Equal(2, page.PerPage)
	})

	s.Run("page past the end returns empty data", func() {
		in := s.input(nil)
		in.Pagination = Pagination{Page: 9, PerPage: 2}

		page, err := Execute(s.ctx, s.engine, s.table, in, readerContext())
		s.Require().NoError(err)
		s.Empty(page.Data)
		s.NotNil(page.Data)
		s.Equal(3, *page.LastPage)
	})

	s.Run("zero page and per page use defaults", func() {
		page, err := Execute(s.ctx, s.engine, s.table, s.input(nil), readerContext())
		s.Require().NoError(err)
		s.Equal(1, page.CurrentPage)
		s.Equal(30, page.PerPage)
	})

	s.Run("per page is capped by the table before the context", func() {
		s.table.maxPer = 3
		defer func() { s.table.maxPer = 0 }()
		in := s.input(nil)
		in.Pagination.PerPage = 1000

		page, err := Execute(s.ctx, s.engine, s.table, in, readerContext())
		s.Require().NoError(err)
		s.Equal(3, page.PerPage)
		s.Len(page.Data, 3)
	})

	s.Run("without meta there is no count", func() {
		s.table.log.counts = 0
		in := s.input(nil)
		in.IncludeMeta = false

		page, err := Execute(s.ctx, s.engine, s.table, in, readerContext())
		s.Require().NoError(err)
		s.Nil(page.Total)
		s.Nil(page.LastPage)
		s.Zero(s.table.log.counts)
	})
}

func (s *EngineSuite) TestSort() {
	in := s.input(nil)
	in.Sort = &Sort{Field: "name", Direction: SortDesc}

	page, err := Execute(s.ctx, s.engine, s.table, in, readerContext())
	s.Require().NoError(err)
	s.Equal([]string{"Eve", "Dave", "Carol", "Bob", "Alice"}, s.names(page))
}

func (s *EngineSuite) TestRecordStoreFailureIsUpstream() {
	s.table.failErr = context.DeadlineExceeded
	defer func() { s.table.failErr = nil }()

	_, err := Execute(s.ctx, s.engine, s.table, s.input(nil), readerContext())
	s.Require().Error(err)
	s.True(dErrors.IsRetryable(err))
}

func TestWindow(t *testing.T) {
	tests := []struct {
		name        string
		pg          Pagination
		schemaMax   int
		ctx         Context
		wantPage    int
		wantPerPage int
	}{
		{name: "negative page", pg: Pagination{Page: -3, PerPage: 10}, wantPage: 1, wantPerPage: 10},
		{name: "context default", pg: Pagination{}, ctx: Context{DefaultPerPage: 25}, wantPage: 1, wantPerPage: 25},
		{name: "fallback default", pg: Pagination{}, wantPage: 1, wantPerPage: 30},
		{name: "context cap", pg: Pagination{PerPage: 900}, ctx: Context{MaxPerPage: 500}, wantPage: 1, wantPerPage: 500},
		{name: "schema cap wins", pg: Pagination{PerPage: 900}, schemaMax: 50, ctx: Context{MaxPerPage: 500}, wantPage: 1, wantPerPage: 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, perPage := window(tt.pg, Schema{MaxPerPage: tt.schemaMax}, tt.ctx)
			assert.Equal(t, tt.wantPage, page)
			assert.Equal(t, tt.wantPerPage, perPage)
		})
	}
}

func TestLastPage(t *testing.T) {
	assert.Equal(t, 0, lastPage(0, 10))
	assert.Equal(t, 1, lastPage(10, 10))
	assert.Equal(t, 2, lastPage(11, 10))
}

func TestParseDate(t *testing.T) {
	d, dateOnly, err := parseDate("2024-03-05", time.UTC)
	require.NoError(t, err)
	assert.True(t, dateOnly)
	assert.Equal(t, day("2024-03-05T00:00:00Z"), d)

	d, dateOnly, err = parseDate("2024-03-05T10:00:00+02:00", time.UTC)
	require.NoError(t, err)
	assert.False(t, dateOnly)
	assert.True(t, d.Equal(day("2024-03-05T08:00:00Z")))

	_, _, err = parseDate("yesterday", time.UTC)
	assert.Error(t, err)
}
