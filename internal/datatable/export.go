package datatable

import (
	"context"
	"encoding/csv"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	dErrors "backoffice/pkg/domain-errors"
)

const defaultExportName = "export"

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// collect streams every row matching input through emit in batches. Pagination
// in input is ignored; sorting and filters apply as for a listing.
func collect[R any](ctx context.Context, e *Engine, t Table[R], input Input, dctx Context, emit func([]R) error) (int, error) {
	p, err := e.plan(ctx, t.ScopeKey(), t.FilterRows(), t.Schema(), input, dctx)
	if err != nil {
		return 0, err
	}
	q, err := selectRows(ctx, e, t, input, dctx, p)
	if err != nil {
		return 0, err
	}
	q = applySort(q, p.sort)

	total := 0
	for offset := 0; ; offset += e.exportBatch {
		if err := ctx.Err(); err != nil {
			return total, dErrors.Upstream(err, "export cancelled")
		}
		rows, err := q.Fetch(ctx, offset, e.exportBatch)
		if err != nil {
			return total, dErrors.Upstream(err, "record store query failed")
		}
		if len(rows) == 0 {
			break
		}
		if err := emit(rows); err != nil {
			return total, err
		}
		total += len(rows)
		if len(rows) < e.exportBatch {
			break
		}
	}
	return total, nil
}

// writeCSV renders the export columns of t as CSV: one header line, then one
// line per row in query order.
func writeCSV[R any](ctx context.Context, e *Engine, t Table[R], input Input, dctx Context, w io.Writer) (int, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "datatable.export", trace.WithAttributes(
		attribute.String("datatable.scope_key", t.ScopeKey()),
	))
	defer span.End()

	cols := t.ExportColumns()
	cw := csv.NewWriter(w)
	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.Header
	}
	if err := cw.Write(header); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to render export")
	}

	n, err := collect(ctx, e, t, input, dctx, func(rows []R) error {
		record := make([]string, len(cols))
		for _, r := range rows {
			for i, c := range cols {
				record[i] = neutralizeFormula(c.Value(r))
			}
			if err := cw.Write(record); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to render export")
			}
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		span.RecordError(err)
		return n, err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, dErrors.Wrap(err, dErrors.CodeInternal, "failed to render export")
	}
	e.metrics.ObserveExport(t.ScopeKey(), start, n)
	span.SetAttributes(attribute.Int("datatable.rows", n))
	return n, nil
}

// neutralizeFormula prefixes cells that spreadsheet software would evaluate.
func neutralizeFormula(v string) string {
	if v == "" {
		return v
	}
	switch v[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + v
	}
	return v
}

// ExportFileName picks the artifact name: the first non-empty candidate,
// stripped of directories and unsafe characters, with a .csv extension.
func ExportFileName(candidates ...string) string {
	name := ""
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			name = c
			break
		}
	}
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.TrimSuffix(name, path.Ext(name))
	name = strings.Trim(unsafeFileChars.ReplaceAllString(name, "_"), "._-")
	if name == "" {
		name = defaultExportName
	}
	return name + ".csv"
}
