package transformer

import (
	"context"
	"sort"

	"eda/internal/table"
)

// Collect drains in into a table with one column per entry of columns.
// Rows are ordered by Line, so parallel stages upstream may reorder them
// freely; rows with equal Line keep arrival order. Rows are freed as they
// are copied. Collect returns ctx.Err() if the context ends before in is
// closed; the channel is still drained so the producers can exit.
func Collect(ctx context.Context, columns []string, in <-chan *Row) (*table.Table, error) {
	type rec struct {
		line int
		v    []any
	}
	var recs []rec
	for r := range in {
		if ctx.Err() != nil {
			r.Drop()
			continue
		}
		v := make([]any, len(columns))
		copy(v, r.V)
		recs = append(recs, rec{line: r.Line, v: v})
		r.Free()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].line < recs[j].line })

	cols := make([]*table.Column, len(columns))
	for i, name := range columns {
		cells := make([]any, len(recs))
		for j := range recs {
			cells[j] = recs[j].v[i]
		}
		cols[i] = table.NewColumn(name, cells)
	}
	return table.New(cols...)
}

// Emit streams the rows of t on out in order. It stops early when ctx ends.
func Emit(ctx context.Context, t *table.Table, out chan<- *Row) error {
	for i := 0; i < t.Len(); i++ {
		r := GetRow(t.NumColumns())
		for j := 0; j < t.NumColumns(); j++ {
			r.V[j] = t.ColumnAt(j).Value(i)
		}
		r.Line = i + 1
		select {
		case out <- r:
		case <-ctx.Done():
			r.Drop()
			return ctx.Err()
		}
	}
	return nil
}

// StreamRecords emits already materialized string records, as produced by
// the HTML and XLSX readers, the way the CSV parser would: one pooled row
// per record, padded or cut to width, empty cells nil. Line is the 1-based
// record number plus offset.
func StreamRecords(ctx context.Context, records [][]string, width, offset int, out chan<- *Row) error {
	for i, rec := range records {
		r := GetRow(width)
		for j := 0; j < width && j < len(rec); j++ {
			if rec[j] != "" {
				r.V[j] = rec[j]
			}
		}
		r.Line = offset + i + 1
		select {
		case out <- r:
		case <-ctx.Done():
			r.Drop()
			return ctx.Err()
		}
	}
	return nil
}
