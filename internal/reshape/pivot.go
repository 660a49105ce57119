// Package reshape converts tables between wide and long layouts.
package reshape

import (
	"strings"

	"eda/internal/groupby"
	"eda/internal/table"
)

// DefaultMarginsName labels the synthetic margins row and column.
const DefaultMarginsName = "All"

// PivotSpec describes a pivot table.
type PivotSpec struct {
	// Index labels become the row index of the result.
	Index []string
	// Values are aggregated. Empty means every numeric column not used as a
	// key.
	Values []string
	// Columns, when set, spread one result column per distinct key.
	Columns []string
	// Aggs defaults to groupby.Mean. With more than one function every
	// result column is suffixed with the function name.
	Aggs []groupby.Func
	// Margins appends a row (and, with Columns, a column) aggregating the
	// entire ungrouped value set.
	Margins     bool
	MarginsName string
}

// Pivot groups t by spec.Index (and spec.Columns) and aggregates the value
// columns. Rows are sorted by index key. Rows with a null key are left out.
func Pivot(t *table.Table, spec PivotSpec) (*table.Table, error) {
	if len(spec.Index) == 0 {
		return nil, table.Errorf("pivot", "", table.ErrAmbiguousKey, "no index columns")
	}
	aggs := spec.Aggs
	if len(aggs) == 0 {
		aggs = []groupby.Func{groupby.Mean}
	}
	margins := spec.MarginsName
	if margins == "" {
		margins = DefaultMarginsName
	}

	values, err := pivotValues(t, spec)
	if err != nil {
		return nil, err
	}
	if t, err = dropNullKeys(t, append(append([]string(nil), spec.Index...), spec.Columns...)); err != nil {
		return nil, err
	}

	rows, err := groupby.By(t, spec.Index...)
	if err != nil {
		return nil, err
	}
	rows = rows.Sorted()

	if len(spec.Columns) == 0 {
		return pivotFlat(t, rows, values, aggs, spec.Margins, margins)
	}
	return pivotSpread(t, rows, values, spec, aggs, margins)
}

func pivotValues(t *table.Table, spec PivotSpec) ([]string, error) {
	if len(spec.Values) > 0 {
		if _, err := t.Lookup(spec.Values...); err != nil {
			return nil, err
		}
		return spec.Values, nil
	}
	used := make(map[string]bool)
	for _, l := range append(append([]string(nil), spec.Index...), spec.Columns...) {
		used[l] = true
	}
	var out []string
	for _, c := range t.Columns() {
		if !used[c.Name()] && c.Kind().Numeric() {
			out = append(out, c.Name())
		}
	}
	if len(out) == 0 {
		return nil, table.Errorf("pivot", "", table.ErrTypeMismatch, "no numeric value columns")
	}
	return out, nil
}

func dropNullKeys(t *table.Table, labels []string) (*table.Table, error) {
	keep := make([]bool, t.Len())
	for i := range keep {
		keep[i] = true
	}
	for _, l := range labels {
		c, err := t.Key(l)
		if err != nil {
			return nil, err
		}
		for i := range keep {
			if c.IsNull(i) {
				keep[i] = false
			}
		}
	}
	return t.Filter(keep)
}

// pivotFlat aggregates each value column per index group, one result
// column per (value, function) pair.
func pivotFlat(t *table.Table, rows *groupby.Grouping, values []string, aggs []groupby.Func, withMargins bool, margins string) (*table.Table, error) {
	out, err := groupby.Aggregate(rows, values, aggs...)
	if err != nil {
		return nil, err
	}
	if !withMargins {
		return out, nil
	}

	cells := make([]any, 0, len(values)*len(aggs))
	for _, v := range values {
		c, err := t.Column(v)
		if err != nil {
			return nil, err
		}
		for _, agg := range aggs {
			cv, err := agg.Fn(c.Values())
			if err != nil {
				return nil, &table.Error{Op: "pivot margins " + agg.Name, Label: v, Err: err}
			}
			cells = append(cells, cv)
		}
	}
	return appendMarginRow(out, cells, margins)
}

// pivotSpread aggregates per (index key, column key) and lays column keys
// out as result columns.
func pivotSpread(t *table.Table, rows *groupby.Grouping, values []string, spec PivotSpec, aggs []groupby.Func, margins string) (*table.Table, error) {
	colGroups, err := groupby.By(t, spec.Columns...)
	if err != nil {
		return nil, err
	}
	colGroups = colGroups.Sorted()
	colKeys := colGroups.Groups()

	keyCols := make([]*table.Column, len(spec.Columns))
	for i, l := range spec.Columns {
		if keyCols[i], err = t.Key(l); err != nil {
			return nil, err
		}
	}
	colOf := func(r int) string {
		tuple := make([]any, len(keyCols))
		for i, c := range keyCols {
			tuple[i] = c.Value(r)
		}
		return table.Key(tuple...)
	}
	colPos := make(map[string]int, len(colKeys))
	for i, ck := range colKeys {
		colPos[table.Key(ck.Key...)] = i
	}

	rowGroups := rows.Groups()
	label := func(agg groupby.Func, v string, key []any) string {
		var prefix []string
		if len(aggs) > 1 {
			prefix = append(prefix, agg.Name)
		}
		if len(values) > 1 {
			prefix = append(prefix, v)
		}
		return spreadLabel(prefix, key)
	}
	var out []*table.Column
	for _, agg := range aggs {
		for _, v := range values {
			src, err := t.Column(v)
			if err != nil {
				return nil, err
			}
			// buckets[c][r] collects the values of row group r in column group c.
			buckets := make([][][]any, len(colKeys))
			for c := range buckets {
				buckets[c] = make([][]any, len(rowGroups))
			}
			for r, rg := range rowGroups {
				for _, row := range rg.Rows {
					c := colPos[colOf(row)]
					buckets[c][r] = append(buckets[c][r], src.Value(row))
				}
			}
			for c, ck := range colKeys {
				vals := make([]any, len(rowGroups))
				for r := range rowGroups {
					if len(buckets[c][r]) == 0 {
						continue
					}
					if vals[r], err = agg.Fn(buckets[c][r]); err != nil {
						return nil, &table.Error{Op: "pivot " + agg.Name, Label: v, Err: err}
					}
				}
				out = append(out, table.NewColumn(label(agg, v, ck.Key), vals))
			}
			if spec.Margins {
				vals := make([]any, len(rowGroups))
				for r, rg := range rowGroups {
					if vals[r], err = agg.Fn(src.Take(rg.Rows).Values()); err != nil {
						return nil, &table.Error{Op: "pivot margins " + agg.Name, Label: v, Err: err}
					}
				}
				out = append(out, table.NewColumn(label(agg, v, []any{margins}), vals))
			}
		}
	}

	res, err := table.New(out...)
	if err != nil {
		return nil, err
	}
	if res, err = res.WithIndex(rows.KeyLevels()...); err != nil {
		return nil, err
	}
	if !spec.Margins {
		return res, nil
	}

	// Margin row: per column key over all index groups, then the corner.
	var cells []any
	for _, agg := range aggs {
		for _, v := range values {
			src, _ := t.Column(v)
			for _, ck := range colKeys {
				cv, err := agg.Fn(src.Take(ck.Rows).Values())
				if err != nil {
					return nil, &table.Error{Op: "pivot margins " + agg.Name, Label: v, Err: err}
				}
				cells = append(cells, cv)
			}
			cv, err := agg.Fn(src.Values())
			if err != nil {
				return nil, &table.Error{Op: "pivot margins " + agg.Name, Label: v, Err: err}
			}
			cells = append(cells, cv)
		}
	}
	return appendMarginRow(res, cells, margins)
}

func spreadLabel(prefix []string, key []any) string {
	parts := append([]string(nil), prefix...)
	for _, k := range key {
		parts = append(parts, table.Format(k))
	}
	return strings.Join(parts, "_")
}

// appendMarginRow adds one row labelled margins in the first index level
// and "" in the others.
func appendMarginRow(t *table.Table, cells []any, margins string) (*table.Table, error) {
	cols := t.Columns()
	for i, c := range cols {
		cols[i] = c.Append(table.Col(c.Name(), cells[i]))
	}
	idx := t.Index()
	for i, l := range idx {
		label := any("")
		if i == 0 {
			label = margins
		}
		idx[i] = l.Append(table.Col(l.Name(), label))
	}
	out, err := table.New(cols...)
	if err != nil {
		return nil, err
	}
	return out.WithIndex(idx...)
}
