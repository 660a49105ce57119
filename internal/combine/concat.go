// Package combine stacks, aligns and joins tables.
package combine

import (
	"fmt"

	"eda/internal/table"
)

// ConcatOptions controls Concat.
type ConcatOptions struct {
	// Axis 0 stacks rows; axis 1 places tables side by side aligned on their
	// row labels.
	Axis int
	// IgnoreIndex discards the input indexes and labels the result by
	// position.
	IgnoreIndex bool
	// Suffixes, one per input, are appended to column labels that occur in
	// more than one input on axis 1. Without them duplicates are kept.
	Suffixes []string
}

// Concat combines tables along opts.Axis.
func Concat(tables []*table.Table, opts ConcatOptions) (*table.Table, error) {
	if len(tables) == 0 {
		return table.MustNew(), nil
	}
	switch opts.Axis {
	case 0:
		return concatRows(tables, opts)
	case 1:
		return concatColumns(tables, opts)
	}
	return nil, table.Errorf("concat", "", table.ErrShapeMismatch, "axis %d, want 0 or 1", opts.Axis)
}

// concatRows stacks rows. The result has the union of the input labels in
// first-seen order; a table lacking a label contributes nulls. Rows cannot be
// stacked under a label that one input carries more than once.
func concatRows(tables []*table.Table, opts ConcatOptions) (*table.Table, error) {
	var labels []string
	seen := make(map[string]bool)
	for i, t := range tables {
		count := make(map[string]int, t.NumColumns())
		for _, l := range t.Labels() {
			if count[l]++; count[l] == 2 {
				return nil, table.Errorf("concat", l, table.ErrAmbiguousKey,
					"input %d has label %q more than once", i, l)
			}
		}
		for _, l := range t.Labels() {
			if seen[l] {
				continue
			}
			seen[l] = true
			labels = append(labels, l)
		}
	}

	cols := make([]*table.Column, len(labels))
	for j, l := range labels {
		parts := make([]*table.Column, len(tables))
		for i, t := range tables {
			if !t.Has(l) {
				parts[i] = table.Nulls(l, table.Any, t.Len())
				continue
			}
			c, err := t.Column(l)
			if err != nil {
				return nil, err
			}
			parts[i] = c
		}
		cols[j] = parts[0].Append(parts[1:]...)
	}

	out, err := table.New(cols...)
	if err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		out = emptyColumns(tables)
	}
	if opts.IgnoreIndex {
		return out, nil
	}
	idx, err := stackIndex(tables)
	if err != nil {
		return nil, err
	}
	return out.WithIndex(idx...)
}

// emptyColumns builds a column-less table whose row count is the sum of the
// inputs.
func emptyColumns(tables []*table.Table) *table.Table {
	var rows [][]any
	for _, t := range tables {
		for i := 0; i < t.Len(); i++ {
			rows = append(rows, nil)
		}
	}
	out, _ := table.FromRows(nil, rows)
	return out
}

// stackIndex appends the index levels of every table. Positional tables
// contribute their row positions.
func stackIndex(tables []*table.Table) ([]*table.Column, error) {
	levels := rowLabels(tables[0])
	for _, t := range tables[1:] {
		next := rowLabels(t)
		if len(next) != len(levels) {
			return nil, table.Errorf("concat", "", table.ErrShapeMismatch,
				"index has %d levels, want %d", len(next), len(levels))
		}
		for i := range levels {
			levels[i] = levels[i].Append(next[i])
		}
	}
	return levels, nil
}

// rowLabels returns the index levels of t, or one unnamed level holding row
// labels when t is positional.
func rowLabels(t *table.Table) []*table.Column {
	if !t.IsPositional() {
		return t.Index()
	}
	vals := make([]any, t.Len())
	for i := range vals {
		vals[i] = t.RowLabel(i)[0]
	}
	return []*table.Column{table.NewColumn("", vals)}
}

// concatColumns aligns the tables on row label. The result has the union of
// labels in first-seen order; a table missing a label contributes nulls.
func concatColumns(tables []*table.Table, opts ConcatOptions) (*table.Table, error) {
	if opts.Suffixes != nil && len(opts.Suffixes) != len(tables) {
		return nil, table.Errorf("concat", "", table.ErrShapeMismatch,
			"%d suffixes for %d tables", len(opts.Suffixes), len(tables))
	}

	nlevels := len(rowLabels(tables[0]))
	for _, t := range tables[1:] {
		if n := len(rowLabels(t)); n != nlevels {
			return nil, table.Errorf("concat", "", table.ErrShapeMismatch,
				"index has %d levels, want %d", n, nlevels)
		}
	}

	type position struct {
		label []any
		rows  []int
	}
	var (
		order []*position
		at    = make(map[string]*position)
	)
	for ti, t := range tables {
		local := make(map[string]bool, t.Len())
		for r := 0; r < t.Len(); r++ {
			label := t.RowLabel(r)
			k := table.Key(label...)
			if local[k] {
				return nil, table.Errorf("concat", fmt.Sprint(label), table.ErrShapeMismatch,
					"duplicate row label in input %d cannot be aligned", ti)
			}
			local[k] = true
			p, ok := at[k]
			if !ok {
				p = &position{label: label, rows: make([]int, len(tables))}
				for i := range p.rows {
					p.rows[i] = -1
				}
				at[k] = p
				order = append(order, p)
			}
			p.rows[ti] = r
		}
	}

	counts := make(map[string]int)
	for _, t := range tables {
		for _, l := range t.Labels() {
			counts[l]++
		}
	}

	var cols []*table.Column
	for ti, t := range tables {
		rows := make([]int, len(order))
		for i, p := range order {
			rows[i] = p.rows[ti]
		}
		for _, c := range t.Columns() {
			c = c.Take(rows)
			if opts.Suffixes != nil && counts[c.Name()] > 1 {
				c = c.Rename(c.Name() + opts.Suffixes[ti])
			}
			cols = append(cols, c)
		}
	}

	out, err := table.New(cols...)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		out, _ = table.FromRows(nil, make([][]any, len(order)))
	}
	if opts.IgnoreIndex {
		return out, nil
	}

	names := rowLabels(tables[0])
	levels := make([]*table.Column, nlevels)
	for j := range levels {
		vals := make([]any, len(order))
		for i, p := range order {
			vals[i] = p.label[j]
		}
		levels[j] = table.NewColumn(names[j].Name(), vals)
	}
	return out.WithIndex(levels...)
}
