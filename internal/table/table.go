// Package table defines the in-memory tabular value every stage of the
// pipeline exchanges: ordered named columns of equal length plus an optional
// multi-level row index.
//
// Tables are values. Every operation returns a new *Table and leaves its
// inputs untouched; columns are immutable and shared between results.
package table

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
)

// Table is an ordered set of columns of equal length. Labels are usually
// unique, but a horizontal concat may produce duplicates; referencing a
// duplicated label is an ErrAmbiguousKey.
//
// The row index is a list of levels. With no levels a row is labelled by its
// position.
type Table struct {
	cols  []*Column
	index []*Column
	nrows int
}

// New builds a table from columns. All columns must have equal length.
func New(cols ...*Column) (*Table, error) {
	n := 0
	if len(cols) > 0 {
		n = cols[0].Len()
	}
	for _, c := range cols {
		if c.Len() != n {
			return nil, Errorf("new", c.Name(), ErrShapeMismatch, "length %d, want %d", c.Len(), n)
		}
	}
	return &Table{cols: append([]*Column(nil), cols...), nrows: n}, nil
}

// MustNew is New for literals in tests and fixtures. It panics on error.
func MustNew(cols ...*Column) *Table {
	t, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return t
}

// FromRows builds a table from row-major cells under labels.
func FromRows(labels []string, rows [][]any) (*Table, error) {
	cols := make([]*Column, len(labels))
	for j, l := range labels {
		vals := make([]any, len(rows))
		for i, r := range rows {
			if len(r) != len(labels) {
				return nil, Errorf("from_rows", "", ErrShapeMismatch, "row %d has %d cells, want %d", i, len(r), len(labels))
			}
			vals[i] = r[j]
		}
		cols[j] = NewColumn(l, vals)
	}
	t, err := New(cols...)
	if err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		t.nrows = len(rows)
	}
	return t, nil
}

func (t *Table) Len() int        { return t.nrows }
func (t *Table) NumColumns() int { return len(t.cols) }

// Columns returns the data columns in order.
func (t *Table) Columns() []*Column { return append([]*Column(nil), t.cols...) }

// ColumnAt returns the data column at position i.
func (t *Table) ColumnAt(i int) *Column { return t.cols[i] }

// Labels returns the data column labels in order.
func (t *Table) Labels() []string {
	out := make([]string, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.Name()
	}
	return out
}

// Has reports whether label names exactly one data column.
func (t *Table) Has(label string) bool {
	_, err := t.position(label)
	return err == nil
}

func (t *Table) position(label string) (int, error) {
	pos := -1
	for i, c := range t.cols {
		if c.Name() != label {
			continue
		}
		if pos >= 0 {
			return -1, Errorf("lookup", label, ErrAmbiguousKey, "label occurs more than once")
		}
		pos = i
	}
	if pos < 0 {
		return -1, &Error{Op: "lookup", Label: label, Err: ErrUnknownColumn}
	}
	return pos, nil
}

// Column resolves a label against the data columns.
func (t *Table) Column(label string) (*Column, error) {
	i, err := t.position(label)
	if err != nil {
		return nil, err
	}
	return t.cols[i], nil
}

// Key resolves a label against the data columns first and then the index
// levels, the lookup order used by grouping and joining.
func (t *Table) Key(label string) (*Column, error) {
	c, err := t.Column(label)
	if err == nil {
		return c, nil
	}
	for _, lvl := range t.index {
		if lvl.Name() == label {
			return lvl, nil
		}
	}
	return nil, err
}

// Lookup resolves several labels at once.
func (t *Table) Lookup(labels ...string) ([]*Column, error) {
	out := make([]*Column, len(labels))
	for i, l := range labels {
		c, err := t.Column(l)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// Select keeps the given columns in the given order.
func (t *Table) Select(labels ...string) (*Table, error) {
	cols, err := t.Lookup(labels...)
	if err != nil {
		return nil, err
	}
	return t.derive(cols), nil
}

// SelectAt keeps the columns at the given positions, in that order. It
// tells apart columns that share a label.
func (t *Table) SelectAt(positions ...int) *Table {
	cols := make([]*Column, len(positions))
	for i, p := range positions {
		cols[i] = t.cols[p]
	}
	return t.derive(cols)
}

// Drop removes the given columns. Every label must exist. A duplicated label
// removes every column carrying it.
func (t *Table) Drop(labels ...string) (*Table, error) {
	drop := make(map[string]bool, len(labels))
	for _, l := range labels {
		found := false
		for _, c := range t.cols {
			if c.Name() == l {
				found = true
				break
			}
		}
		if !found {
			return nil, &Error{Op: "drop", Label: l, Err: ErrUnknownColumn}
		}
		drop[l] = true
	}
	kept := make([]*Column, 0, len(t.cols))
	for _, c := range t.cols {
		if !drop[c.Name()] {
			kept = append(kept, c)
		}
	}
	return t.derive(kept), nil
}

// WithColumn replaces the column carrying c's label, or appends c when the
// label is new.
func (t *Table) WithColumn(c *Column) (*Table, error) {
	if c.Len() != t.nrows && len(t.cols) > 0 {
		return nil, Errorf("with_column", c.Name(), ErrShapeMismatch, "length %d, want %d", c.Len(), t.nrows)
	}
	cols := append([]*Column(nil), t.cols...)
	i, err := t.position(c.Name())
	switch {
	case err == nil:
		cols[i] = c
	case isKind(err, ErrUnknownColumn):
		cols = append(cols, c)
	default:
		return nil, err
	}
	out := t.derive(cols)
	if len(t.cols) == 0 && len(t.index) == 0 {
		out.nrows = c.Len()
	}
	return out, nil
}

// WithColumns replaces all data columns, keeping the index.
func (t *Table) WithColumns(cols ...*Column) (*Table, error) {
	for _, c := range cols {
		if c.Len() != t.nrows {
			return nil, Errorf("with_columns", c.Name(), ErrShapeMismatch, "length %d, want %d", c.Len(), t.nrows)
		}
	}
	return t.derive(append([]*Column(nil), cols...)), nil
}

// Assign sets a constant value in every row of label.
func (t *Table) Assign(label string, v any) (*Table, error) {
	return t.WithColumn(Repeat(label, v, t.nrows))
}

// RenameColumns returns the table with labels rewritten by fn. Uniqueness
// is not checked; see the normalize package for checked renames.
func (t *Table) RenameColumns(fn func(string) string) *Table {
	cols := make([]*Column, len(t.cols))
	for i, c := range t.cols {
		cols[i] = c.Rename(fn(c.Name()))
	}
	return t.derive(cols)
}

// Take gathers rows by position, index included.
func (t *Table) Take(rows []int) *Table {
	cols := make([]*Column, len(t.cols))
	for i, c := range t.cols {
		cols[i] = c.Take(rows)
	}
	var idx []*Column
	if len(t.index) > 0 {
		idx = make([]*Column, len(t.index))
		for i, c := range t.index {
			idx[i] = c.Take(rows)
		}
	} else {
		// Keep positional labels stable across row selection.
		idx = []*Column{Range("", t.nrows).Take(rows)}
	}
	return &Table{cols: cols, index: idx, nrows: len(rows)}
}

// Slice returns rows [from, to), clamped to the table.
func (t *Table) Slice(from, to int) *Table {
	if from < 0 {
		from = 0
	}
	if to > t.nrows {
		to = t.nrows
	}
	if to < from {
		to = from
	}
	rows := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		rows = append(rows, i)
	}
	return t.Take(rows)
}

// Head returns the first n rows.
func (t *Table) Head(n int) *Table { return t.Slice(0, n) }

// Filter keeps rows whose mask entry is true.
func (t *Table) Filter(mask []bool) (*Table, error) {
	if len(mask) != t.nrows {
		return nil, Errorf("filter", "", ErrShapeMismatch, "mask length %d, want %d", len(mask), t.nrows)
	}
	rows := make([]int, 0, t.nrows)
	for i, keep := range mask {
		if keep {
			rows = append(rows, i)
		}
	}
	return t.Take(rows), nil
}

// Row returns the data cells of row i.
func (t *Table) Row(i int) []any {
	out := make([]any, len(t.cols))
	for j, c := range t.cols {
		out[j] = c.Value(i)
	}
	return out
}

// Rows returns all data cells row-major.
func (t *Table) Rows() [][]any {
	out := make([][]any, t.nrows)
	for i := range out {
		out[i] = t.Row(i)
	}
	return out
}

// Index returns the index levels. An empty result means a positional index.
func (t *Table) Index() []*Column { return append([]*Column(nil), t.index...) }

// IndexNames returns the labels of the index levels.
func (t *Table) IndexNames() []string {
	out := make([]string, len(t.index))
	for i, c := range t.index {
		out[i] = c.Name()
	}
	return out
}

// RowLabel returns the index tuple of row i.
func (t *Table) RowLabel(i int) []any {
	if len(t.index) == 0 {
		return []any{int64(i)}
	}
	out := make([]any, len(t.index))
	for j, c := range t.index {
		out[j] = c.Value(i)
	}
	return out
}

// WithIndex replaces the index levels. Passing no levels restores the
// positional index.
func (t *Table) WithIndex(levels ...*Column) (*Table, error) {
	for _, l := range levels {
		if l.Len() != t.nrows {
			return nil, Errorf("with_index", l.Name(), ErrShapeMismatch, "length %d, want %d", l.Len(), t.nrows)
		}
	}
	return &Table{cols: t.cols, index: append([]*Column(nil), levels...), nrows: t.nrows}, nil
}

// SetIndex moves the given columns out of the data and into the index.
func (t *Table) SetIndex(labels ...string) (*Table, error) {
	levels, err := t.Lookup(labels...)
	if err != nil {
		return nil, err
	}
	rest, err := t.Drop(labels...)
	if err != nil {
		return nil, err
	}
	return &Table{cols: rest.cols, index: levels, nrows: t.nrows}, nil
}

// ResetIndex moves named index levels back in front of the data columns and
// restores the positional index. Unnamed levels are discarded.
func (t *Table) ResetIndex() *Table {
	cols := make([]*Column, 0, len(t.index)+len(t.cols))
	for _, l := range t.index {
		if l.Name() != "" {
			cols = append(cols, l)
		}
	}
	cols = append(cols, t.cols...)
	return &Table{cols: cols, nrows: t.nrows}
}

// SortKey orders rows by one column.
type SortKey struct {
	Label      string
	Descending bool
}

// Sort orders rows stably by the keys. Keys may name index levels. Nulls
// sort last in both directions.
func (t *Table) Sort(keys ...SortKey) (*Table, error) {
	cols := make([]*Column, len(keys))
	for i, k := range keys {
		c, err := t.Key(k.Label)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	rows := make([]int, t.nrows)
	for i := range rows {
		rows[i] = i
	}
	sort.SliceStable(rows, func(a, b int) bool {
		for i, c := range cols {
			va, vb := c.Value(rows[a]), c.Value(rows[b])
			if va == nil || vb == nil {
				if va == nil && vb == nil {
					continue
				}
				return vb == nil
			}
			cmp := Compare(va, vb)
			if cmp == 0 {
				continue
			}
			if keys[i].Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return t.Take(rows), nil
}

// Equal reports whether two tables hold the same labels, cells and index.
// Positional indexes compare equal regardless of prior row selection.
func (t *Table) Equal(o *Table) bool {
	if t.nrows != o.nrows || len(t.cols) != len(o.cols) {
		return false
	}
	for i := range t.cols {
		if !t.cols[i].Equal(o.cols[i]) {
			return false
		}
	}
	if len(t.named()) != len(o.named()) {
		return false
	}
	for i, l := range t.named() {
		if !l.Equal(o.named()[i]) {
			return false
		}
	}
	return true
}

// IsPositional reports whether rows are labelled by position only.
func (t *Table) IsPositional() bool { return len(t.named()) == 0 }

func (t *Table) named() []*Column {
	if len(t.index) == 1 && t.index[0].Name() == "" {
		return nil
	}
	return t.index
}

// String renders the table as aligned text, index first.
func (t *Table) String() string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	idx := t.named()
	hdr := make([]string, 0, len(idx)+len(t.cols))
	for _, l := range idx {
		hdr = append(hdr, l.Name())
	}
	hdr = append(hdr, t.Labels()...)
	fmt.Fprintln(w, strings.Join(hdr, "\t"))
	for i := 0; i < t.nrows; i++ {
		cells := make([]string, 0, len(hdr))
		for _, l := range idx {
			cells = append(cells, formatCell(l.Value(i)))
		}
		for _, c := range t.cols {
			cells = append(cells, formatCell(c.Value(i)))
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	_ = w.Flush()
	return b.String()
}

func formatCell(v any) string {
	if v == nil {
		return "NaN"
	}
	return Format(v)
}

// derive keeps t's index and row count with a new column list.
func (t *Table) derive(cols []*Column) *Table {
	return &Table{cols: cols, index: t.index, nrows: t.nrows}
}

func isKind(err, kind error) bool { return errors.Is(err, kind) }
