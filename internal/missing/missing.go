// Package missing finds, drops and fills null cells and duplicate rows.
package missing

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"eda/internal/table"
)

// NullCount is the number of null cells in one column.
type NullCount struct {
	Column string
	Nulls  int
}

// CountNulls reports the null count of every column in column order.
func CountNulls(t *table.Table) []NullCount {
	out := make([]NullCount, t.NumColumns())
	for i, c := range t.Columns() {
		out[i] = NullCount{Column: c.Name(), Nulls: c.NullCount()}
	}
	return out
}

// NullMask returns the bitmap of row positions holding null for every
// column, in column order.
func NullMask(t *table.Table) []*roaring.Bitmap {
	out := make([]*roaring.Bitmap, t.NumColumns())
	for j, c := range t.Columns() {
		bm := roaring.New()
		for i := 0; i < c.Len(); i++ {
			if c.IsNull(i) {
				bm.Add(uint32(i))
			}
		}
		out[j] = bm
	}
	return out
}

// RowsWithNulls returns the positions of rows holding at least one null in
// any of the labelled columns (every column when none are given).
func RowsWithNulls(t *table.Table, labels ...string) (*roaring.Bitmap, error) {
	cols, err := subset(t, labels)
	if err != nil {
		return nil, err
	}
	bm := roaring.New()
	for _, c := range cols {
		for i := 0; i < c.Len(); i++ {
			if c.IsNull(i) {
				bm.Add(uint32(i))
			}
		}
	}
	return bm, nil
}

// DropRows removes the rows for which drop returns true. drop receives the
// row position and its data cells.
func DropRows(t *table.Table, drop func(i int, row []any) bool) (*table.Table, error) {
	keep := make([]bool, t.Len())
	for i := range keep {
		keep[i] = !drop(i, t.Row(i))
	}
	return t.Filter(keep)
}

// DropColumns removes the labelled columns. An unknown label is an error.
func DropColumns(t *table.Table, labels ...string) (*table.Table, error) {
	return t.Drop(labels...)
}

// DropColumnsBelowThreshold keeps only the columns with at least minNonNull
// non-null cells. Columns sharing a label are judged one by one.
func DropColumnsBelowThreshold(t *table.Table, minNonNull int) (*table.Table, error) {
	keep := make([]int, 0, t.NumColumns())
	for j, c := range t.Columns() {
		if c.Len()-c.NullCount() >= minNonNull {
			keep = append(keep, j)
		}
	}
	if len(keep) == t.NumColumns() {
		return t, nil
	}
	return t.SelectAt(keep...), nil
}

// How selects which rows DropNA removes.
type How string

const (
	// Any drops a row holding a null in any considered column.
	Any How = "any"
	// All drops a row only when every considered column is null.
	All How = "all"
)

// DropNAOptions controls DropNA.
type DropNAOptions struct {
	How How
	// Subset restricts the considered columns. Empty means every column.
	Subset []string
	// Thresh, when positive, keeps rows with at least Thresh non-null
	// considered cells and overrides How.
	Thresh int
}

// DropNA removes rows with missing values.
func DropNA(t *table.Table, opts DropNAOptions) (*table.Table, error) {
	how := opts.How
	if how == "" {
		how = Any
	}
	if how != Any && how != All {
		return nil, fmt.Errorf("dropna: unknown how %q", how)
	}
	cols, err := subset(t, opts.Subset)
	if err != nil {
		return nil, err
	}

	keep := make([]bool, t.Len())
	for i := range keep {
		nonNull := 0
		for _, c := range cols {
			if !c.IsNull(i) {
				nonNull++
			}
		}
		switch {
		case opts.Thresh > 0:
			keep[i] = nonNull >= opts.Thresh
		case how == All:
			keep[i] = len(cols) == 0 || nonNull > 0
		default:
			keep[i] = nonNull == len(cols)
		}
	}
	return t.Filter(keep)
}

func subset(t *table.Table, labels []string) ([]*table.Column, error) {
	if len(labels) == 0 {
		return t.Columns(), nil
	}
	out := make([]*table.Column, len(labels))
	for i, l := range labels {
		c, err := t.Key(l)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}
