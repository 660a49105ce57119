package reshape

import (
	"eda/internal/table"
)

// MeltSpec describes a wide-to-long reshape.
type MeltSpec struct {
	// IDs are carried unchanged onto every output row.
	IDs []string
	// Values are unpivoted. Empty means every column not in IDs.
	Values []string
	// VarName labels the column holding the source column label. Defaults to
	// "variable".
	VarName string
	// ValueName labels the column holding the cell. Defaults to "value".
	ValueName string
}

// Melt turns every (row, value column) pair of t into one output row. Rows
// are emitted value column by value column, source order within each, so the
// result has exactly t.Len()*len(Values) rows and a positional index.
func Melt(t *table.Table, spec MeltSpec) (*table.Table, error) {
	varName := spec.VarName
	if varName == "" {
		varName = "variable"
	}
	valueName := spec.ValueName
	if valueName == "" {
		valueName = "value"
	}

	ids, err := t.Lookup(spec.IDs...)
	if err != nil {
		return nil, err
	}
	values := spec.Values
	if len(values) == 0 {
		isID := make(map[string]bool, len(spec.IDs))
		for _, l := range spec.IDs {
			isID[l] = true
		}
		for _, l := range t.Labels() {
			if !isID[l] {
				values = append(values, l)
			}
		}
	}
	valCols, err := t.Lookup(values...)
	if err != nil {
		return nil, err
	}
	for _, l := range []string{varName, valueName} {
		for _, id := range spec.IDs {
			if id == l {
				return nil, table.Errorf("melt", l, table.ErrAmbiguousKey, "output label collides with an id column")
			}
		}
	}

	n := t.Len()
	rows := make([]int, 0, n*len(valCols))
	for range valCols {
		for r := 0; r < n; r++ {
			rows = append(rows, r)
		}
	}

	out := make([]*table.Column, 0, len(ids)+2)
	for _, c := range ids {
		out = append(out, c.Take(rows))
	}
	labels := make([]any, 0, len(rows))
	cells := make([]any, 0, len(rows))
	for _, c := range valCols {
		for r := 0; r < n; r++ {
			labels = append(labels, c.Name())
			cells = append(cells, c.Value(r))
		}
	}
	out = append(out, table.NewColumn(varName, labels), table.NewColumn(valueName, cells))
	return table.New(out...)
}
