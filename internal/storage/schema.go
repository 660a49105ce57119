package storage

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"eda/internal/normalize"
	"eda/internal/table"
)

// TableSpec is the exported shape of one table: identifier-safe names plus
// the value kind of every column. Backends map kinds to SQL types.
type TableSpec struct {
	// Name may be schema-qualified ("staging.by_region").
	Name    string
	Columns []ColumnSpec
}

// Parts splits Name into its dot-separated parts.
func (s TableSpec) Parts() []string {
	return strings.Split(s.Name, ".")
}

type ColumnSpec struct {
	// Name is the identifier written to the target.
	Name string
	// Label is the column label in the table.
	Label string
	Kind  table.Kind
}

// Names returns the column identifiers in order.
func (s TableSpec) Names() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// Frame flattens t into a TableSpec and rows of driver-ready values. With
// includeIndex the index levels come first, as columns. Labels are turned
// into identifiers with normalize.FieldName; collisions get "_2", "_3", ...
func Frame(name string, t *table.Table, includeIndex bool) (TableSpec, [][]any, error) {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = normalize.FieldName(p)
		if parts[i] == "" {
			return TableSpec{}, nil, fmt.Errorf("storage: table name %q has no usable characters", name)
		}
	}
	tn := strings.Join(parts, ".")

	var cols []*table.Column
	if includeIndex {
		cols = append(cols, t.Index()...)
	}
	cols = append(cols, t.Columns()...)
	if len(cols) == 0 {
		return TableSpec{}, nil, fmt.Errorf("storage: table %q has no columns", name)
	}

	spec := TableSpec{Name: tn, Columns: make([]ColumnSpec, len(cols))}
	seen := map[string]int{}
	for i, c := range cols {
		id := normalize.FieldName(c.Name())
		if id == "" {
			id = "col_" + strconv.Itoa(i)
		}
		if n := seen[id]; n > 0 {
			seen[id] = n + 1
			id = id + "_" + strconv.Itoa(n+1)
		} else {
			seen[id] = 1
		}
		spec.Columns[i] = ColumnSpec{Name: id, Label: c.Name(), Kind: c.Kind()}
	}

	rows := make([][]any, t.Len())
	for r := range rows {
		row := make([]any, len(cols))
		for j, c := range cols {
			row[j] = Value(c.Value(r), c.Kind())
		}
		rows[r] = row
	}
	return spec, rows, nil
}

// Value converts one cell into a value every database/sql driver accepts.
// NaN and infinities become NULL; heterogeneous cells are written as text.
func Value(v any, k table.Kind) any {
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		if k == table.Any {
			return table.Format(x)
		}
		return x
	case int64, bool, string:
		if k == table.Any {
			return table.Format(x)
		}
		return x
	}
	return table.Format(v)
}

// RowsPerBatch returns how many rows of width columns fit one statement
// under maxParams bind parameters, capped by want (0 means no cap) and by
// maxRows (0 means no limit).
func RowsPerBatch(width, maxParams, maxRows, want int) int {
	n := maxParams / max(width, 1)
	if maxRows > 0 {
		n = min(n, maxRows)
	}
	if want > 0 {
		n = min(n, want)
	}
	return max(n, 1)
}
