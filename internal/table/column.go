package table

// Column is an immutable named sequence of cells of one Kind. Columns are
// shared freely between tables; no operation mutates one after construction.
type Column struct {
	name string
	kind Kind
	vals []any
}

// NewColumn builds a column, normalizing every value and inferring its kind.
// The input slice is copied.
func NewColumn(name string, vals []any) *Column {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = Normalize(v)
	}
	return newInferred(name, out)
}

// Col is shorthand for NewColumn with variadic values.
func Col(name string, vals ...any) *Column { return NewColumn(name, vals) }

// NewTypedColumn builds a column of kind k, converting each value. A value
// that cannot be converted is an ErrTypeMismatch.
func NewTypedColumn(name string, k Kind, vals []any) (*Column, error) {
	out := make([]any, len(vals))
	for i, v := range vals {
		cv, err := Convert(Normalize(v), k)
		if err != nil {
			return nil, &Error{Op: "column", Label: name, Err: err}
		}
		out[i] = cv
	}
	return &Column{name: name, kind: k, vals: out}, nil
}

// Nulls returns a column of n null cells.
func Nulls(name string, k Kind, n int) *Column {
	return &Column{name: name, kind: k, vals: make([]any, n)}
}

// Repeat returns a column holding v n times.
func Repeat(name string, v any, n int) *Column {
	v = Normalize(v)
	vals := make([]any, n)
	for i := range vals {
		vals[i] = v
	}
	k, _ := KindOf(v)
	return &Column{name: name, kind: k, vals: vals}
}

// Range returns an Int column 0..n-1, the values of a positional index.
func Range(name string, n int) *Column {
	vals := make([]any, n)
	for i := range vals {
		vals[i] = int64(i)
	}
	return &Column{name: name, kind: Int, vals: vals}
}

// newInferred takes ownership of already-normalized vals. Mixed Int/Float
// columns are widened to Float so arithmetic sees one representation.
func newInferred(name string, vals []any) *Column {
	k := InferKind(vals)
	if k == Float {
		for i, v := range vals {
			if n, ok := v.(int64); ok {
				vals[i] = float64(n)
			}
		}
	}
	return &Column{name: name, kind: k, vals: vals}
}

func (c *Column) Name() string { return c.name }
func (c *Column) Kind() Kind   { return c.kind }
func (c *Column) Len() int     { return len(c.vals) }

// Value returns the cell at row i; nil means null.
func (c *Column) Value(i int) any { return c.vals[i] }

// IsNull reports whether row i is null.
func (c *Column) IsNull(i int) bool { return c.vals[i] == nil }

// Values returns a copy of the cells.
func (c *Column) Values() []any {
	return append([]any(nil), c.vals...)
}

// NullCount returns the number of null cells.
func (c *Column) NullCount() int {
	n := 0
	for _, v := range c.vals {
		if v == nil {
			n++
		}
	}
	return n
}

// NonNull returns the non-null cells in row order.
func (c *Column) NonNull() []any {
	out := make([]any, 0, len(c.vals))
	for _, v := range c.vals {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

// Rename returns the same cells under a new label.
func (c *Column) Rename(name string) *Column {
	if name == c.name {
		return c
	}
	return &Column{name: name, kind: c.kind, vals: c.vals}
}

// Take gathers rows by position. A negative position yields a null cell,
// which is how joins and alignments pad missing rows.
func (c *Column) Take(rows []int) *Column {
	vals := make([]any, len(rows))
	for i, r := range rows {
		if r >= 0 {
			vals[i] = c.vals[r]
		}
	}
	return &Column{name: c.name, kind: c.kind, vals: vals}
}

// Append concatenates columns under c's label. Kinds are re-inferred.
func (c *Column) Append(others ...*Column) *Column {
	n := len(c.vals)
	for _, o := range others {
		n += len(o.vals)
	}
	vals := make([]any, 0, n)
	vals = append(vals, c.vals...)
	for _, o := range others {
		vals = append(vals, o.vals...)
	}
	return newInferred(c.name, vals)
}

// Cast converts every cell to kind k.
func (c *Column) Cast(k Kind) (*Column, error) {
	if k == c.kind {
		return c, nil
	}
	return NewTypedColumn(c.name, k, c.vals)
}

// Floats returns the numeric view of the column. valid[i] is false for
// nulls. A non-numeric cell is an ErrTypeMismatch.
func (c *Column) Floats() (vals []float64, valid []bool, err error) {
	vals = make([]float64, len(c.vals))
	valid = make([]bool, len(c.vals))
	for i, v := range c.vals {
		if v == nil {
			continue
		}
		f, ok := ToFloat(v)
		if !ok {
			return nil, nil, Errorf("floats", c.name, ErrTypeMismatch, "value %v is %s", v, c.kind)
		}
		vals[i], valid[i] = f, true
	}
	return vals, valid, nil
}

// Unique returns the distinct cells in first-seen order. Null is included
// once if present.
func (c *Column) Unique() []any {
	seen := make(map[string]struct{}, len(c.vals))
	out := make([]any, 0)
	for _, v := range c.vals {
		k := Key(v)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Map applies fn to every non-null cell; null passes through unchanged.
// The result kind is inferred from the returned values.
func (c *Column) Map(fn func(v any) any) *Column {
	vals := make([]any, len(c.vals))
	for i, v := range c.vals {
		if v == nil {
			continue
		}
		vals[i] = Normalize(fn(v))
	}
	return newInferred(c.name, vals)
}

// MapErr is Map for functions that can fail; the first error stops it.
func (c *Column) MapErr(fn func(v any) (any, error)) (*Column, error) {
	vals := make([]any, len(c.vals))
	for i, v := range c.vals {
		if v == nil {
			continue
		}
		out, err := fn(v)
		if err != nil {
			return nil, &Error{Op: "map", Label: c.name, Err: err}
		}
		vals[i] = Normalize(out)
	}
	return newInferred(c.name, vals), nil
}

// Equal reports whether two columns hold equal cells under the same label.
func (c *Column) Equal(o *Column) bool {
	if c.name != o.name || len(c.vals) != len(o.vals) {
		return false
	}
	for i := range c.vals {
		if !Equal(c.vals[i], o.vals[i]) {
			return false
		}
	}
	return true
}
