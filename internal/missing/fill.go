package missing

import (
	"sort"

	"eda/internal/table"
)

// Fill computes the replacement for the null cells of one column. It sees
// the column before any cell is replaced.
type Fill interface {
	value(c *table.Column) (any, error)
}

type constFill struct{ v any }

func (f constFill) value(*table.Column) (any, error) { return table.Normalize(f.v), nil }

// Value fills with a constant.
func Value(v any) Fill { return constFill{v: v} }

type statFill struct {
	name string
	fn   func([]float64) float64
}

func (f statFill) value(c *table.Column) (any, error) {
	fs, valid, err := c.Floats()
	if err != nil {
		return nil, &table.Error{Op: "fillna " + f.name, Label: c.Name(), Err: err}
	}
	var present []float64
	for i, ok := range valid {
		if ok {
			present = append(present, fs[i])
		}
	}
	if len(present) == 0 {
		return nil, nil
	}
	return f.fn(present), nil
}

// Mean fills with the mean of the non-null cells.
func Mean() Fill {
	return statFill{name: "mean", fn: func(fs []float64) float64 {
		s := 0.0
		for _, f := range fs {
			s += f
		}
		return s / float64(len(fs))
	}}
}

// Median fills with the median of the non-null cells.
func Median() Fill {
	return statFill{name: "median", fn: func(fs []float64) float64 {
		sort.Float64s(fs)
		n := len(fs)
		if n%2 == 1 {
			return fs[n/2]
		}
		return (fs[n/2-1] + fs[n/2]) / 2
	}}
}

type funcFill struct {
	fn func(c *table.Column) (any, error)
}

func (f funcFill) value(c *table.Column) (any, error) {
	v, err := f.fn(c)
	if err != nil {
		return nil, err
	}
	return table.Normalize(v), nil
}

// Func fills with the value fn derives from the unfilled column.
func Func(fn func(c *table.Column) (any, error)) Fill { return funcFill{fn: fn} }

// FillNA replaces the null cells of the labelled column. A statistic over an
// all-null column leaves the column unchanged.
func FillNA(t *table.Table, label string, f Fill) (*table.Table, error) {
	c, err := t.Column(label)
	if err != nil {
		return nil, err
	}
	v, err := f.value(c)
	if err != nil {
		return nil, err
	}
	if v == nil || c.NullCount() == 0 {
		return t, nil
	}
	vals := c.Values()
	for i, cell := range vals {
		if cell == nil {
			vals[i] = v
		}
	}
	return t.WithColumn(table.NewColumn(label, vals))
}
