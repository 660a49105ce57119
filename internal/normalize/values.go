package normalize

import (
	"fmt"

	"eda/internal/table"
)

// MapValues replaces cells found in mapping; other non-null cells become null
// unless keepUnmapped is set. Keys are compared in canonical form, so 1 and
// 1.0 map alike.
func MapValues(c *table.Column, mapping map[any]any, keepUnmapped bool) *table.Column {
	m := make(map[string]any, len(mapping))
	for k, v := range mapping {
		m[table.Key(table.Normalize(k))] = v
	}
	return c.Map(func(v any) any {
		if out, ok := m[table.Key(v)]; ok {
			return out
		}
		if keepUnmapped {
			return v
		}
		return nil
	})
}

// Label maps numeric cells to hi when they exceed threshold and lo
// otherwise. Null stays null.
func Label(c *table.Column, threshold float64, hi, lo any) (*table.Column, error) {
	return c.MapErr(func(v any) (any, error) {
		f, ok := table.ToFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: label %v", table.ErrTypeMismatch, v)
		}
		if f > threshold {
			return hi, nil
		}
		return lo, nil
	})
}

// MapColumns applies fn to every non-null cell of the named columns, or of
// every data column when labels is empty.
func MapColumns(t *table.Table, fn func(any) (any, error), labels ...string) (*table.Table, error) {
	if len(labels) == 0 {
		labels = t.Labels()
	}
	out := t
	for _, l := range labels {
		c, err := out.Column(l)
		if err != nil {
			return nil, err
		}
		mc, err := c.MapErr(fn)
		if err != nil {
			return nil, err
		}
		if out, err = out.WithColumn(mc); err != nil {
			return nil, err
		}
	}
	return out, nil
}
